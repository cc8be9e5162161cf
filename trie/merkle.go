// Copyright 2024 The Claimtrie Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package trie

import (
	"bytes"
	"context"

	"k8s.io/klog/v2"

	"github.com/claimtrie/claimtrie/merkle"
	"github.com/claimtrie/claimtrie/storage"
)

// consistencySampleLimit bounds the number of nodes CheckConsistency
// rehashes. It is a spot check, not a full validation.
const consistencySampleLimit = 100000

// MerkleHash returns the root hash over all names, repairing the trie
// structure and recomputing stale node hashes first. Children hash before
// parents, so one bottom-up pass settles the whole dirty region.
func (c *Cache) MerkleHash(ctx context.Context) ([]byte, error) {
	if err := c.ensureTreeStructure(ctx); err != nil {
		return nil, err
	}

	q := c.q()
	hash, err := q.RootHash(ctx)
	if err == storage.ErrNotFound {
		klog.Fatal("the claim trie root node is missing")
	}
	if err != nil {
		return nil, err
	}
	if hash != nil {
		return hash, nil
	}
	if c.tx == nil {
		// no data changed but we didn't have the root hash there already?
		klog.Fatal("claim trie has stale hashes outside of a transaction")
	}

	var root []byte
	err = c.tx.DirtyNodesByLengthDesc(ctx, func(name string, takeoverHeight int32) error {
		h, err := c.computeNodeHash(ctx, name, takeoverHeight)
		if err != nil {
			return err
		}
		root = h
		m.nodeHashes.Inc()
		return c.tx.SetNodeHash(ctx, name, h)
	})
	if err != nil {
		return nil, err
	}
	return root, nil
}

// computeNodeHash hashes one node from its children's stored hashes and, for
// a controlled name, the value hash of its winning claim.
func (c *Cache) computeNodeHash(ctx context.Context, name string, takeoverHeight int32) ([]byte, error) {
	pos := len(name)
	var vch []byte

	children, err := c.q().ChildHashes(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		h := merkle.CompleteHash(child.Hash, child.Name, pos)
		vch = append(vch, child.Name[pos])
		vch = append(vch, h...)
	}

	if takeoverHeight > 0 {
		best, hasBest, err := c.bestClaim(ctx, name, 0)
		if err != nil {
			return nil, err
		}
		if hasBest {
			vch = append(vch, merkle.ValueHash(best.OutPoint, takeoverHeight)...)
		}
	}

	if len(vch) == 0 {
		if name != "" {
			klog.Fatalf("corrupt trie near %q", name)
		}
		return merkle.EmptyTrieHash, nil
	}
	return merkle.DoubleSHA256(vch), nil
}

// CheckConsistency runs the store's integrity check, then rehashes a random
// sample of nodes (plus every child of the root) against their stored
// hashes.
func (c *Cache) CheckConsistency(ctx context.Context) error {
	q := c.q()
	if err := q.IntegrityCheck(ctx); err != nil {
		return err
	}

	// not checking everything as it takes too long
	return q.ConsistencyRows(ctx, consistencySampleLimit, func(name string, hash []byte, takeoverHeight int32) error {
		computed, err := c.computeNodeHash(ctx, name, takeoverHeight)
		if err != nil {
			return err
		}
		if !bytes.Equal(computed, hash) {
			return &HashMismatchError{Name: name}
		}
		return nil
	})
}

// HashMismatchError reports a node whose stored hash disagrees with its
// recomputed value.
type HashMismatchError struct {
	Name string
}

func (e *HashMismatchError) Error() string {
	return "invalid hash at \"" + e.Name + "\""
}

// ValidateDB repositions the engine at height+1 and checks the store against
// the block's declared root hash. It reports false when the store is
// inconsistent or the roots disagree; on success past the all-claims fork it
// also ensures the reverse-claim-id lookup index exists.
func (c *Cache) ValidateDB(ctx context.Context, height int32, rootHash []byte) bool {
	c.nextHeight = height + 1
	c.trie.nextHeight = height + 1

	if err := c.CheckConsistency(ctx); err != nil {
		klog.Warningf("Claim trie consistency check failed: %v", err)
		return false
	}

	root, err := c.MerkleHash(ctx)
	if err != nil {
		klog.Warningf("Could not compute claim trie root: %v", err)
		return false
	}
	if !bytes.Equal(root, rootHash) {
		klog.Warning("The block's root claim hash doesn't match the persisted claim root hash.")
		return false
	}

	if c.nextHeight > c.trie.params.AllClaimsInMerkleForkHeight {
		// index not used as part of sync
		if err := c.q().EnsureReverseClaimIDIndex(ctx); err != nil {
			klog.Warningf("Could not create reverse claim id index: %v", err)
			return false
		}
	}
	return true
}
