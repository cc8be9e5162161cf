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
	"context"
	"strings"

	"github.com/claimtrie/claimtrie"
	"github.com/claimtrie/claimtrie/merkle"
)

// ProofForName builds an inclusion proof for name, carrying the outpoint and
// takeover height of its winning claim when that claim is finalID. The proof
// walks the existing ancestor nodes root-down; radix edges longer than one
// byte unroll into single-child padding levels so a verifier consumes
// exactly one name byte per level. For an absent name the proof ends at the
// deepest existing prefix.
func (c *Cache) ProofForName(ctx context.Context, name string, finalID claimtrie.ClaimID) (*merkle.Proof, error) {
	// settle structure and hashes so the ancestor walk sees the final tree
	if _, err := c.MerkleHash(ctx); err != nil {
		return nil, err
	}

	proof := &merkle.Proof{}
	err := c.q().AncestorPath(ctx, name, func(key string, takeoverHeight int32) error {
		best, hasBest, err := c.bestClaim(ctx, key, 0)
		if err != nil {
			return err
		}
		nodeHasValue := hasBest && takeoverHeight > 0
		var valueHash []byte
		if nodeHasValue {
			valueHash = merkle.ValueHash(best.OutPoint, takeoverHeight)
		}

		pos := len(key)
		children, err := c.q().ChildHashes(ctx, key)
		if err != nil {
			return err
		}
		var pairs []merkle.ProofPair
		var edge string
		for _, child := range children {
			if len(child.Name) > pos && strings.HasPrefix(name, child.Name) {
				// the child on the path; the verifier fills its hash in
				pairs = append(pairs, merkle.ProofPair{Char: child.Name[pos]})
				edge = child.Name
				continue
			}
			h := merkle.CompleteHash(child.Hash, child.Name, pos)
			pairs = append(pairs, merkle.ProofPair{Char: child.Name[pos], Hash: h})
		}

		if key == name {
			proof.HasValue = nodeHasValue && best.ID == finalID
			if proof.HasValue {
				proof.OutPoint = best.OutPoint
				proof.TakeoverHeight = takeoverHeight
			}
			// the verifier reconstructs the value hash from the outpoint
			nodeHasValue = false
			valueHash = nil
		}
		proof.Nodes = append(proof.Nodes, merkle.ProofNode{
			Children:  pairs,
			HasValue:  nodeHasValue,
			ValueHash: valueHash,
		})

		// pad out the interior bytes of a multi-byte edge
		for i := pos + 1; i < len(edge); i++ {
			proof.Nodes = append(proof.Nodes, merkle.ProofNode{
				Children: []merkle.ProofPair{{Char: edge[i]}},
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return proof, nil
}
