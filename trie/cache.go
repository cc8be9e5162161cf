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
	"sort"
	"time"

	"k8s.io/klog/v2"

	"github.com/claimtrie/claimtrie"
	"github.com/claimtrie/claimtrie/storage"
)

// Cache is one writer's view of the claim trie. Reads see the last committed
// state plus this cache's own mutations; the write transaction opens lazily
// on the first mutation and is discarded unless Flush commits it.
type Cache struct {
	trie       *Trie
	nextHeight int32
	tx         storage.TrieTX
	adjust     NameAdjuster

	// names recorded by RemoveClaim inside the legacy window, consumed by
	// the delay rule; never persisted
	removalWorkaround map[string]struct{}
}

// CacheOption configures a new Cache.
type CacheOption func(*Cache)

// WithNameAdjuster installs the normalization hook used to derive the filing
// name of new claims and supports.
func WithNameAdjuster(a NameAdjuster) CacheOption {
	return func(c *Cache) { c.adjust = a }
}

// NewCache opens a view at the trie's current height.
func (t *Trie) NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		trie:              t,
		nextHeight:        t.nextHeight,
		adjust:            func(name string, _ int32) string { return name },
		removalWorkaround: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NextHeight returns the height queries on this cache interpret as "now".
func (c *Cache) NextHeight() int32 { return c.nextHeight }

// q returns the transaction when one is open, or an autocommit view of the
// committed state otherwise.
func (c *Cache) q() storage.TrieTX {
	if c.tx != nil {
		return c.tx
	}
	return c.trie.store.Reader()
}

func (c *Cache) ensureTransacting(ctx context.Context) error {
	if c.tx != nil {
		return nil
	}
	tx, err := c.trie.store.Begin(ctx)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

// Flush recomputes the Merkle root, commits the open transaction and
// publishes the cache's height to the shared trie. On commit failure the
// transaction is rolled back and the store is left at its prior state.
func (c *Cache) Flush(ctx context.Context) error {
	if c.tx != nil {
		start := time.Now()
		if _, err := c.MerkleHash(ctx); err != nil {
			return err
		}
		if err := c.tx.Commit(); err != nil {
			klog.Warningf("Error committing claim trie at height %d: %v", c.nextHeight, err)
			c.tx.Close()
			c.tx = nil
			return err
		}
		c.tx = nil
		m.flushLatency.Observe(time.Since(start).Seconds())
	}
	c.trie.nextHeight = c.nextHeight
	c.removalWorkaround = make(map[string]struct{})
	return nil
}

// Close rolls back any open transaction.
func (c *Cache) Close() error {
	if c.tx == nil {
		return nil
	}
	err := c.tx.Close()
	c.tx = nil
	return err
}

// RemovedClaim carries what an undo needs to re-add a spent claim.
type RemovedClaim struct {
	NodeName       string
	ValidHeight    int32
	OriginalHeight int32
}

// RemovedSupport carries what an undo needs to re-add a spent support.
type RemovedSupport struct {
	NodeName    string
	ValidHeight int32
}

// AddClaim inserts a claim under name. A non-positive validHeight is
// computed from the takeover-protection delay; a non-positive originalHeight
// defaults to height. The claim activates at its valid height and expires
// after the (fork-dependent) claim lifetime.
func (c *Cache) AddClaim(ctx context.Context, name string, op claimtrie.OutPoint, id claimtrie.ClaimID,
	amount int64, height, validHeight, originalHeight int32) error {

	if err := c.ensureTransacting(ctx); err != nil {
		return err
	}

	if validHeight <= 0 {
		delay, err := c.delayForName(ctx, name, id)
		if err != nil {
			return err
		}
		validHeight = height + delay
	}
	if originalHeight <= 0 {
		originalHeight = height
	}

	nodeName := c.adjust(name, validHeight)
	expires := height + c.trie.params.ExpirationTime(c.nextHeight)

	claim := &claimtrie.Claim{
		ID:               id,
		Name:             name,
		NodeName:         nodeName,
		OutPoint:         op,
		Amount:           amount,
		OriginalHeight:   originalHeight,
		UpdateHeight:     height,
		ValidHeight:      validHeight,
		ActivationHeight: validHeight,
		ExpirationHeight: expires,
	}
	if err := c.tx.InsertClaim(ctx, claim); err != nil {
		return err
	}

	if validHeight < c.nextHeight {
		return c.tx.UpsertDirtyNode(ctx, nodeName)
	}
	return nil
}

// AddSupport inserts a support for the claim with supportedID under name.
func (c *Cache) AddSupport(ctx context.Context, name string, op claimtrie.OutPoint, supportedID claimtrie.ClaimID,
	amount int64, height, validHeight int32) error {

	if err := c.ensureTransacting(ctx); err != nil {
		return err
	}

	if validHeight < 0 {
		delay, err := c.delayForName(ctx, name, supportedID)
		if err != nil {
			return err
		}
		validHeight = height + delay
	}

	nodeName := c.adjust(name, validHeight)
	expires := height + c.trie.params.ExpirationTime(c.nextHeight)

	support := &claimtrie.Support{
		SupportedID:      supportedID,
		Name:             name,
		NodeName:         nodeName,
		OutPoint:         op,
		Amount:           amount,
		BlockHeight:      height,
		ValidHeight:      validHeight,
		ActivationHeight: validHeight,
		ExpirationHeight: expires,
	}
	if err := c.tx.InsertSupport(ctx, support); err != nil {
		return err
	}

	if validHeight < c.nextHeight {
		return c.tx.MarkNodeDirty(ctx, nodeName)
	}
	return nil
}

// RemoveClaim deletes the unexpired claim with the given id at op. It
// reports ok false, with no state change, when no such claim exists.
func (c *Cache) RemoveClaim(ctx context.Context, id claimtrie.ClaimID, op claimtrie.OutPoint) (RemovedClaim, bool, error) {
	if err := c.ensureTransacting(ctx); err != nil {
		return RemovedClaim{}, false, err
	}

	nodeName, validHeight, originalHeight, err := c.tx.LookupClaim(ctx, id, op, c.nextHeight)
	if err == storage.ErrNotFound {
		return RemovedClaim{}, false, nil
	}
	if err != nil {
		return RemovedClaim{}, false, err
	}

	deleted, err := c.tx.DeleteClaim(ctx, id, op)
	if err != nil || !deleted {
		return RemovedClaim{}, false, err
	}
	if err := c.tx.MarkNodeDirty(ctx, nodeName); err != nil {
		return RemovedClaim{}, false, err
	}

	// A node that keeps branching children after losing its last claim used
	// to linger in the old cache, which zeroed the delay of a later re-add.
	// Within the legacy window we track those names to reproduce it.
	if c.nextHeight >= c.trie.params.MinRemovalWorkaroundHeight &&
		c.nextHeight < c.trie.params.MaxRemovalWorkaroundHeight {
		branching, err := c.tx.HasDistinctChildSubtrees(ctx, nodeName, c.nextHeight, 1)
		if err != nil {
			return RemovedClaim{}, false, err
		}
		if branching {
			c.removalWorkaround[nodeName] = struct{}{}
		}
	}

	return RemovedClaim{NodeName: nodeName, ValidHeight: validHeight, OriginalHeight: originalHeight}, true, nil
}

// RemoveSupport deletes the unexpired support at op. It reports ok false,
// with no state change, when no such support exists.
func (c *Cache) RemoveSupport(ctx context.Context, op claimtrie.OutPoint) (RemovedSupport, bool, error) {
	nodeName, validHeight, err := c.q().LookupSupport(ctx, op, c.nextHeight)
	if err == storage.ErrNotFound {
		return RemovedSupport{}, false, nil
	}
	if err != nil {
		return RemovedSupport{}, false, err
	}

	if err := c.ensureTransacting(ctx); err != nil {
		return RemovedSupport{}, false, err
	}
	deleted, err := c.tx.DeleteSupport(ctx, op)
	if err != nil || !deleted {
		return RemovedSupport{}, false, err
	}
	if err := c.tx.MarkNodeDirty(ctx, nodeName); err != nil {
		return RemovedSupport{}, false, err
	}
	return RemovedSupport{NodeName: nodeName, ValidHeight: validHeight}, true, nil
}

// HaveClaim reports whether a live claim sits at op under name.
func (c *Cache) HaveClaim(ctx context.Context, name string, op claimtrie.OutPoint) (bool, error) {
	return c.q().HaveClaim(ctx, name, op, c.nextHeight)
}

// HaveSupport reports whether a live support sits at op under name.
func (c *Cache) HaveSupport(ctx context.Context, name string, op claimtrie.OutPoint) (bool, error) {
	return c.q().HaveSupport(ctx, name, op, c.nextHeight)
}

// HaveClaimInQueue reports whether a claim at op under name is waiting to
// activate, and at which height it will.
func (c *Cache) HaveClaimInQueue(ctx context.Context, name string, op claimtrie.OutPoint) (int32, bool, error) {
	validAt, err := c.q().ClaimInQueue(ctx, name, op, c.nextHeight)
	if err == storage.ErrNotFound {
		return 0, false, nil
	}
	return validAt, err == nil, err
}

// HaveSupportInQueue reports whether a support at op under name is waiting
// to activate, and at which height it will.
func (c *Cache) HaveSupportInQueue(ctx context.Context, name string, op claimtrie.OutPoint) (int32, bool, error) {
	validAt, err := c.q().SupportInQueue(ctx, name, op, c.nextHeight)
	if err == storage.ErrNotFound {
		return 0, false, nil
	}
	return validAt, err == nil, err
}

// SupportsForName returns every unexpired support filed under name,
// including ones that are not active yet.
func (c *Cache) SupportsForName(ctx context.Context, name string) ([]claimtrie.Support, error) {
	return c.q().SupportsForName(ctx, name, c.nextHeight)
}

// ClaimsForName returns the full picture for a name: its takeover state and
// every unexpired claim with supports attached and effective amounts
// computed, best first.
func (c *Cache) ClaimsForName(ctx context.Context, name string) (claimtrie.NameClaims, error) {
	ret := claimtrie.NameClaims{Name: name}

	tk, err := c.q().LastTakeover(ctx, name)
	if err != nil && err != storage.ErrNotFound {
		return ret, err
	}
	ret.TakeoverHeight = tk.Height

	supports, err := c.q().SupportsForName(ctx, name, c.nextHeight)
	if err != nil {
		return ret, err
	}
	claims, err := c.q().ClaimsForName(ctx, name, c.nextHeight)
	if err != nil {
		return ret, err
	}

	for _, claim := range claims {
		cs := claimtrie.ClaimWithSupports{ClaimInfo: claimtrie.ClaimInfo{Claim: claim}}
		if claim.ActivationHeight < c.nextHeight {
			cs.EffectiveAmount = claim.Amount
		}
		rest := supports[:0]
		for _, s := range supports {
			if s.SupportedID != claim.ID {
				rest = append(rest, s)
				continue
			}
			if s.ActivationHeight < c.nextHeight {
				cs.EffectiveAmount += s.Amount
			}
			cs.Supports = append(cs.Supports, s)
		}
		supports = rest
		ret.Claims = append(ret.Claims, cs)
	}
	sort.SliceStable(ret.Claims, func(i, j int) bool {
		return ret.Claims[i].Less(&ret.Claims[j])
	})
	ret.UnmatchedSupports = supports
	return ret, nil
}

// InfoForName returns the claim currently controlling name.
func (c *Cache) InfoForName(ctx context.Context, name string) (claimtrie.ClaimInfo, bool, error) {
	return c.bestClaim(ctx, name, 0)
}

func (c *Cache) bestClaim(ctx context.Context, name string, heightOffset int32) (claimtrie.ClaimInfo, bool, error) {
	ci, err := c.q().BestClaim(ctx, name, c.nextHeight+heightOffset)
	if err == storage.ErrNotFound {
		return claimtrie.ClaimInfo{}, false, nil
	}
	if err != nil {
		return claimtrie.ClaimInfo{}, false, err
	}
	return ci, true, nil
}

// LastTakeoverForName returns the latest takeover state of name. ok is false
// when the name is uncontrolled; the returned height is still meaningful
// when a null takeover record exists.
func (c *Cache) LastTakeoverForName(ctx context.Context, name string) (claimtrie.Takeover, bool, error) {
	tk, err := c.q().LastTakeover(ctx, name)
	if err == storage.ErrNotFound {
		return tk, false, nil
	}
	if err != nil {
		return tk, false, err
	}
	return tk, tk.WinnerID != nil, nil
}

// FindNameForClaim resolves a prefix of a byte-reversed claim id to the
// unique live claim matching it. ok is false on zero or multiple matches.
func (c *Cache) FindNameForClaim(ctx context.Context, prefix []byte) (claimtrie.Claim, bool, error) {
	if len(prefix) > claimtrie.ClaimIDSize {
		return claimtrie.Claim{}, false, nil
	}
	matches, err := c.q().FindClaimsByReversedIDPrefix(ctx, prefix, c.nextHeight, 2)
	if err != nil || len(matches) != 1 {
		return claimtrie.Claim{}, false, err
	}
	return matches[0], true, nil
}

// NamesInTrie visits the name of every node holding a live claim.
func (c *Cache) NamesInTrie(ctx context.Context, fn func(name string) error) error {
	return c.q().NamesInTrie(ctx, c.nextHeight, fn)
}

// ActivatedClaims returns the ids of claims that activated at height after
// being accepted earlier.
func (c *Cache) ActivatedClaims(ctx context.Context, height int32) ([]claimtrie.ClaimID, error) {
	return c.q().ActivatedClaimIDs(ctx, height)
}

// ExpiredClaims returns the ids of claims whose lifetime ended at height.
func (c *Cache) ExpiredClaims(ctx context.Context, height int32) ([]claimtrie.ClaimID, error) {
	return c.q().ExpiredClaimIDs(ctx, height)
}

// ClaimsWithActivatedSupports returns the ids of claims gaining support
// amount at height.
func (c *Cache) ClaimsWithActivatedSupports(ctx context.Context, height int32) ([]claimtrie.ClaimID, error) {
	return c.q().ClaimIDsWithActivatedSupports(ctx, height)
}

// ClaimsWithExpiredSupports returns the ids of claims losing support amount
// at height.
func (c *Cache) ClaimsWithExpiredSupports(ctx context.Context, height int32) ([]claimtrie.ClaimID, error) {
	return c.q().ClaimIDsWithExpiredSupports(ctx, height)
}

// TotalNames counts the names holding at least one live claim.
func (c *Cache) TotalNames(ctx context.Context) (int64, error) {
	return c.q().TotalNames(ctx, c.nextHeight)
}

// TotalClaims counts the live claims.
func (c *Cache) TotalClaims(ctx context.Context) (int64, error) {
	return c.q().TotalClaims(ctx, c.nextHeight)
}

// TotalClaimValue sums live claim amounts, optionally only over the claim
// controlling each name.
func (c *Cache) TotalClaimValue(ctx context.Context, controllingOnly bool) (int64, error) {
	return c.q().TotalClaimValue(ctx, c.nextHeight, controllingOnly)
}
