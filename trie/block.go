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

	"k8s.io/klog/v2"

	"github.com/claimtrie/claimtrie"
	"github.com/claimtrie/claimtrie/storage"
)

// IncrementBlock applies the boundary of the block at the cache's current
// height: claims and supports reaching their activation height come in,
// expirations fall out, every touched name is re-resolved for takeovers, and
// the cache moves to the next height.
func (c *Cache) IncrementBlock(ctx context.Context) error {
	if err := c.ensureTransacting(ctx); err != nil {
		return err
	}

	if err := c.tx.DirtyNodesForActivatedClaims(ctx, c.nextHeight); err != nil {
		return err
	}
	// don't make new nodes for support events or expirations alone
	if err := c.tx.DirtyNodesForBoundaryEvents(ctx, c.nextHeight); err != nil {
		return err
	}

	if err := c.insertTakeovers(ctx); err != nil {
		return err
	}

	c.nextHeight++
	m.blocksApplied.Inc()
	return nil
}

// insertTakeovers re-resolves control of every dirty name. When control
// changes (or appears, or vanishes), everything pending under the name is
// activated immediately and a takeover row is written at the current height.
func (c *Cache) insertTakeovers(ctx context.Context) error {
	names, err := c.tx.DirtyNodeNames(ctx)
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		candidate, hasCandidate, err := c.bestClaim(ctx, name, 1)
		if err != nil {
			return err
		}
		current, err := c.tx.LastTakeover(ctx, name)
		if err != nil && err != storage.ErrNotFound {
			return err
		}
		hasCurrentWinner := err == nil && current.WinnerID != nil

		// we have a takeover if we had a winner and it's changing, or we
		// never had one
		takeoverHappening := !hasCandidate || !hasCurrentWinner || *current.WinnerID != candidate.ID

		if takeoverHappening {
			// if somebody activates on this block and they are the new
			// best, then everybody activates on this block
			changed, err := c.tx.ActivateAllFor(ctx, name, c.nextHeight)
			if err != nil {
				return err
			}
			if changed {
				candidate, hasCandidate, err = c.bestClaim(ctx, name, 1)
				if err != nil {
					return err
				}
			}
		}

		// the old cache lost takeover heights when a name was unsupported
		// and then updated; these rows replay the takeovers it wrote anyway
		if c.nextHeight < forcedTakeoverMaxHeight {
			if _, ok := forcedTakeovers[forcedTakeover{c.nextHeight, name}]; ok {
				takeoverHappening = true
			}
		}

		klog.V(1).Infof("Takeover on %q at %d, happening: %v, set before: %v",
			name, c.nextHeight, takeoverHappening, hasCurrentWinner)

		if takeoverHappening {
			var winner *claimtrie.ClaimID
			if hasCandidate {
				winner = &candidate.ID
			}
			if err := c.tx.InsertTakeover(ctx, name, c.nextHeight, winner); err != nil {
				return err
			}
			m.takeovers.Inc()
		}
	}
	return nil
}

// DecrementBlock rewinds the boundary of the previous block: the cache moves
// back one height, the nodes its events touched are marked stale, and every
// activation the takeover logic pulled down to that height snaps back to its
// original valid height. Spent-output undo happens separately through the
// remove/add operations, followed by FinalizeDecrement.
func (c *Cache) DecrementBlock(ctx context.Context) error {
	if err := c.ensureTransacting(ctx); err != nil {
		return err
	}

	c.nextHeight--
	m.blocksRewound.Inc()

	if err := c.tx.DirtyNodesForDecrement(ctx, c.nextHeight); err != nil {
		return err
	}
	if err := c.tx.ResetClaimActivations(ctx, c.nextHeight); err != nil {
		return err
	}
	return c.tx.ResetSupportActivations(ctx, c.nextHeight)
}

// FinalizeDecrement runs after all undo operations of the rewound block: it
// marks the nodes still carrying activations at the restored height, plus
// every name with a takeover row there, and drops takeover rows at or above
// it.
func (c *Cache) FinalizeDecrement(ctx context.Context) error {
	if err := c.ensureTransacting(ctx); err != nil {
		return err
	}
	if err := c.tx.DirtyNodesForFinalize(ctx, c.nextHeight); err != nil {
		return err
	}
	return c.tx.DeleteTakeoversFrom(ctx, c.nextHeight)
}

// delayForName computes how many blocks a new claim on name must wait before
// it can activate: nothing when the claimant already controls the name or
// nobody does, otherwise proportional to how long the incumbent has held it.
func (c *Cache) delayForName(ctx context.Context, name string, id claimtrie.ClaimID) (int32, error) {
	current, err := c.q().LastTakeover(ctx, name)
	if err != nil && err != storage.ErrNotFound {
		return 0, err
	}
	hasCurrentWinner := err == nil && current.WinnerID != nil
	if hasCurrentWinner && *current.WinnerID == id {
		if current.Height > c.nextHeight {
			klog.Fatalf("takeover of %q at %d is beyond the current height %d", name, current.Height, c.nextHeight)
		}
		return 0, nil
	}

	if c.nextHeight > c.trie.params.MaxRemovalWorkaroundHeight {
		if !hasCurrentWinner {
			return 0, nil
		}
		// TODO: hard fork this out! It's wrong but kept for backwards
		// compatibility: an implicit branch node at this name zeroes the
		// delay.
		branching, err := c.q().HasDistinctChildSubtrees(ctx, name, c.nextHeight, 2)
		if err != nil {
			return 0, err
		}
		if branching {
			return 0, nil
		}
	} else if _, ok := c.removalWorkaround[name]; ok {
		// the old cache kept claimless branch nodes around after removal,
		// zeroing the continuous-ownership span on re-add
		delete(c.removalWorkaround, name)
		return 0, nil
	}

	if !hasCurrentWinner {
		return 0, nil
	}

	delay := (c.nextHeight - current.Height) / c.trie.params.ProportionalDelayFactor
	if delay > claimtrie.MaxDelay {
		delay = claimtrie.MaxDelay
	}
	return delay, nil
}
