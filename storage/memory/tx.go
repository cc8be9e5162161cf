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

package memory

import (
	"bytes"
	"context"
	"math"
	"sort"
	"strings"

	"github.com/claimtrie/claimtrie"
	"github.com/claimtrie/claimtrie/storage"
)

// items are shared between btree clones, so every update replaces the item
// with a fresh copy instead of mutating in place

// --- claims ---

func (t *memTX) InsertClaim(ctx context.Context, c *claimtrie.Claim) error {
	cp := *c
	t.tables().claims.ReplaceOrInsert(&cp)
	return nil
}

func (t *memTX) getClaim(id claimtrie.ClaimID) (*claimtrie.Claim, bool) {
	return t.tables().claims.Get(&claimtrie.Claim{ID: id})
}

func (t *memTX) LookupClaim(ctx context.Context, id claimtrie.ClaimID, op claimtrie.OutPoint, height int32) (string, int32, int32, error) {
	c, ok := t.getClaim(id)
	if !ok || c.OutPoint != op || c.ExpirationHeight < height {
		return "", 0, 0, storage.ErrNotFound
	}
	return c.NodeName, c.ActivationHeight, c.OriginalHeight, nil
}

func (t *memTX) DeleteClaim(ctx context.Context, id claimtrie.ClaimID, op claimtrie.OutPoint) (bool, error) {
	c, ok := t.getClaim(id)
	if !ok || c.OutPoint != op {
		return false, nil
	}
	t.tables().claims.Delete(c)
	return true, nil
}

func (t *memTX) HaveClaim(ctx context.Context, nodeName string, op claimtrie.OutPoint, height int32) (bool, error) {
	found := false
	t.tables().claims.Ascend(func(c *claimtrie.Claim) bool {
		if c.NodeName == nodeName && c.OutPoint == op && live(c.ActivationHeight, c.ExpirationHeight, height) {
			found = true
			return false
		}
		return true
	})
	return found, nil
}

func (t *memTX) ClaimInQueue(ctx context.Context, nodeName string, op claimtrie.OutPoint, height int32) (int32, error) {
	var validAt int32
	err := error(storage.ErrNotFound)
	t.tables().claims.Ascend(func(c *claimtrie.Claim) bool {
		if c.NodeName == nodeName && c.OutPoint == op &&
			c.ActivationHeight >= height && c.ExpirationHeight >= c.ActivationHeight {
			validAt, err = c.ActivationHeight, nil
			return false
		}
		return true
	})
	return validAt, err
}

func (t *memTX) ClaimsForName(ctx context.Context, nodeName string, height int32) ([]claimtrie.Claim, error) {
	var ret []claimtrie.Claim
	t.tables().claims.Ascend(func(c *claimtrie.Claim) bool {
		if c.NodeName == nodeName && c.ExpirationHeight >= height {
			ret = append(ret, *c)
		}
		return true
	})
	return ret, nil
}

func (t *memTX) effectiveAmount(c *claimtrie.Claim, height int32) int64 {
	total := c.Amount
	t.tables().supports.Ascend(func(s *claimtrie.Support) bool {
		if s.SupportedID == c.ID && s.NodeName == c.NodeName &&
			live(s.ActivationHeight, s.ExpirationHeight, height) {
			total += s.Amount
		}
		return true
	})
	return total
}

func (t *memTX) BestClaim(ctx context.Context, nodeName string, height int32) (claimtrie.ClaimInfo, error) {
	var best *claimtrie.ClaimInfo
	t.tables().claims.Ascend(func(c *claimtrie.Claim) bool {
		if c.NodeName != nodeName || !live(c.ActivationHeight, c.ExpirationHeight, height) {
			return true
		}
		ci := claimtrie.ClaimInfo{Claim: *c, EffectiveAmount: t.effectiveAmount(c, height)}
		if best == nil || betterClaim(&ci, best) {
			best = &ci
		}
		return true
	})
	if best == nil {
		return claimtrie.ClaimInfo{}, storage.ErrNotFound
	}
	return *best, nil
}

// betterClaim matches the SQL ordering: effective amount descending, then
// update height, then outpoint bytes.
func betterClaim(a, b *claimtrie.ClaimInfo) bool {
	if a.EffectiveAmount != b.EffectiveAmount {
		return a.EffectiveAmount > b.EffectiveAmount
	}
	if a.UpdateHeight != b.UpdateHeight {
		return a.UpdateHeight < b.UpdateHeight
	}
	if c := bytes.Compare(a.OutPoint.TxID[:], b.OutPoint.TxID[:]); c != 0 {
		return c < 0
	}
	return a.OutPoint.N < b.OutPoint.N
}

func (t *memTX) FindClaimsByReversedIDPrefix(ctx context.Context, prefix []byte, height int32, limit int) ([]claimtrie.Claim, error) {
	var ret []claimtrie.Claim
	t.tables().claims.Ascend(func(c *claimtrie.Claim) bool {
		if live(c.ActivationHeight, c.ExpirationHeight, height) &&
			bytes.HasPrefix(c.ID.Reversed(), prefix) {
			ret = append(ret, *c)
		}
		return len(ret) < limit
	})
	return ret, nil
}

func (t *memTX) NamesInTrie(ctx context.Context, height int32, fn func(name string) error) error {
	names := make(map[string]struct{})
	t.tables().claims.Ascend(func(c *claimtrie.Claim) bool {
		if live(c.ActivationHeight, c.ExpirationHeight, height) {
			names[c.NodeName] = struct{}{}
		}
		return true
	})
	ordered := make([]string, 0, len(names))
	for n := range names {
		ordered = append(ordered, n)
	}
	sort.Strings(ordered)
	for _, n := range ordered {
		if err := fn(n); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTX) ActivatedClaimIDs(ctx context.Context, height int32) ([]claimtrie.ClaimID, error) {
	return t.claimIDs(func(c *claimtrie.Claim) bool {
		return c.ActivationHeight == height && c.UpdateHeight < height
	})
}

func (t *memTX) ExpiredClaimIDs(ctx context.Context, height int32) ([]claimtrie.ClaimID, error) {
	return t.claimIDs(func(c *claimtrie.Claim) bool {
		return c.ExpirationHeight == height && c.UpdateHeight < height
	})
}

func (t *memTX) claimIDs(match func(*claimtrie.Claim) bool) ([]claimtrie.ClaimID, error) {
	var ret []claimtrie.ClaimID
	t.tables().claims.Ascend(func(c *claimtrie.Claim) bool {
		if match(c) {
			ret = append(ret, c.ID)
		}
		return true
	})
	return ret, nil
}

func (t *memTX) TotalNames(ctx context.Context, height int32) (int64, error) {
	var n int64
	err := t.NamesInTrie(ctx, height, func(string) error { n++; return nil })
	return n, err
}

func (t *memTX) TotalClaims(ctx context.Context, height int32) (int64, error) {
	var n int64
	t.tables().claims.Ascend(func(c *claimtrie.Claim) bool {
		if live(c.ActivationHeight, c.ExpirationHeight, height) {
			n++
		}
		return true
	})
	return n, nil
}

func (t *memTX) TotalClaimValue(ctx context.Context, height int32, controllingOnly bool) (int64, error) {
	var total int64
	if !controllingOnly {
		t.tables().claims.Ascend(func(c *claimtrie.Claim) bool {
			if live(c.ActivationHeight, c.ExpirationHeight, height) {
				total += c.Amount
			}
			return true
		})
		return total, nil
	}
	err := t.NamesInTrie(ctx, height, func(name string) error {
		best, err := t.BestClaim(ctx, name, height)
		if err == storage.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		total += best.Amount
		return nil
	})
	return total, err
}

// --- supports ---

func (t *memTX) InsertSupport(ctx context.Context, s *claimtrie.Support) error {
	cp := *s
	t.tables().supports.ReplaceOrInsert(&cp)
	return nil
}

func (t *memTX) getSupport(op claimtrie.OutPoint) (*claimtrie.Support, bool) {
	return t.tables().supports.Get(&claimtrie.Support{OutPoint: op})
}

func (t *memTX) LookupSupport(ctx context.Context, op claimtrie.OutPoint, height int32) (string, int32, error) {
	s, ok := t.getSupport(op)
	if !ok || s.ExpirationHeight < height {
		return "", 0, storage.ErrNotFound
	}
	return s.NodeName, s.ActivationHeight, nil
}

func (t *memTX) DeleteSupport(ctx context.Context, op claimtrie.OutPoint) (bool, error) {
	s, ok := t.getSupport(op)
	if !ok {
		return false, nil
	}
	t.tables().supports.Delete(s)
	return true, nil
}

func (t *memTX) HaveSupport(ctx context.Context, nodeName string, op claimtrie.OutPoint, height int32) (bool, error) {
	s, ok := t.getSupport(op)
	return ok && s.NodeName == nodeName && live(s.ActivationHeight, s.ExpirationHeight, height), nil
}

func (t *memTX) SupportInQueue(ctx context.Context, nodeName string, op claimtrie.OutPoint, height int32) (int32, error) {
	s, ok := t.getSupport(op)
	if ok && s.NodeName == nodeName && s.ActivationHeight >= height && s.ExpirationHeight >= s.ActivationHeight {
		return s.ActivationHeight, nil
	}
	return 0, storage.ErrNotFound
}

func (t *memTX) SupportsForName(ctx context.Context, nodeName string, height int32) ([]claimtrie.Support, error) {
	var ret []claimtrie.Support
	t.tables().supports.Ascend(func(s *claimtrie.Support) bool {
		if s.NodeName == nodeName && s.ExpirationHeight >= height {
			ret = append(ret, *s)
		}
		return true
	})
	return ret, nil
}

func (t *memTX) ClaimIDsWithActivatedSupports(ctx context.Context, height int32) ([]claimtrie.ClaimID, error) {
	return t.supportedIDs(func(s *claimtrie.Support) bool {
		return s.ActivationHeight == height && s.BlockHeight < height
	})
}

func (t *memTX) ClaimIDsWithExpiredSupports(ctx context.Context, height int32) ([]claimtrie.ClaimID, error) {
	return t.supportedIDs(func(s *claimtrie.Support) bool {
		return s.ExpirationHeight == height && s.BlockHeight < height
	})
}

func (t *memTX) supportedIDs(match func(*claimtrie.Support) bool) ([]claimtrie.ClaimID, error) {
	seen := make(map[claimtrie.ClaimID]struct{})
	var ret []claimtrie.ClaimID
	t.tables().supports.Ascend(func(s *claimtrie.Support) bool {
		if match(s) {
			if _, ok := seen[s.SupportedID]; !ok {
				seen[s.SupportedID] = struct{}{}
				ret = append(ret, s.SupportedID)
			}
		}
		return true
	})
	return ret, nil
}

// --- nodes ---

func (t *memTX) getNode(name string) (*node, bool) {
	return t.tables().nodes.Get(&node{name: name})
}

func (t *memTX) UpsertDirtyNode(ctx context.Context, name string) error {
	if n, ok := t.getNode(name); ok {
		t.tables().nodes.ReplaceOrInsert(&node{name: name, parent: n.parent})
		return nil
	}
	t.tables().nodes.ReplaceOrInsert(&node{name: name})
	return nil
}

func (t *memTX) MarkNodeDirty(ctx context.Context, name string) error {
	if n, ok := t.getNode(name); ok {
		t.tables().nodes.ReplaceOrInsert(&node{name: name, parent: n.parent})
	}
	return nil
}

func (t *memTX) InsertOrReparentNode(ctx context.Context, name, parent string) error {
	t.tables().nodes.ReplaceOrInsert(&node{name: name, parent: parent})
	return nil
}

func (t *memTX) SetNodeParent(ctx context.Context, name, parent string) error {
	if n, ok := t.getNode(name); ok {
		t.tables().nodes.ReplaceOrInsert(&node{name: name, parent: parent, hash: n.hash})
	}
	return nil
}

func (t *memTX) DeleteNode(ctx context.Context, name string) (bool, error) {
	_, ok := t.tables().nodes.Delete(&node{name: name})
	return ok, nil
}

func (t *memTX) NodeParent(ctx context.Context, name string) (string, error) {
	n, ok := t.getNode(name)
	if !ok {
		return "", storage.ErrNotFound
	}
	return n.parent, nil
}

func (t *memTX) ChildCountAndMax(ctx context.Context, parent string) (int64, string, error) {
	var count int64
	var max string
	t.eachChild(parent, func(n *node) {
		count++
		if n.name > max {
			max = n.name
		}
	})
	return count, max, nil
}

func (t *memTX) eachChild(parent string, fn func(*node)) {
	t.tables().nodes.Ascend(func(n *node) bool {
		if n.parent == parent && n.name != "" {
			fn(n)
		}
		return true
	})
}

func (t *memTX) LiveClaimCount(ctx context.Context, nodeName string, height int32) (int64, error) {
	var count int64
	t.tables().claims.Ascend(func(c *claimtrie.Claim) bool {
		if c.NodeName == nodeName && live(c.ActivationHeight, c.ExpirationHeight, height) {
			count = 1
			return false
		}
		return true
	})
	return count, nil
}

func (t *memTX) LongestExistingPrefix(ctx context.Context, name string) (string, error) {
	for i := len(name); i >= 0; i-- {
		if _, ok := t.getNode(name[:i]); ok {
			return name[:i], nil
		}
	}
	return "", nil
}

func (t *memTX) ChildNames(ctx context.Context, parent string) ([]string, error) {
	var ret []string
	t.eachChild(parent, func(n *node) { ret = append(ret, n.name) })
	return ret, nil
}

func (t *memTX) ChildHashes(ctx context.Context, parent string) ([]storage.NodeHash, error) {
	var ret []storage.NodeHash
	t.eachChild(parent, func(n *node) {
		ret = append(ret, storage.NodeHash{Name: n.name, Hash: n.hash})
	})
	return ret, nil
}

func (t *memTX) DirtyNodeNames(ctx context.Context) ([]string, error) {
	var ret []string
	t.tables().nodes.Ascend(func(n *node) bool {
		if n.hash == nil {
			ret = append(ret, n.name)
		}
		return true
	})
	return ret, nil
}

func (t *memTX) DirtyNodesByLengthDesc(ctx context.Context, fn func(name string, takeoverHeight int32) error) error {
	dirty, err := t.DirtyNodeNames(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(dirty, func(i, j int) bool { return len(dirty[i]) > len(dirty[j]) })
	for _, name := range dirty {
		if err := fn(name, t.effectiveTakeoverHeight(name)); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTX) effectiveTakeoverHeight(name string) int32 {
	tk, err := t.LastTakeover(context.Background(), name)
	if err != nil || tk.WinnerID == nil {
		return 0
	}
	return tk.Height
}

func (t *memTX) SetNodeHash(ctx context.Context, name string, hash []byte) error {
	if n, ok := t.getNode(name); ok {
		t.tables().nodes.ReplaceOrInsert(&node{name: name, parent: n.parent, hash: hash})
	}
	return nil
}

func (t *memTX) RootHash(ctx context.Context) ([]byte, error) {
	n, ok := t.getNode("")
	if !ok {
		return nil, storage.ErrNotFound
	}
	return n.hash, nil
}

func (t *memTX) PropagateDirty(ctx context.Context) error {
	dirty, err := t.DirtyNodeNames(ctx)
	if err != nil {
		return err
	}
	for _, name := range dirty {
		for name != "" {
			n, ok := t.getNode(name)
			if !ok {
				break
			}
			name = n.parent
			if err := t.MarkNodeDirty(ctx, name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *memTX) HasDistinctChildSubtrees(ctx context.Context, name string, height int32, required int) (bool, error) {
	branches := make(map[byte]struct{})
	hasClaimAtName := false
	t.tables().claims.Ascend(func(c *claimtrie.Claim) bool {
		if !live(c.ActivationHeight, c.ExpirationHeight, height) || !strings.HasPrefix(c.NodeName, name) {
			return true
		}
		if c.NodeName == name {
			hasClaimAtName = true
			return false
		}
		branches[c.NodeName[len(name)]] = struct{}{}
		return true
	})
	return !hasClaimAtName && len(branches) >= required, nil
}

func (t *memTX) AncestorPath(ctx context.Context, name string, fn func(nodeName string, takeoverHeight int32) error) error {
	for i := 0; i <= len(name); i++ {
		if _, ok := t.getNode(name[:i]); ok {
			if err := fn(name[:i], t.effectiveTakeoverHeight(name[:i])); err != nil {
				return err
			}
		}
	}
	return nil
}

// ConsistencyRows visits the first limit nodes in ascending name order. It
// draws no random sample, and the root's children are not added beyond the
// limit.
func (t *memTX) ConsistencyRows(ctx context.Context, limit int64, fn func(name string, hash []byte, takeoverHeight int32) error) error {
	var visited int64
	var err error
	t.tables().nodes.Ascend(func(n *node) bool {
		if visited >= limit {
			return false
		}
		visited++
		err = fn(n.name, n.hash, t.effectiveTakeoverHeight(n.name))
		return err == nil
	})
	return err
}

// --- takeovers ---

func (t *memTX) InsertTakeover(ctx context.Context, name string, height int32, winner *claimtrie.ClaimID) error {
	tk := &takeover{name: name, height: height}
	if winner != nil {
		w := *winner
		tk.winner = &w
	}
	t.tables().takeovers.ReplaceOrInsert(tk)
	return nil
}

func (t *memTX) LastTakeover(ctx context.Context, name string) (claimtrie.Takeover, error) {
	ret := claimtrie.Takeover{Name: name}
	err := error(storage.ErrNotFound)
	t.tables().takeovers.AscendGreaterOrEqual(&takeover{name: name, height: math.MaxInt32}, func(tk *takeover) bool {
		if tk.name == name {
			ret.Height = tk.height
			ret.WinnerID = tk.winner
			err = nil
		}
		return false
	})
	return ret, err
}

func (t *memTX) DeleteTakeoversFrom(ctx context.Context, height int32) error {
	var doomed []*takeover
	t.tables().takeovers.Ascend(func(tk *takeover) bool {
		if tk.height >= height {
			doomed = append(doomed, tk)
		}
		return true
	})
	for _, tk := range doomed {
		t.tables().takeovers.Delete(tk)
	}
	return nil
}

// --- block transitions ---

func (t *memTX) DirtyNodesForActivatedClaims(ctx context.Context, height int32) error {
	var names []string
	t.tables().claims.Ascend(func(c *claimtrie.Claim) bool {
		if c.ActivationHeight == height && c.ExpirationHeight > height {
			names = append(names, c.NodeName)
		}
		return true
	})
	for _, n := range names {
		if err := t.UpsertDirtyNode(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTX) DirtyNodesForBoundaryEvents(ctx context.Context, height int32) error {
	var names []string
	t.tables().claims.Ascend(func(c *claimtrie.Claim) bool {
		if c.ExpirationHeight == height {
			names = append(names, c.NodeName)
		}
		return true
	})
	t.tables().supports.Ascend(func(s *claimtrie.Support) bool {
		if s.ExpirationHeight == height || s.ActivationHeight == height {
			names = append(names, s.NodeName)
		}
		return true
	})
	for _, n := range names {
		if err := t.MarkNodeDirty(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTX) ActivateAllFor(ctx context.Context, name string, height int32) (bool, error) {
	changed := false
	var claims []*claimtrie.Claim
	t.tables().claims.Ascend(func(c *claimtrie.Claim) bool {
		if c.NodeName == name && c.ActivationHeight > height && c.ExpirationHeight > height {
			claims = append(claims, c)
		}
		return true
	})
	for _, c := range claims {
		cp := *c
		cp.ActivationHeight = height
		t.tables().claims.ReplaceOrInsert(&cp)
		changed = true
	}
	var supports []*claimtrie.Support
	t.tables().supports.Ascend(func(s *claimtrie.Support) bool {
		if s.NodeName == name && s.ActivationHeight > height && s.ExpirationHeight > height {
			supports = append(supports, s)
		}
		return true
	})
	for _, s := range supports {
		cp := *s
		cp.ActivationHeight = height
		t.tables().supports.ReplaceOrInsert(&cp)
		changed = true
	}
	return changed, nil
}

func (t *memTX) DirtyNodesForDecrement(ctx context.Context, height int32) error {
	var inserts, marks []string
	t.tables().claims.Ascend(func(c *claimtrie.Claim) bool {
		if c.ExpirationHeight == height {
			inserts = append(inserts, c.NodeName)
		}
		if c.ActivationHeight == height {
			marks = append(marks, c.NodeName)
		}
		return true
	})
	t.tables().supports.Ascend(func(s *claimtrie.Support) bool {
		if s.ExpirationHeight == height || s.ActivationHeight == height {
			marks = append(marks, s.NodeName)
		}
		return true
	})
	for _, n := range inserts {
		if err := t.UpsertDirtyNode(ctx, n); err != nil {
			return err
		}
	}
	for _, n := range marks {
		if err := t.MarkNodeDirty(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTX) ResetClaimActivations(ctx context.Context, height int32) error {
	var claims []*claimtrie.Claim
	t.tables().claims.Ascend(func(c *claimtrie.Claim) bool {
		if c.ActivationHeight == height {
			claims = append(claims, c)
		}
		return true
	})
	for _, c := range claims {
		cp := *c
		cp.ActivationHeight = cp.ValidHeight
		t.tables().claims.ReplaceOrInsert(&cp)
	}
	return nil
}

func (t *memTX) ResetSupportActivations(ctx context.Context, height int32) error {
	var supports []*claimtrie.Support
	t.tables().supports.Ascend(func(s *claimtrie.Support) bool {
		if s.ActivationHeight == height {
			supports = append(supports, s)
		}
		return true
	})
	for _, s := range supports {
		cp := *s
		cp.ActivationHeight = cp.ValidHeight
		t.tables().supports.ReplaceOrInsert(&cp)
	}
	return nil
}

func (t *memTX) DirtyNodesForFinalize(ctx context.Context, height int32) error {
	var names []string
	t.tables().claims.Ascend(func(c *claimtrie.Claim) bool {
		if c.ActivationHeight == height && c.ExpirationHeight > height {
			names = append(names, c.NodeName)
		}
		return true
	})
	t.tables().supports.Ascend(func(s *claimtrie.Support) bool {
		if s.ActivationHeight == height && s.ExpirationHeight > height {
			names = append(names, s.NodeName)
		}
		return true
	})
	t.tables().takeovers.Ascend(func(tk *takeover) bool {
		if tk.height == height {
			names = append(names, tk.name)
		}
		return true
	})
	for _, n := range names {
		if err := t.MarkNodeDirty(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// --- maintenance ---

func (t *memTX) IntegrityCheck(ctx context.Context) error         { return nil }
func (t *memTX) EnsureReverseClaimIDIndex(ctx context.Context) error { return nil }
