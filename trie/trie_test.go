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
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/claimtrie/claimtrie"
	"github.com/claimtrie/claimtrie/merkle"
	"github.com/claimtrie/claimtrie/monitoring"
	"github.com/claimtrie/claimtrie/storage/memory"
	"github.com/claimtrie/claimtrie/testonly"
)

func newTestCache(t *testing.T, params claimtrie.Params) *Cache {
	t.Helper()
	tr := New(memory.NewTrieStorage(), params, monitoring.InertMetricFactory{})
	c := tr.NewCache()
	t.Cleanup(func() { c.Close() })
	return c
}

func advance(t *testing.T, ctx context.Context, c *Cache, blocks int) {
	t.Helper()
	for i := 0; i < blocks; i++ {
		if err := c.IncrementBlock(ctx); err != nil {
			t.Fatalf("IncrementBlock() at %d: %v", c.NextHeight(), err)
		}
	}
}

func mustAddClaim(t *testing.T, ctx context.Context, c *Cache, name string, op claimtrie.OutPoint, id claimtrie.ClaimID, amount int64) {
	t.Helper()
	if err := c.AddClaim(ctx, name, op, id, amount, c.NextHeight(), 0, 0); err != nil {
		t.Fatalf("AddClaim(%q): %v", name, err)
	}
}

func mustRoot(t *testing.T, ctx context.Context, c *Cache) []byte {
	t.Helper()
	root, err := c.MerkleHash(ctx)
	if err != nil {
		t.Fatalf("MerkleHash(): %v", err)
	}
	return root
}

func TestEmptyTrie(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testonly.Params())

	if got := mustRoot(t, ctx, c); !bytes.Equal(got, merkle.EmptyTrieHash) {
		t.Errorf("MerkleHash() of an empty trie = %x, want %x", got, merkle.EmptyTrieHash)
	}
}

func TestSingleClaim(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testonly.Params())

	advance(t, ctx, c, 10)
	op := testonly.OutPoint(0x11, 0)
	id := testonly.ClaimID(0xaa)
	mustAddClaim(t, ctx, c, "foo", op, id, 100)
	advance(t, ctx, c, 1)

	// no prior winner, so the claim activated at its own height and the
	// takeover was stamped there
	tk, controlled, err := c.LastTakeoverForName(ctx, "foo")
	if err != nil || !controlled {
		t.Fatalf("LastTakeoverForName() = %v, %v, %v", tk, controlled, err)
	}
	if tk.Height != 10 || *tk.WinnerID != id {
		t.Errorf("takeover = (%d, %v), want (10, %v)", tk.Height, tk.WinnerID, id)
	}

	// the root is the hash of one child edge folded over "oo" plus nothing
	// else; recompute it from the primitives
	leaf := merkle.DoubleSHA256(merkle.ValueHash(op, 10))
	want := merkle.DoubleSHA256(append([]byte{'f'}, merkle.CompleteHash(leaf, "foo", 0)...))
	if got := mustRoot(t, ctx, c); !bytes.Equal(got, want) {
		t.Errorf("MerkleHash() = %x, want %x", got, want)
	}

	info, ok, err := c.InfoForName(ctx, "foo")
	if err != nil || !ok {
		t.Fatalf("InfoForName() = %v, %v", ok, err)
	}
	if info.ID != id || info.EffectiveAmount != 100 {
		t.Errorf("InfoForName() = %v/%d, want %v/100", info.ID, info.EffectiveAmount, id)
	}
}

func TestTakeoverDelay(t *testing.T) {
	ctx := context.Background()
	params := testonly.Params()
	params.ProportionalDelayFactor = 32
	c := newTestCache(t, params)

	advance(t, ctx, c, 100)
	opA, idA := testonly.OutPoint(0x0a, 0), testonly.ClaimID(0x0a)
	mustAddClaim(t, ctx, c, "bar", opA, idA, 100)
	advance(t, ctx, c, 64) // winner set at 100; now at height 164

	opB, idB := testonly.OutPoint(0x0b, 0), testonly.ClaimID(0x0b)
	mustAddClaim(t, ctx, c, "bar", opB, idB, 500)

	validAt, queued, err := c.HaveClaimInQueue(ctx, "bar", opB)
	if err != nil || !queued {
		t.Fatalf("HaveClaimInQueue() = %v, %v", queued, err)
	}
	if validAt != 166 {
		t.Errorf("challenger activates at %d, want 164 + 64/32 = 166", validAt)
	}

	advance(t, ctx, c, 2)
	if _, controlled, _ := c.LastTakeoverForName(ctx, "bar"); !controlled {
		t.Fatal("name lost control before the takeover resolved")
	}
	if info, _, _ := c.InfoForName(ctx, "bar"); info.ID != idA {
		t.Errorf("winner flipped early: %v", info.ID)
	}

	advance(t, ctx, c, 1) // block 166 activates the challenger
	tk, _, err := c.LastTakeoverForName(ctx, "bar")
	if err != nil {
		t.Fatalf("LastTakeoverForName(): %v", err)
	}
	if tk.Height != 166 || tk.WinnerID == nil || *tk.WinnerID != idB {
		t.Errorf("takeover = (%d, %v), want (166, %v)", tk.Height, tk.WinnerID, idB)
	}
}

func TestSupportAggregation(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testonly.Params())

	advance(t, ctx, c, 10)
	op, id := testonly.OutPoint(0x01, 0), testonly.ClaimID(0x01)
	mustAddClaim(t, ctx, c, "s4", op, id, 100)
	advance(t, ctx, c, 1)

	for i, amount := range []int64{40, 60} {
		if err := c.AddSupport(ctx, "s4", testonly.OutPoint(0x20, uint32(i)), id, amount, c.NextHeight(), -1); err != nil {
			t.Fatalf("AddSupport(%d): %v", amount, err)
		}
	}
	// a support for a claim that does not exist dangles without effect
	if err := c.AddSupport(ctx, "s4", testonly.OutPoint(0x30, 0), testonly.ClaimID(0x99), 1000, c.NextHeight(), -1); err != nil {
		t.Fatalf("AddSupport(dangling): %v", err)
	}
	advance(t, ctx, c, 1)

	claims, err := c.ClaimsForName(ctx, "s4")
	if err != nil {
		t.Fatalf("ClaimsForName(): %v", err)
	}
	if len(claims.Claims) != 1 {
		t.Fatalf("got %d claims, want 1", len(claims.Claims))
	}
	best := claims.Claims[0]
	if best.EffectiveAmount != 200 {
		t.Errorf("effective amount = %d, want 100+40+60 = 200", best.EffectiveAmount)
	}
	if len(best.Supports) != 2 {
		t.Errorf("got %d attached supports, want 2", len(best.Supports))
	}
	if len(claims.UnmatchedSupports) != 1 {
		t.Errorf("got %d unmatched supports, want the dangling 1", len(claims.UnmatchedSupports))
	}
	if info, _, _ := c.InfoForName(ctx, "s4"); info.EffectiveAmount != 200 {
		t.Errorf("InfoForName effective amount = %d, want 200", info.EffectiveAmount)
	}
}

func TestUndoAdd(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testonly.Params())

	advance(t, ctx, c, 50)
	before := mustRoot(t, ctx, c)

	op, id := testonly.OutPoint(0x05, 0), testonly.ClaimID(0x05)
	mustAddClaim(t, ctx, c, "s5", op, id, 77)
	advance(t, ctx, c, 1)
	if after := mustRoot(t, ctx, c); bytes.Equal(after, before) {
		t.Fatal("adding a claim left the root unchanged")
	}

	if err := c.DecrementBlock(ctx); err != nil {
		t.Fatalf("DecrementBlock(): %v", err)
	}
	if _, ok, err := c.RemoveClaim(ctx, id, op); err != nil || !ok {
		t.Fatalf("RemoveClaim() = %v, %v", ok, err)
	}
	if err := c.FinalizeDecrement(ctx); err != nil {
		t.Fatalf("FinalizeDecrement(): %v", err)
	}

	if got := mustRoot(t, ctx, c); !bytes.Equal(got, before) {
		t.Errorf("root after undo = %x, want the pre-add snapshot %x", got, before)
	}
	if n, _ := c.TotalClaims(ctx); n != 0 {
		t.Errorf("TotalClaims() = %d after undo, want 0", n)
	}
}

func TestReorgAcrossTakeover(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testonly.Params())

	advance(t, ctx, c, 100)
	opA, idA := testonly.OutPoint(0x0a, 0), testonly.ClaimID(0x0a)
	mustAddClaim(t, ctx, c, "bar", opA, idA, 100)
	advance(t, ctx, c, 1) // winner A at height 100

	snapshot := mustRoot(t, ctx, c)

	advance(t, ctx, c, 1) // 101
	opB, idB := testonly.OutPoint(0x0b, 0), testonly.ClaimID(0x0b)
	mustAddClaim(t, ctx, c, "bar", opB, idB, 500) // delay 2, valid at 104
	advance(t, ctx, c, 1)                         // 102
	opC, idC := testonly.OutPoint(0x0c, 0), testonly.ClaimID(0x0c)
	mustAddClaim(t, ctx, c, "bar", opC, idC, 50) // delay 3, valid at 106
	advance(t, ctx, c, 2)                        // 103, 104: B takes over at 104

	tk, _, err := c.LastTakeoverForName(ctx, "bar")
	if err != nil || tk.WinnerID == nil || *tk.WinnerID != idB || tk.Height != 104 {
		t.Fatalf("takeover = %+v, %v; want winner B at 104", tk, err)
	}
	// the takeover dragged C's activation down with it
	claims, err := c.ClaimsForName(ctx, "bar")
	if err != nil {
		t.Fatalf("ClaimsForName(): %v", err)
	}
	for _, cl := range claims.Claims {
		if cl.ID == idC && cl.ActivationHeight != 104 {
			t.Errorf("pending claim activation = %d, want pulled to 104", cl.ActivationHeight)
		}
	}

	// unwind blocks 104, 103, 102, 101
	undo := func(removals func() error) {
		t.Helper()
		if err := c.DecrementBlock(ctx); err != nil {
			t.Fatalf("DecrementBlock(): %v", err)
		}
		if removals != nil {
			if err := removals(); err != nil {
				t.Fatalf("undo removals: %v", err)
			}
		}
		if err := c.FinalizeDecrement(ctx); err != nil {
			t.Fatalf("FinalizeDecrement(): %v", err)
		}
	}
	undo(nil)
	undo(func() error {
		_, ok, err := c.RemoveClaim(ctx, idC, opC)
		if err == nil && !ok {
			t.Error("undo of claim C found nothing to remove")
		}
		return err
	})
	undo(func() error {
		_, ok, err := c.RemoveClaim(ctx, idB, opB)
		if err == nil && !ok {
			t.Error("undo of claim B found nothing to remove")
		}
		return err
	})
	undo(nil)

	if got := mustRoot(t, ctx, c); !bytes.Equal(got, snapshot) {
		t.Errorf("root after reorg = %x, want the snapshot %x", got, snapshot)
	}
	tk, controlled, err := c.LastTakeoverForName(ctx, "bar")
	if err != nil || !controlled {
		t.Fatalf("LastTakeoverForName() after reorg = %v, %v", controlled, err)
	}
	if tk.Height != 100 || *tk.WinnerID != idA {
		t.Errorf("takeover after reorg = (%d, %v), want (100, %v); later rows must be gone", tk.Height, tk.WinnerID, idA)
	}
	claims, err = c.ClaimsForName(ctx, "bar")
	if err != nil {
		t.Fatalf("ClaimsForName(): %v", err)
	}
	if len(claims.Claims) != 1 || claims.Claims[0].ActivationHeight != 100 {
		t.Errorf("claims after reorg = %+v, want only A active at 100", claims.Claims)
	}
}

func TestStructureCollapse(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testonly.Params())
	reference := newTestCache(t, testonly.Params())

	advance(t, ctx, c, 10)
	advance(t, ctx, reference, 10)

	opC, idC := testonly.OutPoint(0x01, 0), testonly.ClaimID(0x01)
	mustAddClaim(t, ctx, c, "abc", opC, idC, 10)
	mustAddClaim(t, ctx, reference, "abc", opC, idC, 10)
	opD, idD := testonly.OutPoint(0x02, 0), testonly.ClaimID(0x02)
	mustAddClaim(t, ctx, c, "abd", opD, idD, 10)
	advance(t, ctx, c, 1)
	advance(t, ctx, reference, 1)
	mustRoot(t, ctx, c) // builds the split node "ab" above "abc" and "abd"

	// removing the sibling collapses the split node; the shape (and root)
	// must match a trie that never saw it
	if _, ok, err := c.RemoveClaim(ctx, idD, opD); err != nil || !ok {
		t.Fatalf("RemoveClaim() = %v, %v", ok, err)
	}
	advance(t, ctx, c, 1)
	advance(t, ctx, reference, 1)

	got := mustRoot(t, ctx, c)
	want := mustRoot(t, ctx, reference)
	if !bytes.Equal(got, want) {
		t.Errorf("root after collapse = %x, want %x", got, want)
	}
}

func TestProofRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testonly.Params())

	advance(t, ctx, c, 10)
	names := []string{"tea", "test", "tester", "testing"}
	ids := make(map[string]claimtrie.ClaimID)
	for i, name := range names {
		op := testonly.OutPoint(byte(i+1), 0)
		id := testonly.ClaimID(byte(i + 1))
		ids[name] = id
		mustAddClaim(t, ctx, c, name, op, id, int64(100*(i+1)))
	}
	advance(t, ctx, c, 1)
	root := mustRoot(t, ctx, c)

	for _, name := range names {
		proof, err := c.ProofForName(ctx, name, ids[name])
		if err != nil {
			t.Fatalf("ProofForName(%q): %v", name, err)
		}
		if !proof.HasValue {
			t.Errorf("proof for %q does not bind its winning claim", name)
		}
		if err := merkle.Verify(proof, name, root); err != nil {
			t.Errorf("Verify(%q) = %v", name, err)
		}
	}

	// a proof bound to the wrong claim id must not fold into the root
	proof, err := c.ProofForName(ctx, "test", ids["tea"])
	if err != nil {
		t.Fatalf("ProofForName(): %v", err)
	}
	if proof.HasValue {
		t.Error("proof claims a value bound for a non-winning id")
	}
	if err := merkle.Verify(proof, "test", root); err == nil {
		t.Error("Verify() accepted a proof for the wrong claim")
	}

	// absence of a name that shares no branch with the trie
	absent, err := c.ProofForName(ctx, "zebra", testonly.ClaimID(0x7f))
	if err != nil {
		t.Fatalf("ProofForName(zebra): %v", err)
	}
	if absent.HasValue {
		t.Error("absence proof claims a value")
	}
	if err := merkle.Verify(absent, "zebra", root); err != nil {
		t.Errorf("Verify(zebra) = %v", err)
	}
}

func TestDeterministicRoots(t *testing.T) {
	ctx := context.Background()
	build := func() []byte {
		c := newTestCache(t, testonly.Params())
		advance(t, ctx, c, 5)
		for i, name := range []string{"alpha", "beta", "alphabet", "al"} {
			mustAddClaim(t, ctx, c, name, testonly.OutPoint(byte(i+1), uint32(i)), testonly.ClaimID(byte(i+1)), int64(50+i))
		}
		advance(t, ctx, c, 1)
		if err := c.AddSupport(ctx, "alpha", testonly.OutPoint(0x60, 0), testonly.ClaimID(1), 25, c.NextHeight(), -1); err != nil {
			t.Fatalf("AddSupport(): %v", err)
		}
		advance(t, ctx, c, 2)
		return mustRoot(t, ctx, c)
	}
	first, second := build(), build()
	if !bytes.Equal(first, second) {
		t.Errorf("two engines over equal input disagree: %x vs %x", first, second)
	}
}

func TestConsistencyAndValidateDB(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testonly.Params())

	advance(t, ctx, c, 10)
	mustAddClaim(t, ctx, c, "check", testonly.OutPoint(1, 0), testonly.ClaimID(1), 10)
	mustAddClaim(t, ctx, c, "chess", testonly.OutPoint(2, 0), testonly.ClaimID(2), 20)
	advance(t, ctx, c, 1)
	root := mustRoot(t, ctx, c)
	height := c.NextHeight() - 1
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("Flush(): %v", err)
	}

	if err := c.CheckConsistency(ctx); err != nil {
		t.Errorf("CheckConsistency() = %v", err)
	}
	if !c.ValidateDB(ctx, height, root) {
		t.Error("ValidateDB() rejected the store's own root")
	}
	bogus := bytes.Repeat([]byte{0xfe}, merkle.HashSize)
	if c.ValidateDB(ctx, height, bogus) {
		t.Error("ValidateDB() accepted a mismatched root")
	}
}

func TestFindNameForClaim(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testonly.Params())

	advance(t, ctx, c, 10)
	mustAddClaim(t, ctx, c, "one", testonly.OutPoint(1, 0), testonly.ClaimID(0xaa), 10)
	mustAddClaim(t, ctx, c, "two", testonly.OutPoint(2, 0), testonly.ClaimID(0xab), 10)
	advance(t, ctx, c, 1)

	claim, ok, err := c.FindNameForClaim(ctx, []byte{0xaa, 0xaa})
	if err != nil || !ok {
		t.Fatalf("FindNameForClaim() = %v, %v", ok, err)
	}
	if claim.NodeName != "one" {
		t.Errorf("FindNameForClaim() resolved to %q, want \"one\"", claim.NodeName)
	}

	// the empty prefix matches both live ids, so it is ambiguous
	if _, ok, err := c.FindNameForClaim(ctx, nil); err != nil || ok {
		t.Errorf("FindNameForClaim(nil) = %v, %v; want no unique match", ok, err)
	}
	if _, ok, _ := c.FindNameForClaim(ctx, bytes.Repeat([]byte{0x01}, 21)); ok {
		t.Error("FindNameForClaim() accepted an over-long prefix")
	}
}

func TestRemovePreconditions(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testonly.Params())
	advance(t, ctx, c, 5)

	if _, ok, err := c.RemoveClaim(ctx, testonly.ClaimID(9), testonly.OutPoint(9, 9)); err != nil || ok {
		t.Errorf("RemoveClaim(unknown) = %v, %v; want false, nil", ok, err)
	}
	if _, ok, err := c.RemoveSupport(ctx, testonly.OutPoint(9, 9)); err != nil || ok {
		t.Errorf("RemoveSupport(unknown) = %v, %v; want false, nil", ok, err)
	}
	if got := mustRoot(t, ctx, c); !bytes.Equal(got, merkle.EmptyTrieHash) {
		t.Errorf("failed removals changed the root to %x", got)
	}
}

func TestIncrementDecrementRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testonly.Params())

	advance(t, ctx, c, 10)
	mustAddClaim(t, ctx, c, "stable", testonly.OutPoint(1, 0), testonly.ClaimID(1), 10)
	advance(t, ctx, c, 1)
	before := mustRoot(t, ctx, c)
	claimsBefore, err := c.ClaimsForName(ctx, "stable")
	if err != nil {
		t.Fatalf("ClaimsForName(): %v", err)
	}

	advance(t, ctx, c, 1)
	if err := c.DecrementBlock(ctx); err != nil {
		t.Fatalf("DecrementBlock(): %v", err)
	}
	if err := c.FinalizeDecrement(ctx); err != nil {
		t.Fatalf("FinalizeDecrement(): %v", err)
	}

	if got := mustRoot(t, ctx, c); !bytes.Equal(got, before) {
		t.Errorf("root = %x after increment+decrement, want %x", got, before)
	}
	claimsAfter, err := c.ClaimsForName(ctx, "stable")
	if err != nil {
		t.Fatalf("ClaimsForName(): %v", err)
	}
	if diff := cmp.Diff(claimsBefore, claimsAfter); diff != "" {
		t.Errorf("claim state changed across the round trip (-before +after):\n%s", diff)
	}
}

func TestActivationLists(t *testing.T) {
	ctx := context.Background()
	params := testonly.Params()
	params.ProportionalDelayFactor = 1
	c := newTestCache(t, params)

	advance(t, ctx, c, 100)
	opA, idA := testonly.OutPoint(1, 0), testonly.ClaimID(1)
	mustAddClaim(t, ctx, c, "lists", opA, idA, 100)
	advance(t, ctx, c, 10) // winner at 100, now at 110

	// a challenger accepted now activates at 110 + 10
	opB, idB := testonly.OutPoint(2, 0), testonly.ClaimID(2)
	mustAddClaim(t, ctx, c, "lists", opB, idB, 10)
	advance(t, ctx, c, 10)

	activated, err := c.ActivatedClaims(ctx, 120)
	if err != nil {
		t.Fatalf("ActivatedClaims(): %v", err)
	}
	if len(activated) != 1 || activated[0] != idB {
		t.Errorf("ActivatedClaims(120) = %v, want [%v]", activated, idB)
	}
}
