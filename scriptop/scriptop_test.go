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

package scriptop

import (
	"context"
	"testing"

	"github.com/claimtrie/claimtrie"
	"github.com/claimtrie/claimtrie/monitoring"
	"github.com/claimtrie/claimtrie/storage/memory"
	"github.com/claimtrie/claimtrie/testonly"
	"github.com/claimtrie/claimtrie/trie"
)

func newCache(t *testing.T) *trie.Cache {
	t.Helper()
	tr := trie.New(memory.NewTrieStorage(), testonly.Params(), monitoring.InertMetricFactory{})
	c := tr.NewCache()
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewClaimID(t *testing.T) {
	a := NewClaimID(testonly.OutPoint(1, 0))
	b := NewClaimID(testonly.OutPoint(1, 1))
	c := NewClaimID(testonly.OutPoint(2, 0))
	if a == b || a == c || b == c {
		t.Errorf("claim ids of distinct outpoints collide: %v %v %v", a, b, c)
	}
	if a != NewClaimID(testonly.OutPoint(1, 0)) {
		t.Error("claim id derivation is not deterministic")
	}
}

func TestAddSpendUndoSpend(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)
	for i := 0; i < 10; i++ {
		if err := c.IncrementBlock(ctx); err != nil {
			t.Fatalf("IncrementBlock(): %v", err)
		}
	}

	point := testonly.OutPoint(1, 0)
	op := Op{Kind: ClaimName, Name: "movie"}
	add := &Handler{Kind: Add, Point: point, Amount: 100, Height: 10}
	if ok, err := Process(ctx, add, c, op); err != nil || !ok {
		t.Fatalf("Process(Add) = %v, %v", ok, err)
	}
	if err := c.IncrementBlock(ctx); err != nil {
		t.Fatalf("IncrementBlock(): %v", err)
	}

	id := NewClaimID(point)
	if info, ok, _ := c.InfoForName(ctx, "movie"); !ok || info.ID != id {
		t.Fatalf("InfoForName() after add = %v, %v", info.ID, ok)
	}

	spend := &Handler{Kind: Spend, Point: point, Height: 11}
	if ok, err := Process(ctx, spend, c, op); err != nil || !ok {
		t.Fatalf("Process(Spend) = %v, %v", ok, err)
	}
	if spend.SpentValidHeight != 10 || spend.SpentOriginalHeight != 10 {
		t.Errorf("spend undo data = (%d, %d), want (10, 10)", spend.SpentValidHeight, spend.SpentOriginalHeight)
	}
	if _, ok, _ := c.InfoForName(ctx, "movie"); ok {
		t.Error("claim survived its spend")
	}

	undo := &Handler{
		Kind: UndoSpend, Point: point, Amount: 100, Height: 10,
		ValidHeight: spend.SpentValidHeight, OriginalHeight: spend.SpentOriginalHeight,
	}
	if ok, err := Process(ctx, undo, c, op); err != nil || !ok {
		t.Fatalf("Process(UndoSpend) = %v, %v", ok, err)
	}
	claims, err := c.ClaimsForName(ctx, "movie")
	if err != nil || len(claims.Claims) != 1 {
		t.Fatalf("ClaimsForName() after undo-spend = %+v, %v", claims, err)
	}
	restored := claims.Claims[0]
	if restored.ValidHeight != 10 || restored.OriginalHeight != 10 {
		t.Errorf("restored claim heights = (%d, %d), want (10, 10)", restored.ValidHeight, restored.OriginalHeight)
	}
}

func TestSpendUnknownInput(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)
	spend := &Handler{Kind: Spend, Point: testonly.OutPoint(7, 7), Height: 5}
	if ok, err := Process(ctx, spend, c, Op{Kind: ClaimName, Name: "nope"}); err != nil || ok {
		t.Errorf("Process(Spend, unknown) = %v, %v; want false, nil", ok, err)
	}
}

func TestUpdateTrieCarriesOriginalHeight(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)
	for i := 0; i < 10; i++ {
		if err := c.IncrementBlock(ctx); err != nil {
			t.Fatalf("IncrementBlock(): %v", err)
		}
	}

	// block 10: a fresh claim
	var creator claimtrie.TxID
	creator[0] = 1
	createPoint := claimtrie.OutPoint{TxID: creator, N: 0}
	id := NewClaimID(createPoint)
	create := &Tx{ID: creator, Outputs: []TxOut{{N: 0, Amount: 100, Op: Op{Kind: ClaimName, Name: "serial"}}}}
	if err := UpdateTrie(ctx, c, create, 10, Callbacks{}); err != nil {
		t.Fatalf("UpdateTrie(create): %v", err)
	}
	if err := c.IncrementBlock(ctx); err != nil {
		t.Fatalf("IncrementBlock(): %v", err)
	}

	// block 11: spend it and update in one transaction
	var updater claimtrie.TxID
	updater[0] = 2
	var undoValid, undoOriginal int32
	update := &Tx{
		ID:      updater,
		Inputs:  []claimtrie.OutPoint{createPoint},
		Outputs: []TxOut{{N: 0, Amount: 150, Op: Op{Kind: UpdateClaim, Name: "serial", ClaimID: id}}},
	}
	cb := Callbacks{
		FindOp: func(point claimtrie.OutPoint) (Op, bool) {
			if point == createPoint {
				return Op{Kind: ClaimName, Name: "serial"}, true
			}
			return Op{}, false
		},
		ClaimUndoHeights: func(i int, valid, original int32) {
			undoValid, undoOriginal = valid, original
		},
	}
	if err := UpdateTrie(ctx, c, update, 11, cb); err != nil {
		t.Fatalf("UpdateTrie(update): %v", err)
	}
	if undoValid != 10 || undoOriginal != 10 {
		t.Errorf("undo heights = (%d, %d), want (10, 10)", undoValid, undoOriginal)
	}
	if err := c.IncrementBlock(ctx); err != nil {
		t.Fatalf("IncrementBlock(): %v", err)
	}

	claims, err := c.ClaimsForName(ctx, "serial")
	if err != nil || len(claims.Claims) != 1 {
		t.Fatalf("ClaimsForName() = %+v, %v", claims, err)
	}
	got := claims.Claims[0]
	if got.ID != id {
		t.Errorf("update changed the claim id to %v", got.ID)
	}
	if got.OriginalHeight != 10 || got.UpdateHeight != 11 {
		t.Errorf("heights = (original %d, update %d), want (10, 11)", got.OriginalHeight, got.UpdateHeight)
	}
	if got.Amount != 150 {
		t.Errorf("amount = %d, want the updated 150", got.Amount)
	}
}
