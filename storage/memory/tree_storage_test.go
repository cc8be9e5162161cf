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
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/claimtrie/claimtrie"
	"github.com/claimtrie/claimtrie/storage"
	"github.com/claimtrie/claimtrie/testonly"
)

func TestTransactionIsolation(t *testing.T) {
	ctx := context.Background()
	ms := NewTrieStorage()

	tx, err := ms.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin(): %v", err)
	}
	claim := &claimtrie.Claim{
		ID:               testonly.ClaimID(1),
		Name:             "iso",
		NodeName:         "iso",
		OutPoint:         testonly.OutPoint(1, 0),
		Amount:           10,
		ActivationHeight: 1,
		ExpirationHeight: 100,
	}
	if err := tx.InsertClaim(ctx, claim); err != nil {
		t.Fatalf("InsertClaim(): %v", err)
	}

	// the reader must not see uncommitted rows
	if n, _ := ms.Reader().TotalClaims(ctx, 50); n != 0 {
		t.Errorf("reader sees %d uncommitted claims", n)
	}
	if n, _ := tx.TotalClaims(ctx, 50); n != 1 {
		t.Errorf("transaction sees %d of its own claims, want 1", n)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback(): %v", err)
	}
	if n, _ := ms.Reader().TotalClaims(ctx, 50); n != 0 {
		t.Errorf("rollback leaked %d claims", n)
	}

	tx, err = ms.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin(): %v", err)
	}
	if err := tx.InsertClaim(ctx, claim); err != nil {
		t.Fatalf("InsertClaim(): %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit(): %v", err)
	}
	if n, _ := ms.Reader().TotalClaims(ctx, 50); n != 1 {
		t.Errorf("commit published %d claims, want 1", n)
	}
}

func TestLastTakeoverOrdering(t *testing.T) {
	ctx := context.Background()
	ms := NewTrieStorage()
	tx, err := ms.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin(): %v", err)
	}
	defer tx.Close()

	idA, idB := testonly.ClaimID(0xa), testonly.ClaimID(0xb)
	for _, row := range []struct {
		height int32
		id     *claimtrie.ClaimID
	}{{10, &idA}, {20, &idB}, {15, nil}} {
		if err := tx.InsertTakeover(ctx, "name", row.height, row.id); err != nil {
			t.Fatalf("InsertTakeover(%d): %v", row.height, err)
		}
	}
	// a different name must not shadow the lookup
	if err := tx.InsertTakeover(ctx, "namely", 99, &idA); err != nil {
		t.Fatalf("InsertTakeover(namely): %v", err)
	}

	tk, err := tx.LastTakeover(ctx, "name")
	if err != nil {
		t.Fatalf("LastTakeover(): %v", err)
	}
	if tk.Height != 20 || tk.WinnerID == nil || *tk.WinnerID != idB {
		t.Errorf("LastTakeover() = (%d, %v), want the highest row (20, %v)", tk.Height, tk.WinnerID, idB)
	}

	if err := tx.DeleteTakeoversFrom(ctx, 16); err != nil {
		t.Fatalf("DeleteTakeoversFrom(): %v", err)
	}
	tk, err = tx.LastTakeover(ctx, "name")
	if err != nil {
		t.Fatalf("LastTakeover(): %v", err)
	}
	if tk.Height != 15 || tk.WinnerID != nil {
		t.Errorf("LastTakeover() after delete = (%d, %v), want the null row at 15", tk.Height, tk.WinnerID)
	}

	if _, err := tx.LastTakeover(ctx, "unknown"); err != storage.ErrNotFound {
		t.Errorf("LastTakeover(unknown) = %v, want ErrNotFound", err)
	}
}

func TestChildHashesOrdered(t *testing.T) {
	ctx := context.Background()
	ms := NewTrieStorage()
	tx, err := ms.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin(): %v", err)
	}
	defer tx.Close()

	for _, name := range []string{"zeta", "apple", "mango"} {
		if err := tx.InsertOrReparentNode(ctx, name, ""); err != nil {
			t.Fatalf("InsertOrReparentNode(%q): %v", name, err)
		}
		if err := tx.SetNodeHash(ctx, name, []byte{name[0]}); err != nil {
			t.Fatalf("SetNodeHash(%q): %v", name, err)
		}
	}

	hashes, err := tx.ChildHashes(ctx, "")
	if err != nil {
		t.Fatalf("ChildHashes(): %v", err)
	}
	want := []storage.NodeHash{
		{Name: "apple", Hash: []byte{'a'}},
		{Name: "mango", Hash: []byte{'m'}},
		{Name: "zeta", Hash: []byte{'z'}},
	}
	if diff := cmp.Diff(want, hashes); diff != "" {
		t.Errorf("ChildHashes() wrong order (-want +got):\n%s", diff)
	}
}

func TestHasDistinctChildSubtrees(t *testing.T) {
	ctx := context.Background()
	ms := NewTrieStorage()
	tx, err := ms.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin(): %v", err)
	}
	defer tx.Close()

	add := func(nodeName string, fill byte) {
		t.Helper()
		err := tx.InsertClaim(ctx, &claimtrie.Claim{
			ID:               testonly.ClaimID(fill),
			Name:             nodeName,
			NodeName:         nodeName,
			OutPoint:         testonly.OutPoint(fill, 0),
			ActivationHeight: 1,
			ExpirationHeight: 1000,
		})
		if err != nil {
			t.Fatalf("InsertClaim(%q): %v", nodeName, err)
		}
	}
	add("ab", 1)
	add("ac", 2)

	if got, _ := tx.HasDistinctChildSubtrees(ctx, "a", 10, 2); !got {
		t.Error("two branches below \"a\" not detected")
	}
	if got, _ := tx.HasDistinctChildSubtrees(ctx, "a", 10, 3); got {
		t.Error("three branches reported where only two exist")
	}

	// a live claim at the name itself disqualifies it
	add("a", 3)
	if got, _ := tx.HasDistinctChildSubtrees(ctx, "a", 10, 2); got {
		t.Error("a name holding its own live claim cannot be an implicit branch node")
	}
}
