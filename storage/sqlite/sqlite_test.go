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

package sqlite_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/claimtrie/claimtrie/merkle"
	"github.com/claimtrie/claimtrie/monitoring"
	"github.com/claimtrie/claimtrie/storage/sqlite"
	"github.com/claimtrie/claimtrie/storage/testdb"
	"github.com/claimtrie/claimtrie/testonly"
	"github.com/claimtrie/claimtrie/trie"
)

func TestRootNodeSeeded(t *testing.T) {
	ctx := context.Background()
	store := testdb.NewSQLiteStorage(t, testonly.Params())

	hash, err := store.Reader().RootHash(ctx)
	if err != nil {
		t.Fatalf("RootHash(): %v", err)
	}
	if !bytes.Equal(hash, merkle.EmptyTrieHash) {
		t.Errorf("fresh store root = %x, want the empty-trie sentinel", hash)
	}
}

func TestFlushAndReopen(t *testing.T) {
	ctx := context.Background()
	params := testonly.Params()
	params.DataDir = t.TempDir()

	provider, err := sqlite.New(params, false)
	if err != nil {
		t.Fatalf("sqlite.New(): %v", err)
	}
	store, err := provider.TrieStorage()
	if err != nil {
		t.Fatalf("TrieStorage(): %v", err)
	}

	tr := trie.New(store, params, monitoring.InertMetricFactory{})
	cache := tr.NewCache()
	for i := 0; i < 10; i++ {
		if err := cache.IncrementBlock(ctx); err != nil {
			t.Fatalf("IncrementBlock(): %v", err)
		}
	}
	for i, name := range []string{"persist", "persimmon", "pearl"} {
		err := cache.AddClaim(ctx, name, testonly.OutPoint(byte(i+1), 0), testonly.ClaimID(byte(i+1)),
			int64(100+i), cache.NextHeight(), 0, 0)
		if err != nil {
			t.Fatalf("AddClaim(%q): %v", name, err)
		}
	}
	if err := cache.IncrementBlock(ctx); err != nil {
		t.Fatalf("IncrementBlock(): %v", err)
	}
	root, err := cache.MerkleHash(ctx)
	if err != nil {
		t.Fatalf("MerkleHash(): %v", err)
	}
	if err := cache.Flush(ctx); err != nil {
		t.Fatalf("Flush(): %v", err)
	}
	if err := tr.SyncToDisk(ctx); err != nil {
		t.Fatalf("SyncToDisk(): %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("store.Close(): %v", err)
	}

	// reopen the same data directory; the root must come back byte for byte
	reopened, err := sqlite.New(params, false)
	if err != nil {
		t.Fatalf("sqlite.New(reopen): %v", err)
	}
	store2, err := reopened.TrieStorage()
	if err != nil {
		t.Fatalf("TrieStorage(reopen): %v", err)
	}
	defer store2.Close()

	params2 := params
	params2.StartHeight = 11
	cache2 := trie.New(store2, params2, monitoring.InertMetricFactory{}).NewCache()
	defer cache2.Close()

	root2, err := cache2.MerkleHash(ctx)
	if err != nil {
		t.Fatalf("MerkleHash(reopen): %v", err)
	}
	if !bytes.Equal(root, root2) {
		t.Errorf("root after reopen = %x, want %x", root2, root)
	}
	if err := cache2.CheckConsistency(ctx); err != nil {
		t.Errorf("CheckConsistency(reopen) = %v", err)
	}
	if n, err := cache2.TotalClaims(ctx); err != nil || n != 3 {
		t.Errorf("TotalClaims(reopen) = %d, %v; want 3", n, err)
	}
}

func TestRollbackOnClose(t *testing.T) {
	ctx := context.Background()
	store := testdb.NewSQLiteStorage(t, testonly.Params())
	tr := trie.New(store, testonly.Params(), monitoring.InertMetricFactory{})

	cache := tr.NewCache()
	if err := cache.AddClaim(ctx, "doomed", testonly.OutPoint(1, 0), testonly.ClaimID(1), 5, 0, 0, 0); err != nil {
		t.Fatalf("AddClaim(): %v", err)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("Close(): %v", err)
	}

	// the abandoned transaction must leave no trace
	if n, err := store.Reader().TotalClaims(ctx, 100); err != nil || n != 0 {
		t.Errorf("TotalClaims() after abandoned cache = %d, %v; want 0", n, err)
	}
}
