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

// Package main contains the implementation and entry point for the trie_util
// command, the operational inspector of a claim store.
//
// Example usage:
// $ ./trie_util --storage_system=sqlite --data_dir=/var/lib/claims --op=root
//
// The output is minimal to allow for easy usage in automated scripts; the
// command exits non-zero when the requested check fails.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"

	"k8s.io/klog/v2"

	"github.com/claimtrie/claimtrie"
	"github.com/claimtrie/claimtrie/monitoring"
	"github.com/claimtrie/claimtrie/storage"
	"github.com/claimtrie/claimtrie/trie"

	// Load supported storage providers
	_ "github.com/claimtrie/claimtrie/storage/memory"
	_ "github.com/claimtrie/claimtrie/storage/mysql"
	_ "github.com/claimtrie/claimtrie/storage/sqlite"
)

var (
	storageSystem = flag.String("storage_system", "sqlite", fmt.Sprintf("Storage system to use, one of: %v", storage.Providers()))
	dataDir       = flag.String("data_dir", "", "Directory holding the claim store")
	cacheBytes    = flag.Int64("cache_bytes", 32<<20, "Memory budget of the store's page cache")
	op            = flag.String("op", "root", "Operation: root | validate | consistency | names | stats | info")
	blockHeight   = flag.Int("block_height", 0, "Height of the block being checked (validate)")
	rootHash      = flag.String("root_hash", "", "Expected Merkle root in hex (validate)")
	name          = flag.String("name", "", "Claim name to look up (info)")
)

func run(ctx context.Context, cache *trie.Cache) error {
	switch *op {
	case "root":
		root, err := cache.MerkleHash(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%x\n", root)
		return nil

	case "validate":
		expected, err := hex.DecodeString(*rootHash)
		if err != nil {
			return fmt.Errorf("bad --root_hash: %w", err)
		}
		if !cache.ValidateDB(ctx, int32(*blockHeight), expected) {
			return errors.New("claim store does not match the declared root")
		}
		fmt.Println("ok")
		return nil

	case "consistency":
		if err := cache.CheckConsistency(ctx); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil

	case "names":
		return cache.NamesInTrie(ctx, func(name string) error {
			fmt.Printf("%q\n", name)
			return nil
		})

	case "stats":
		names, err := cache.TotalNames(ctx)
		if err != nil {
			return err
		}
		claims, err := cache.TotalClaims(ctx)
		if err != nil {
			return err
		}
		value, err := cache.TotalClaimValue(ctx, false)
		if err != nil {
			return err
		}
		controlling, err := cache.TotalClaimValue(ctx, true)
		if err != nil {
			return err
		}
		fmt.Printf("names: %d\nclaims: %d\nvalue: %d\ncontrolling value: %d\n", names, claims, value, controlling)
		return nil

	case "info":
		info, ok, err := cache.InfoForName(ctx, *name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no controlling claim for %q", *name)
		}
		fmt.Printf("claim %s at %s, effective amount %d\n", info.ID, info.OutPoint, info.EffectiveAmount)
		return nil
	}
	return fmt.Errorf("unknown --op %q", *op)
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()
	ctx := context.Background()

	params := claimtrie.MainNetParams
	params.DataDir = *dataDir
	params.CacheBytes = *cacheBytes

	provider, err := storage.NewProvider(*storageSystem, params, monitoring.InertMetricFactory{})
	if err != nil {
		klog.Exitf("Failed to open storage provider %q: %v", *storageSystem, err)
	}
	defer provider.Close()
	store, err := provider.TrieStorage()
	if err != nil {
		klog.Exitf("Failed to open claim store: %v", err)
	}

	cache := trie.New(store, params, monitoring.InertMetricFactory{}).NewCache()
	defer cache.Close()
	if err := run(ctx, cache); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
