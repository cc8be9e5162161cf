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

// Package sqlite provides the embedded claim-trie store. This is the
// consensus backend: one SQLite file per node under the data directory, WAL
// journalled, with commit durability deferred to the block driver's explicit
// sync.
package sqlite

import (
	"flag"

	"k8s.io/klog/v2"

	"github.com/claimtrie/claimtrie"
	"github.com/claimtrie/claimtrie/monitoring"
	"github.com/claimtrie/claimtrie/storage"
	"github.com/claimtrie/claimtrie/storage/coresql"
)

var wipeExisting = flag.Bool("sqlite_wipe", false, "Empty the claim tables on open, keeping the file")

func init() {
	if err := storage.RegisterProvider("sqlite", newSQLiteStorageProvider); err != nil {
		klog.Fatalf("Failed to register storage provider sqlite: %v", err)
	}
}

type sqliteProvider struct {
	params claimtrie.Params
	mf     monitoring.MetricFactory
	wrap   coresql.DBWrapper
}

func newSQLiteStorageProvider(params claimtrie.Params, mf monitoring.MetricFactory) (storage.Provider, error) {
	wrap, err := OpenDB(params.DataDir, params.CacheBytes, *wipeExisting)
	if err != nil {
		return nil, err
	}
	return &sqliteProvider{params: params, mf: mf, wrap: wrap}, nil
}

// New opens a provider without consulting flags; tests and embedders use it
// directly.
func New(params claimtrie.Params, wipe bool) (storage.Provider, error) {
	wrap, err := OpenDB(params.DataDir, params.CacheBytes, wipe)
	if err != nil {
		return nil, err
	}
	return &sqliteProvider{params: params, mf: monitoring.InertMetricFactory{}, wrap: wrap}, nil
}

func (s *sqliteProvider) TrieStorage() (storage.TrieStorage, error) {
	return coresql.NewTrieStorage(s.wrap), nil
}

func (s *sqliteProvider) Close() error {
	return s.wrap.DB().Close()
}
