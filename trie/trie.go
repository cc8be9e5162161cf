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

// Package trie implements the claim-trie cache engine: claim and support
// bookkeeping, the activation/expiration/takeover state machine, radix
// structure maintenance, Merkle hashing and proofs. The engine is single
// writer; one Cache at a time drives mutations, and its transaction either
// reaches the store through Flush or dies with the Cache.
package trie

import (
	"context"
	"sync"

	"github.com/claimtrie/claimtrie"
	"github.com/claimtrie/claimtrie/monitoring"
	"github.com/claimtrie/claimtrie/storage"
)

// NameAdjuster rewrites the name a claim is filed under, given the height
// the claim becomes valid at. The default is the identity; the
// normalization fork installs a folding adjuster via WithNameAdjuster.
type NameAdjuster func(name string, validHeight int32) string

type metrics struct {
	blocksApplied monitoring.Counter
	blocksRewound monitoring.Counter
	takeovers     monitoring.Counter
	nodeHashes    monitoring.Counter
	flushLatency  monitoring.Histogram
}

var (
	metricsOnce sync.Once
	m           *metrics
)

func createMetrics(mf monitoring.MetricFactory) {
	metricsOnce.Do(func() {
		m = &metrics{
			blocksApplied: mf.NewCounter("claimtrie_blocks_applied", "Number of blocks applied forward"),
			blocksRewound: mf.NewCounter("claimtrie_blocks_rewound", "Number of blocks rewound"),
			takeovers:     mf.NewCounter("claimtrie_takeovers", "Number of takeover records written"),
			nodeHashes:    mf.NewCounter("claimtrie_node_hashes", "Number of node hashes recomputed"),
			flushLatency:  mf.NewHistogram("claimtrie_flush_latency", "Latency of cache flushes in seconds"),
		}
	})
}

// Trie is the shared handle on an open claim store. It carries the height
// the next block will be applied at; caches observe it at creation and
// publish their own back on Flush.
type Trie struct {
	store      storage.TrieStorage
	params     claimtrie.Params
	nextHeight int32
}

// New wraps an open store. The store is assumed to hold state as of
// height-1, so nextHeight is the first unapplied block.
func New(store storage.TrieStorage, params claimtrie.Params, mf monitoring.MetricFactory) *Trie {
	if mf == nil {
		mf = monitoring.InertMetricFactory{}
	}
	createMetrics(mf)
	return &Trie{store: store, params: params, nextHeight: params.StartHeight}
}

// Params returns the consensus parameters the trie was built with.
func (t *Trie) Params() claimtrie.Params { return t.params }

// NextHeight returns the height the next block will be applied at.
func (t *Trie) NextHeight() int32 { return t.nextHeight }

// SyncToDisk forces all committed state onto durable media.
func (t *Trie) SyncToDisk(ctx context.Context) error {
	return t.store.Sync(ctx)
}

// Empty reports whether no claim is live at the current height. Only used
// for testing.
func (t *Trie) Empty(ctx context.Context) (bool, error) {
	n, err := t.store.Reader().TotalClaims(ctx, t.nextHeight)
	return n == 0, err
}
