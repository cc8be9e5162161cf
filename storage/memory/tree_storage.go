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

// Package memory provides an in-memory claim-trie store over copy-on-write
// btrees. It backs tests and tooling; nothing here survives the process.
package memory

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/claimtrie/claimtrie"
	"github.com/claimtrie/claimtrie/merkle"
	"github.com/claimtrie/claimtrie/monitoring"
	"github.com/claimtrie/claimtrie/storage"
)

const btreeDegree = 8

type node struct {
	name   string
	parent string
	hash   []byte
}

type takeover struct {
	name   string
	height int32
	winner *claimtrie.ClaimID
}

func nodeLess(a, b *node) bool { return a.name < b.name }

func claimLess(a, b *claimtrie.Claim) bool {
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

func supportLess(a, b *claimtrie.Support) bool {
	if c := bytes.Compare(a.OutPoint.TxID[:], b.OutPoint.TxID[:]); c != 0 {
		return c < 0
	}
	return a.OutPoint.N < b.OutPoint.N
}

// latest takeover first within a name
func takeoverLess(a, b *takeover) bool {
	if a.name != b.name {
		return a.name < b.name
	}
	return a.height > b.height
}

type tables struct {
	nodes     *btree.BTreeG[*node]
	claims    *btree.BTreeG[*claimtrie.Claim]
	supports  *btree.BTreeG[*claimtrie.Support]
	takeovers *btree.BTreeG[*takeover]
}

func (t *tables) clone() *tables {
	return &tables{
		nodes:     t.nodes.Clone(),
		claims:    t.claims.Clone(),
		supports:  t.supports.Clone(),
		takeovers: t.takeovers.Clone(),
	}
}

type memStorage struct {
	mu      sync.Mutex
	current *tables
}

// NewTrieStorage returns an empty in-memory store seeded with the root node.
func NewTrieStorage() storage.TrieStorage {
	t := &tables{
		nodes:     btree.NewG(btreeDegree, nodeLess),
		claims:    btree.NewG(btreeDegree, claimLess),
		supports:  btree.NewG(btreeDegree, supportLess),
		takeovers: btree.NewG(btreeDegree, takeoverLess),
	}
	t.nodes.ReplaceOrInsert(&node{name: "", hash: merkle.EmptyTrieHash})
	return &memStorage{current: t}
}

func init() {
	if err := storage.RegisterProvider("memory", func(claimtrie.Params, monitoring.MetricFactory) (storage.Provider, error) {
		return &memProvider{ts: NewTrieStorage()}, nil
	}); err != nil {
		panic(err)
	}
}

type memProvider struct{ ts storage.TrieStorage }

func (p *memProvider) TrieStorage() (storage.TrieStorage, error) { return p.ts, nil }
func (p *memProvider) Close() error                              { return nil }

func (m *memStorage) Begin(ctx context.Context) (storage.TrieTX, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &memTX{ms: m, t: m.current.clone(), writable: true}, nil
}

func (m *memStorage) Reader() storage.TrieTX {
	return &memTX{ms: m}
}

func (m *memStorage) Sync(ctx context.Context) error { return nil }
func (m *memStorage) Close() error                   { return nil }

// memTX is a transaction over cloned tables; a reader (writable false)
// reads the live tables instead.
type memTX struct {
	ms       *memStorage
	t        *tables
	writable bool
	done     bool
}

func (t *memTX) tables() *tables {
	if t.t != nil {
		return t.t
	}
	t.ms.mu.Lock()
	defer t.ms.mu.Unlock()
	return t.ms.current
}

func (t *memTX) Commit() error {
	if !t.writable || t.done {
		return nil
	}
	t.ms.mu.Lock()
	t.ms.current = t.t
	t.ms.mu.Unlock()
	t.done = true
	return nil
}

func (t *memTX) Rollback() error {
	t.done = true
	return nil
}

func (t *memTX) Close() error {
	t.done = true
	return nil
}

func live(activation, expiration, height int32) bool {
	return activation < height && expiration >= height
}
