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

// Package storage defines the interfaces between the claim-trie engine and
// its persistent stores, and the registry through which store
// implementations are selected.
package storage

import (
	"context"
	"errors"

	"github.com/claimtrie/claimtrie"
)

// ErrNotFound is returned by lookups whose subject does not exist.
var ErrNotFound = errors.New("storage: not found")

// NodeHash pairs a trie node name with its stored subtree hash.
type NodeHash struct {
	Name string
	Hash []byte
}

// TrieStorage is an open claim-trie store. One store may serve many
// transactions, but the engine is single-writer: at most one read-write
// transaction is live at a time.
type TrieStorage interface {
	// Begin starts a read-write transaction.
	Begin(ctx context.Context) (TrieTX, error)
	// Reader returns an autocommit view of the last committed state. Its
	// Commit and Rollback are no-ops.
	Reader() TrieTX
	// Sync forces everything committed so far onto durable media.
	Sync(ctx context.Context) error
	// Close releases prepared statements and the underlying connections.
	Close() error
}

// TrieTX is the transactional surface the engine drives. Every operation of
// the cache engine maps onto one of these calls; SQL implementations back
// each with a prepared statement reused across calls.
//
// Height parameters follow the engine's convention: a claim or support is
// live at height H iff activationHeight < H and expirationHeight >= H.
type TrieTX interface {
	// --- claims ---

	InsertClaim(ctx context.Context, c *claimtrie.Claim) error
	// LookupClaim finds the unexpired claim with the given id and outpoint
	// and returns its node name, activation height and original height.
	LookupClaim(ctx context.Context, id claimtrie.ClaimID, op claimtrie.OutPoint, height int32) (nodeName string, activation, original int32, err error)
	// DeleteClaim removes the claim row; it reports whether a row went away.
	DeleteClaim(ctx context.Context, id claimtrie.ClaimID, op claimtrie.OutPoint) (bool, error)
	HaveClaim(ctx context.Context, nodeName string, op claimtrie.OutPoint, height int32) (bool, error)
	// ClaimInQueue finds a claim filed under nodeName at op that has not yet
	// activated and returns the height it will activate at.
	ClaimInQueue(ctx context.Context, nodeName string, op claimtrie.OutPoint, height int32) (int32, error)
	// ClaimsForName returns every unexpired claim filed under nodeName.
	ClaimsForName(ctx context.Context, nodeName string, height int32) ([]claimtrie.Claim, error)
	// BestClaim returns the live claim with the highest effective amount
	// under nodeName, ties broken by update height then outpoint.
	BestClaim(ctx context.Context, nodeName string, height int32) (claimtrie.ClaimInfo, error)
	// FindClaimsByReversedIDPrefix returns up to limit live claims whose
	// byte-reversed claim id starts with prefix.
	FindClaimsByReversedIDPrefix(ctx context.Context, prefix []byte, height int32, limit int) ([]claimtrie.Claim, error)
	NamesInTrie(ctx context.Context, height int32, fn func(name string) error) error
	ActivatedClaimIDs(ctx context.Context, height int32) ([]claimtrie.ClaimID, error)
	ExpiredClaimIDs(ctx context.Context, height int32) ([]claimtrie.ClaimID, error)
	TotalNames(ctx context.Context, height int32) (int64, error)
	TotalClaims(ctx context.Context, height int32) (int64, error)
	TotalClaimValue(ctx context.Context, height int32, controllingOnly bool) (int64, error)

	// --- supports ---

	InsertSupport(ctx context.Context, s *claimtrie.Support) error
	// LookupSupport finds the unexpired support at op and returns its node
	// name and activation height.
	LookupSupport(ctx context.Context, op claimtrie.OutPoint, height int32) (nodeName string, activation int32, err error)
	DeleteSupport(ctx context.Context, op claimtrie.OutPoint) (bool, error)
	HaveSupport(ctx context.Context, nodeName string, op claimtrie.OutPoint, height int32) (bool, error)
	SupportInQueue(ctx context.Context, nodeName string, op claimtrie.OutPoint, height int32) (int32, error)
	// SupportsForName returns every unexpired support filed under nodeName.
	SupportsForName(ctx context.Context, nodeName string, height int32) ([]claimtrie.Support, error)
	ClaimIDsWithActivatedSupports(ctx context.Context, height int32) ([]claimtrie.ClaimID, error)
	ClaimIDsWithExpiredSupports(ctx context.Context, height int32) ([]claimtrie.ClaimID, error)

	// --- nodes ---

	// UpsertDirtyNode inserts the node if absent and clears its hash either
	// way. The parent link is left for the structure pass to fix.
	UpsertDirtyNode(ctx context.Context, name string) error
	// MarkNodeDirty clears the hash of an existing node; absent names are
	// ignored.
	MarkNodeDirty(ctx context.Context, name string) error
	// InsertOrReparentNode inserts name under parent, or repoints an
	// existing row at parent; the hash is cleared either way.
	InsertOrReparentNode(ctx context.Context, name, parent string) error
	SetNodeParent(ctx context.Context, name, parent string) error
	DeleteNode(ctx context.Context, name string) (bool, error)
	NodeParent(ctx context.Context, name string) (string, error)
	// ChildCountAndMax returns how many children parent has and the
	// lexically greatest child name.
	ChildCountAndMax(ctx context.Context, parent string) (int64, string, error)
	LiveClaimCount(ctx context.Context, nodeName string, height int32) (int64, error)
	// LongestExistingPrefix returns the longest node name that is a prefix
	// of name (the root's empty name always matches).
	LongestExistingPrefix(ctx context.Context, name string) (string, error)
	ChildNames(ctx context.Context, parent string) ([]string, error)
	// ChildHashes returns parent's children with their stored hashes in
	// ascending name order.
	ChildHashes(ctx context.Context, parent string) ([]NodeHash, error)
	// DirtyNodeNames returns the names of every node with a cleared hash in
	// ascending order.
	DirtyNodeNames(ctx context.Context) ([]string, error)
	// DirtyNodesByLengthDesc visits dirty nodes longest name first, handing
	// each the height of its latest takeover (zero when uncontrolled).
	DirtyNodesByLengthDesc(ctx context.Context, fn func(name string, takeoverHeight int32) error) error
	SetNodeHash(ctx context.Context, name string, hash []byte) error
	RootHash(ctx context.Context) ([]byte, error)
	// PropagateDirty clears the hash of every ancestor of a dirty node.
	PropagateDirty(ctx context.Context) error
	// HasDistinctChildSubtrees reports whether at least required distinct
	// next-byte branches of live claims root strictly below name. It is
	// false whenever a live claim sits at name itself.
	HasDistinctChildSubtrees(ctx context.Context, name string, height int32, required int) (bool, error)
	// AncestorPath visits the existing nodes whose names prefix name
	// (including name itself if present), shallowest first, with each
	// node's latest takeover height (zero when uncontrolled).
	AncestorPath(ctx context.Context, name string, fn func(nodeName string, takeoverHeight int32) error) error
	// ConsistencyRows visits up to limit randomly sampled nodes, plus every
	// child of the root, with stored hash and takeover height.
	ConsistencyRows(ctx context.Context, limit int64, fn func(name string, hash []byte, takeoverHeight int32) error) error

	// --- takeovers ---

	InsertTakeover(ctx context.Context, name string, height int32, winner *claimtrie.ClaimID) error
	// LastTakeover returns the latest takeover row for name.
	LastTakeover(ctx context.Context, name string) (claimtrie.Takeover, error)
	DeleteTakeoversFrom(ctx context.Context, height int32) error

	// --- block transitions ---

	// DirtyNodesForActivatedClaims marks (inserting if needed) the node of
	// every claim activating at height and surviving past it.
	DirtyNodesForActivatedClaims(ctx context.Context, height int32) error
	// DirtyNodesForBoundaryEvents marks existing nodes touched by claims
	// expiring at height and supports activating or expiring at height.
	DirtyNodesForBoundaryEvents(ctx context.Context, height int32) error
	// ActivateAllFor pulls activation down to height for every pending
	// claim and support under name; it reports whether anything moved.
	ActivateAllFor(ctx context.Context, name string, height int32) (bool, error)
	// DirtyNodesForDecrement marks nodes for the rewind to height: claim
	// expirations insert nodes, claim/support activation or support
	// expiration mark existing ones.
	DirtyNodesForDecrement(ctx context.Context, height int32) error
	ResetClaimActivations(ctx context.Context, height int32) error
	ResetSupportActivations(ctx context.Context, height int32) error
	// DirtyNodesForFinalize marks nodes of surviving rows whose activation
	// equals height and nodes with a takeover row at height.
	DirtyNodesForFinalize(ctx context.Context, height int32) error

	// --- maintenance ---

	// IntegrityCheck runs the backend's own structural check.
	IntegrityCheck(ctx context.Context) error
	// EnsureReverseClaimIDIndex creates the unique reverse-claim-id lookup
	// index if it does not exist yet.
	EnsureReverseClaimIDIndex(ctx context.Context) error

	Commit() error
	Rollback() error
	// Close rolls back if the transaction is still open.
	Close() error
}
