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

// Package coresql implements the claim-trie storage interfaces on top of
// database/sql. The statements live in a per-dialect Queries set supplied by
// a DBWrapper; everything else — transactions, statement reuse, row mapping —
// is shared between the SQL backends.
package coresql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"github.com/claimtrie/claimtrie"
	"github.com/claimtrie/claimtrie/storage"
)

// Runner is the query surface shared by *sql.DB and *sql.Tx.
type Runner interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DBWrapper adapts one SQL engine: it owns the connection pool, serves the
// dialect's query text, and covers the operations whose syntax or semantics
// cannot be expressed as a shared prepared statement.
type DBWrapper interface {
	DB() *sql.DB
	Queries() *Queries
	// IntegrityCheck runs the engine's own structural check on r.
	IntegrityCheck(ctx context.Context, r Runner) error
	// EnsureReverseClaimIDIndex creates the unique REVERSE(claimID) index if
	// it is not present yet.
	EnsureReverseClaimIDIndex(ctx context.Context, r Runner) error
	// Sync forces committed data onto durable media.
	Sync(ctx context.Context) error
}

// subtreeUpperBoundPad is appended to a name to bound range scans over its
// subtree. The pad byte and width are consensus; they must not be widened.
var subtreeUpperBoundPad = strings.Repeat("\x7f", claimtrie.MaxClaimNameSize+1)

// NewTrieStorage returns a TrieStorage over the wrapped database.
func NewTrieStorage(wrap DBWrapper) storage.TrieStorage {
	ts := &trieStorage{wrap: wrap, stmts: newStmtCache(wrap.DB())}
	ts.reader = &trieTX{ts: ts, runner: wrap.DB()}
	return ts
}

type trieStorage struct {
	wrap   DBWrapper
	stmts  *stmtCache
	reader *trieTX
}

func (m *trieStorage) Begin(ctx context.Context) (storage.TrieTX, error) {
	tx, err := m.wrap.DB().BeginTx(ctx, nil /* opts */)
	if err != nil {
		klog.Warningf("Could not start trie TX: %v", err)
		return nil, err
	}
	return &trieTX{ts: m, tx: tx, runner: tx}, nil
}

func (m *trieStorage) Reader() storage.TrieTX {
	return m.reader
}

func (m *trieStorage) Sync(ctx context.Context) error {
	return m.wrap.Sync(ctx)
}

func (m *trieStorage) Close() error {
	m.stmts.close()
	return m.wrap.DB().Close()
}

// trieTX serves both transactional and autocommit (reader) access: with a
// nil tx it runs each cached statement directly against the pool.
type trieTX struct {
	ts     *trieStorage
	tx     *sql.Tx
	runner Runner
	closed bool
}

func (t *trieTX) q() *Queries { return t.ts.wrap.Queries() }

// stmt returns the cached prepared statement for query, bound to the
// transaction when one is open.
func (t *trieTX) stmt(ctx context.Context, query string) (*sql.Stmt, error) {
	s, err := t.ts.stmts.get(ctx, query)
	if err != nil {
		return nil, err
	}
	if t.tx != nil {
		return t.tx.StmtContext(ctx, s), nil
	}
	return s, nil
}

func (t *trieTX) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	s, err := t.stmt(ctx, query)
	if err != nil {
		return 0, err
	}
	res, err := s.ExecContext(ctx, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// --- claims ---

func (t *trieTX) InsertClaim(ctx context.Context, c *claimtrie.Claim) error {
	_, err := t.exec(ctx, t.q().InsertClaim,
		c.ID[:], c.Name, c.NodeName, c.OutPoint.TxID[:], c.OutPoint.N, c.Amount,
		c.OriginalHeight, c.UpdateHeight, c.ValidHeight, c.ActivationHeight, c.ExpirationHeight)
	return err
}

func (t *trieTX) LookupClaim(ctx context.Context, id claimtrie.ClaimID, op claimtrie.OutPoint, height int32) (string, int32, int32, error) {
	s, err := t.stmt(ctx, t.q().LookupClaim)
	if err != nil {
		return "", 0, 0, err
	}
	var nodeName string
	var activation, original int32
	err = s.QueryRowContext(ctx, id[:], op.TxID[:], op.N, height).Scan(&nodeName, &activation, &original)
	if err == sql.ErrNoRows {
		return "", 0, 0, storage.ErrNotFound
	}
	if err != nil {
		return "", 0, 0, err
	}
	return nodeName, activation, original, nil
}

func (t *trieTX) DeleteClaim(ctx context.Context, id claimtrie.ClaimID, op claimtrie.OutPoint) (bool, error) {
	n, err := t.exec(ctx, t.q().DeleteClaim, id[:], op.TxID[:], op.N)
	return n > 0, err
}

func (t *trieTX) HaveClaim(ctx context.Context, nodeName string, op claimtrie.OutPoint, height int32) (bool, error) {
	return t.haveRow(ctx, t.q().HaveClaim, nodeName, op, height)
}

func (t *trieTX) ClaimInQueue(ctx context.Context, nodeName string, op claimtrie.OutPoint, height int32) (int32, error) {
	return t.queuedRow(ctx, t.q().ClaimInQueue, nodeName, op, height)
}

func (t *trieTX) ClaimsForName(ctx context.Context, nodeName string, height int32) ([]claimtrie.Claim, error) {
	s, err := t.stmt(ctx, t.q().ClaimsForName)
	if err != nil {
		return nil, err
	}
	rows, err := s.QueryContext(ctx, nodeName, height)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ret []claimtrie.Claim
	for rows.Next() {
		var c claimtrie.Claim
		var id, txID []byte
		if err := rows.Scan(&id, &c.Name, &txID, &c.OutPoint.N, &c.OriginalHeight, &c.UpdateHeight,
			&c.ValidHeight, &c.ActivationHeight, &c.ExpirationHeight, &c.Amount); err != nil {
			return nil, err
		}
		if err := fillIDs(&c, id, txID); err != nil {
			return nil, err
		}
		c.NodeName = nodeName
		ret = append(ret, c)
	}
	return ret, rows.Err()
}

func (t *trieTX) BestClaim(ctx context.Context, nodeName string, height int32) (claimtrie.ClaimInfo, error) {
	s, err := t.stmt(ctx, t.q().BestClaim)
	if err != nil {
		return claimtrie.ClaimInfo{}, err
	}
	var ci claimtrie.ClaimInfo
	var id, txID []byte
	err = s.QueryRowContext(ctx, height, height, nodeName, height, height).Scan(
		&id, &txID, &ci.OutPoint.N, &ci.OriginalHeight, &ci.UpdateHeight, &ci.ValidHeight,
		&ci.ActivationHeight, &ci.ExpirationHeight, &ci.Amount, &ci.EffectiveAmount)
	if err == sql.ErrNoRows {
		return claimtrie.ClaimInfo{}, storage.ErrNotFound
	}
	if err != nil {
		return claimtrie.ClaimInfo{}, err
	}
	if err := fillIDs(&ci.Claim, id, txID); err != nil {
		return claimtrie.ClaimInfo{}, err
	}
	ci.NodeName = nodeName
	ci.Name = nodeName
	return ci, nil
}

func (t *trieTX) FindClaimsByReversedIDPrefix(ctx context.Context, prefix []byte, height int32, limit int) ([]claimtrie.Claim, error) {
	if len(prefix) > claimtrie.ClaimIDSize {
		return nil, fmt.Errorf("prefix of %d bytes is longer than a claim id", len(prefix))
	}
	upper := make([]byte, claimtrie.ClaimIDSize)
	copy(upper, prefix)
	for i := len(prefix); i < claimtrie.ClaimIDSize; i++ {
		upper[i] = 0xff
	}
	s, err := t.stmt(ctx, t.q().FindClaimsByReversedIDPrefix)
	if err != nil {
		return nil, err
	}
	rows, err := s.QueryContext(ctx, prefix, upper, height, height, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ret []claimtrie.Claim
	for rows.Next() {
		var c claimtrie.Claim
		var id, txID []byte
		if err := rows.Scan(&id, &c.Name, &c.NodeName, &txID, &c.OutPoint.N, &c.OriginalHeight,
			&c.UpdateHeight, &c.ValidHeight, &c.ActivationHeight, &c.ExpirationHeight, &c.Amount); err != nil {
			return nil, err
		}
		if err := fillIDs(&c, id, txID); err != nil {
			return nil, err
		}
		ret = append(ret, c)
	}
	return ret, rows.Err()
}

// The visiting methods below drain their result set before invoking the
// callback: callbacks run further statements on the same connection, which
// is not legal while rows are still streaming.

func (t *trieTX) NamesInTrie(ctx context.Context, height int32, fn func(name string) error) error {
	s, err := t.stmt(ctx, t.q().NamesInTrie)
	if err != nil {
		return err
	}
	rows, err := s.QueryContext(ctx, height, height)
	if err != nil {
		return err
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}
	for _, name := range names {
		if err := fn(name); err != nil {
			return err
		}
	}
	return nil
}

func (t *trieTX) ActivatedClaimIDs(ctx context.Context, height int32) ([]claimtrie.ClaimID, error) {
	return t.claimIDRows(ctx, t.q().ActivatedClaimIDs, height)
}

func (t *trieTX) ExpiredClaimIDs(ctx context.Context, height int32) ([]claimtrie.ClaimID, error) {
	return t.claimIDRows(ctx, t.q().ExpiredClaimIDs, height)
}

func (t *trieTX) TotalNames(ctx context.Context, height int32) (int64, error) {
	return t.countRow(ctx, t.q().TotalNames, height, height)
}

func (t *trieTX) TotalClaims(ctx context.Context, height int32) (int64, error) {
	return t.countRow(ctx, t.q().TotalClaims, height, height)
}

func (t *trieTX) TotalClaimValue(ctx context.Context, height int32, controllingOnly bool) (int64, error) {
	if !controllingOnly {
		return t.countRow(ctx, t.q().TotalClaimValue, height, height)
	}
	// sum of each controlled name's best claim, computed name by name; this
	// is a statistics call, not part of block validation
	var total int64
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

func (t *trieTX) InsertSupport(ctx context.Context, s *claimtrie.Support) error {
	_, err := t.exec(ctx, t.q().InsertSupport,
		s.SupportedID[:], s.Name, s.NodeName, s.OutPoint.TxID[:], s.OutPoint.N, s.Amount,
		s.BlockHeight, s.ValidHeight, s.ActivationHeight, s.ExpirationHeight)
	return err
}

func (t *trieTX) LookupSupport(ctx context.Context, op claimtrie.OutPoint, height int32) (string, int32, error) {
	s, err := t.stmt(ctx, t.q().LookupSupport)
	if err != nil {
		return "", 0, err
	}
	var nodeName string
	var activation int32
	err = s.QueryRowContext(ctx, op.TxID[:], op.N, height).Scan(&nodeName, &activation)
	if err == sql.ErrNoRows {
		return "", 0, storage.ErrNotFound
	}
	if err != nil {
		return "", 0, err
	}
	return nodeName, activation, nil
}

func (t *trieTX) DeleteSupport(ctx context.Context, op claimtrie.OutPoint) (bool, error) {
	n, err := t.exec(ctx, t.q().DeleteSupport, op.TxID[:], op.N)
	return n > 0, err
}

func (t *trieTX) HaveSupport(ctx context.Context, nodeName string, op claimtrie.OutPoint, height int32) (bool, error) {
	return t.haveRow(ctx, t.q().HaveSupport, nodeName, op, height)
}

func (t *trieTX) SupportInQueue(ctx context.Context, nodeName string, op claimtrie.OutPoint, height int32) (int32, error) {
	return t.queuedRow(ctx, t.q().SupportInQueue, nodeName, op, height)
}

func (t *trieTX) SupportsForName(ctx context.Context, nodeName string, height int32) ([]claimtrie.Support, error) {
	s, err := t.stmt(ctx, t.q().SupportsForName)
	if err != nil {
		return nil, err
	}
	rows, err := s.QueryContext(ctx, nodeName, height)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ret []claimtrie.Support
	for rows.Next() {
		var sp claimtrie.Support
		var id, txID []byte
		if err := rows.Scan(&id, &sp.Name, &txID, &sp.OutPoint.N, &sp.BlockHeight, &sp.ValidHeight,
			&sp.ActivationHeight, &sp.ExpirationHeight, &sp.Amount); err != nil {
			return nil, err
		}
		var err error
		if sp.SupportedID, err = claimtrie.NewClaimID(id); err != nil {
			return nil, err
		}
		if sp.OutPoint.TxID, err = claimtrie.NewTxID(txID); err != nil {
			return nil, err
		}
		sp.NodeName = nodeName
		ret = append(ret, sp)
	}
	return ret, rows.Err()
}

func (t *trieTX) ClaimIDsWithActivatedSupports(ctx context.Context, height int32) ([]claimtrie.ClaimID, error) {
	return t.claimIDRows(ctx, t.q().ClaimIDsWithActivatedSupports, height)
}

func (t *trieTX) ClaimIDsWithExpiredSupports(ctx context.Context, height int32) ([]claimtrie.ClaimID, error) {
	return t.claimIDRows(ctx, t.q().ClaimIDsWithExpiredSupports, height)
}

// --- nodes ---

func (t *trieTX) UpsertDirtyNode(ctx context.Context, name string) error {
	_, err := t.exec(ctx, t.q().UpsertDirtyNode, name)
	return err
}

func (t *trieTX) MarkNodeDirty(ctx context.Context, name string) error {
	_, err := t.exec(ctx, t.q().MarkNodeDirty, name)
	return err
}

func (t *trieTX) InsertOrReparentNode(ctx context.Context, name, parent string) error {
	_, err := t.exec(ctx, t.q().InsertOrReparentNode, name, parent)
	return err
}

func (t *trieTX) SetNodeParent(ctx context.Context, name, parent string) error {
	_, err := t.exec(ctx, t.q().SetNodeParent, parent, name)
	return err
}

func (t *trieTX) DeleteNode(ctx context.Context, name string) (bool, error) {
	n, err := t.exec(ctx, t.q().DeleteNode, name)
	return n > 0, err
}

func (t *trieTX) NodeParent(ctx context.Context, name string) (string, error) {
	s, err := t.stmt(ctx, t.q().NodeParent)
	if err != nil {
		return "", err
	}
	var parent sql.NullString
	err = s.QueryRowContext(ctx, name).Scan(&parent)
	if err == sql.ErrNoRows {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return parent.String, nil
}

func (t *trieTX) ChildCountAndMax(ctx context.Context, parent string) (int64, string, error) {
	s, err := t.stmt(ctx, t.q().ChildCountAndMax)
	if err != nil {
		return 0, "", err
	}
	var count int64
	var max string
	if err := s.QueryRowContext(ctx, parent).Scan(&count, &max); err != nil {
		return 0, "", err
	}
	return count, max, nil
}

func (t *trieTX) LiveClaimCount(ctx context.Context, nodeName string, height int32) (int64, error) {
	return t.countRow(ctx, t.q().LiveClaimCount, nodeName, height, height)
}

func (t *trieTX) LongestExistingPrefix(ctx context.Context, name string) (string, error) {
	s, err := t.stmt(ctx, t.q().LongestExistingPrefix)
	if err != nil {
		return "", err
	}
	var parent sql.NullString
	if err := s.QueryRowContext(ctx, name).Scan(&parent); err != nil {
		return "", err
	}
	return parent.String, nil
}

func (t *trieTX) ChildNames(ctx context.Context, parent string) ([]string, error) {
	s, err := t.stmt(ctx, t.q().ChildNames)
	if err != nil {
		return nil, err
	}
	rows, err := s.QueryContext(ctx, parent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ret []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		ret = append(ret, name)
	}
	return ret, rows.Err()
}

func (t *trieTX) ChildHashes(ctx context.Context, parent string) ([]storage.NodeHash, error) {
	s, err := t.stmt(ctx, t.q().ChildHashes)
	if err != nil {
		return nil, err
	}
	rows, err := s.QueryContext(ctx, parent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ret []storage.NodeHash
	for rows.Next() {
		var nh storage.NodeHash
		if err := rows.Scan(&nh.Name, &nh.Hash); err != nil {
			return nil, err
		}
		ret = append(ret, nh)
	}
	return ret, rows.Err()
}

func (t *trieTX) DirtyNodeNames(ctx context.Context) ([]string, error) {
	s, err := t.stmt(ctx, t.q().DirtyNodeNames)
	if err != nil {
		return nil, err
	}
	rows, err := s.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ret []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		ret = append(ret, name)
	}
	return ret, rows.Err()
}

func (t *trieTX) DirtyNodesByLengthDesc(ctx context.Context, fn func(name string, takeoverHeight int32) error) error {
	return t.visitNameHeightRows(ctx, t.q().DirtyNodesByLengthDesc, nil, fn)
}

func (t *trieTX) SetNodeHash(ctx context.Context, name string, hash []byte) error {
	_, err := t.exec(ctx, t.q().SetNodeHash, hash, name)
	return err
}

func (t *trieTX) RootHash(ctx context.Context) ([]byte, error) {
	s, err := t.stmt(ctx, t.q().RootHash)
	if err != nil {
		return nil, err
	}
	var hash []byte
	err = s.QueryRowContext(ctx).Scan(&hash)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return hash, nil
}

func (t *trieTX) PropagateDirty(ctx context.Context) error {
	_, err := t.exec(ctx, t.q().PropagateDirty)
	return err
}

func (t *trieTX) HasDistinctChildSubtrees(ctx context.Context, name string, height int32, required int) (bool, error) {
	s, err := t.stmt(ctx, t.q().SubtreeNames)
	if err != nil {
		return false, err
	}
	rows, err := s.QueryContext(ctx, name, name+subtreeUpperBoundPad, height, height)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	branches := make(map[byte]struct{})
	for rows.Next() {
		var nn string
		if err := rows.Scan(&nn); err != nil {
			return false, err
		}
		if nn == name {
			return false, rows.Close()
		}
		if len(nn) <= len(name) {
			return false, fmt.Errorf("subtree scan of %q escaped to %q", name, nn)
		}
		branches[nn[len(name)]] = struct{}{}
		if len(branches) >= required {
			return true, rows.Close()
		}
	}
	return false, rows.Err()
}

func (t *trieTX) AncestorPath(ctx context.Context, name string, fn func(nodeName string, takeoverHeight int32) error) error {
	return t.visitNameHeightRows(ctx, t.q().AncestorPath, []interface{}{name}, fn)
}

// visitNameHeightRows drains a (name, height) query, then feeds the rows to
// fn in order.
func (t *trieTX) visitNameHeightRows(ctx context.Context, query string, args []interface{}, fn func(string, int32) error) error {
	s, err := t.stmt(ctx, query)
	if err != nil {
		return err
	}
	rows, err := s.QueryContext(ctx, args...)
	if err != nil {
		return err
	}
	type nameHeight struct {
		name   string
		height int32
	}
	var collected []nameHeight
	for rows.Next() {
		var nh nameHeight
		if err := rows.Scan(&nh.name, &nh.height); err != nil {
			rows.Close()
			return err
		}
		collected = append(collected, nh)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}
	for _, nh := range collected {
		if err := fn(nh.name, nh.height); err != nil {
			return err
		}
	}
	return nil
}

func (t *trieTX) ConsistencyRows(ctx context.Context, limit int64, fn func(name string, hash []byte, takeoverHeight int32) error) error {
	s, err := t.stmt(ctx, t.q().ConsistencyRows)
	if err != nil {
		return err
	}
	rows, err := s.QueryContext(ctx, limit)
	if err != nil {
		return err
	}
	type sampled struct {
		name     string
		hash     []byte
		takeover int32
	}
	var collected []sampled
	for rows.Next() {
		var r sampled
		if err := rows.Scan(&r.name, &r.hash, &r.takeover); err != nil {
			rows.Close()
			return err
		}
		collected = append(collected, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}
	for _, r := range collected {
		if err := fn(r.name, r.hash, r.takeover); err != nil {
			return err
		}
	}
	return nil
}

// --- takeovers ---

func (t *trieTX) InsertTakeover(ctx context.Context, name string, height int32, winner *claimtrie.ClaimID) error {
	var id interface{}
	if winner != nil {
		id = winner.Bytes()
	}
	_, err := t.exec(ctx, t.q().InsertTakeover, name, height, id)
	return err
}

func (t *trieTX) LastTakeover(ctx context.Context, name string) (claimtrie.Takeover, error) {
	s, err := t.stmt(ctx, t.q().LastTakeover)
	if err != nil {
		return claimtrie.Takeover{}, err
	}
	tk := claimtrie.Takeover{Name: name}
	var id []byte
	err = s.QueryRowContext(ctx, name).Scan(&tk.Height, &id)
	if err == sql.ErrNoRows {
		return tk, storage.ErrNotFound
	}
	if err != nil {
		return tk, err
	}
	if id != nil {
		cid, err := claimtrie.NewClaimID(id)
		if err != nil {
			return tk, err
		}
		tk.WinnerID = &cid
	}
	return tk, nil
}

func (t *trieTX) DeleteTakeoversFrom(ctx context.Context, height int32) error {
	_, err := t.exec(ctx, t.q().DeleteTakeoversFrom, height)
	return err
}

// --- block transitions ---

func (t *trieTX) DirtyNodesForActivatedClaims(ctx context.Context, height int32) error {
	_, err := t.exec(ctx, t.q().DirtyNodesForActivatedClaims, height, height)
	return err
}

func (t *trieTX) DirtyNodesForBoundaryEvents(ctx context.Context, height int32) error {
	_, err := t.exec(ctx, t.q().DirtyNodesForBoundaryEvents, height, height, height)
	return err
}

func (t *trieTX) ActivateAllFor(ctx context.Context, name string, height int32) (bool, error) {
	claims, err := t.exec(ctx, t.q().ActivateClaimsFor, height, name, height, height)
	if err != nil {
		return false, err
	}
	supports, err := t.exec(ctx, t.q().ActivateSupportsFor, height, name, height, height)
	if err != nil {
		return false, err
	}
	return claims > 0 || supports > 0, nil
}

func (t *trieTX) DirtyNodesForDecrement(ctx context.Context, height int32) error {
	if _, err := t.exec(ctx, t.q().DecrementInsertExpiredClaimNodes, height); err != nil {
		return err
	}
	_, err := t.exec(ctx, t.q().DecrementMarkBoundaryNodes, height, height, height)
	return err
}

func (t *trieTX) ResetClaimActivations(ctx context.Context, height int32) error {
	_, err := t.exec(ctx, t.q().ResetClaimActivations, height)
	return err
}

func (t *trieTX) ResetSupportActivations(ctx context.Context, height int32) error {
	_, err := t.exec(ctx, t.q().ResetSupportActivations, height)
	return err
}

func (t *trieTX) DirtyNodesForFinalize(ctx context.Context, height int32) error {
	_, err := t.exec(ctx, t.q().DirtyNodesForFinalize, height, height, height, height, height)
	return err
}

// --- maintenance ---

func (t *trieTX) IntegrityCheck(ctx context.Context) error {
	return t.ts.wrap.IntegrityCheck(ctx, t.runner)
}

func (t *trieTX) EnsureReverseClaimIDIndex(ctx context.Context) error {
	return t.ts.wrap.EnsureReverseClaimIDIndex(ctx, t.runner)
}

func (t *trieTX) Commit() error {
	if t.tx == nil {
		return nil
	}
	t.closed = true
	if err := t.tx.Commit(); err != nil {
		klog.Warningf("TX commit error: %v", err)
		return err
	}
	return nil
}

func (t *trieTX) Rollback() error {
	if t.tx == nil {
		return nil
	}
	t.closed = true
	if err := t.tx.Rollback(); err != nil {
		klog.Warningf("TX rollback error: %v", err)
		return err
	}
	return nil
}

func (t *trieTX) Close() error {
	if t.tx != nil && !t.closed {
		return t.Rollback()
	}
	return nil
}

// --- row helpers ---

func fillIDs(c *claimtrie.Claim, id, txID []byte) error {
	var err error
	if c.ID, err = claimtrie.NewClaimID(id); err != nil {
		return err
	}
	c.OutPoint.TxID, err = claimtrie.NewTxID(txID)
	return err
}

func (t *trieTX) haveRow(ctx context.Context, query, nodeName string, op claimtrie.OutPoint, height int32) (bool, error) {
	s, err := t.stmt(ctx, query)
	if err != nil {
		return false, err
	}
	var one int
	err = s.QueryRowContext(ctx, nodeName, op.TxID[:], op.N, height, height).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *trieTX) queuedRow(ctx context.Context, query, nodeName string, op claimtrie.OutPoint, height int32) (int32, error) {
	s, err := t.stmt(ctx, query)
	if err != nil {
		return 0, err
	}
	var validAt int32
	err = s.QueryRowContext(ctx, nodeName, op.TxID[:], op.N, height).Scan(&validAt)
	if err == sql.ErrNoRows {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return validAt, nil
}

func (t *trieTX) countRow(ctx context.Context, query string, args ...interface{}) (int64, error) {
	s, err := t.stmt(ctx, query)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.QueryRowContext(ctx, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (t *trieTX) claimIDRows(ctx context.Context, query string, height int32) ([]claimtrie.ClaimID, error) {
	s, err := t.stmt(ctx, query)
	if err != nil {
		return nil, err
	}
	rows, err := s.QueryContext(ctx, height, height)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ret []claimtrie.ClaimID
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		id, err := claimtrie.NewClaimID(b)
		if err != nil {
			return nil, err
		}
		ret = append(ret, id)
	}
	return ret, rows.Err()
}
