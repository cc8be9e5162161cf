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

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	sqlite3 "github.com/mattn/go-sqlite3"
	"k8s.io/klog/v2"

	"github.com/claimtrie/claimtrie/merkle"
	"github.com/claimtrie/claimtrie/storage/coresql"
)

// driverName is the sqlite3 driver variant carrying the trie's SQL helper
// functions.
const driverName = "sqlite3_claimtrie"

// DBFile is the store's file name inside the data directory.
const DBFile = "claims.sqlite"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			// statement text depends on these being pure
			if err := conn.RegisterFunc("POPS", func(s string) string {
				if len(s) > 0 {
					s = s[:len(s)-1]
				}
				return s
			}, true); err != nil {
				return err
			}
			if err := conn.RegisterFunc("REVERSE", func(b []byte) []byte {
				r := make([]byte, len(b))
				for i, c := range b {
					r[len(b)-1-i] = c
				}
				return r
			}, true); err != nil {
				return err
			}
			// the block driver syncs explicitly; autocheckpoint only bounds
			// the WAL size (4k page size * 4000 = 16MB)
			_, err := conn.Exec("PRAGMA temp_store=MEMORY; PRAGMA wal_autocheckpoint=4000", nil)
			return err
		},
	})
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS node (name TEXT NOT NULL PRIMARY KEY,
		parent TEXT REFERENCES node(name) DEFERRABLE INITIALLY DEFERRED,
		hash BLOB)`,

	`CREATE TABLE IF NOT EXISTS claim (claimID BLOB NOT NULL PRIMARY KEY, name TEXT NOT NULL,
		nodeName TEXT NOT NULL REFERENCES node(name) DEFERRABLE INITIALLY DEFERRED,
		txID BLOB NOT NULL, txN INTEGER NOT NULL, originalHeight INTEGER NOT NULL, updateHeight INTEGER NOT NULL,
		validHeight INTEGER NOT NULL, activationHeight INTEGER NOT NULL,
		expirationHeight INTEGER NOT NULL, amount INTEGER NOT NULL)`,

	`CREATE TABLE IF NOT EXISTS support (txID BLOB NOT NULL, txN INTEGER NOT NULL,
		supportedClaimID BLOB NOT NULL, name TEXT NOT NULL, nodeName TEXT NOT NULL,
		blockHeight INTEGER NOT NULL, validHeight INTEGER NOT NULL, activationHeight INTEGER NOT NULL,
		expirationHeight INTEGER NOT NULL, amount INTEGER NOT NULL, PRIMARY KEY(txID, txN))`,

	`CREATE TABLE IF NOT EXISTS takeover (name TEXT NOT NULL, height INTEGER NOT NULL,
		claimID BLOB, PRIMARY KEY(name, height DESC))`,

	`CREATE INDEX IF NOT EXISTS node_hash_len_name ON node (hash, LENGTH(name) DESC)`,
	`CREATE INDEX IF NOT EXISTS node_parent ON node (parent)`,

	`CREATE INDEX IF NOT EXISTS takeover_height ON takeover (height)`,

	`CREATE INDEX IF NOT EXISTS claim_activationHeight ON claim (activationHeight)`,
	`CREATE INDEX IF NOT EXISTS claim_expirationHeight ON claim (expirationHeight)`,
	`CREATE INDEX IF NOT EXISTS claim_nodeName ON claim (nodeName)`,

	`CREATE INDEX IF NOT EXISTS support_supportedClaimID ON support (supportedClaimID)`,
	`CREATE INDEX IF NOT EXISTS support_activationHeight ON support (activationHeight)`,
	`CREATE INDEX IF NOT EXISTS support_expirationHeight ON support (expirationHeight)`,
	`CREATE INDEX IF NOT EXISTS support_nodeName ON support (nodeName)`,
}

var wipe = []string{
	`DELETE FROM node`,
	`DELETE FROM claim`,
	`DELETE FROM support`,
	`DELETE FROM takeover`,
}

type wrapper struct {
	db      *sql.DB
	queries coresql.Queries
}

// OpenDB opens (creating if necessary) the claim store under dataDir. The
// page cache is bounded to cacheBytes; wipeExisting empties all four tables
// before the root node is reseeded.
func OpenDB(dataDir string, cacheBytes int64, wipeExisting bool) (coresql.DBWrapper, error) {
	path := filepath.Join(dataDir, DBFile)
	// the block driver owns durability, so transaction commits do not sync
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=OFF&_case_sensitive_like=true&_cache_size=-%d",
		path, cacheBytes>>10)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		klog.Warningf("Could not open SQLite database %s: %v", path, err)
		return nil, err
	}

	ctx := context.Background()
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	if wipeExisting {
		for _, stmt := range wipe {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				db.Close()
				return nil, fmt.Errorf("wiping store: %w", err)
			}
		}
	}
	// ensure that we always have our root node
	if _, err := db.ExecContext(ctx,
		"INSERT OR IGNORE INTO node(name, hash) VALUES('', ?)", merkle.EmptyTrieHash); err != nil {
		db.Close()
		return nil, fmt.Errorf("seeding root node: %w", err)
	}

	return &wrapper{db: db, queries: newQueries()}, nil
}

func newQueries() coresql.Queries {
	q := coresql.BaseQueries()
	q.UpsertDirtyNode = `INSERT INTO node(name) VALUES(?) ON CONFLICT(name) DO UPDATE SET hash = NULL`
	q.InsertOrReparentNode = `INSERT INTO node(name, parent, hash) VALUES(?, ?, NULL)
		ON CONFLICT(name) DO UPDATE SET parent = excluded.parent, hash = NULL`
	q.LongestExistingPrefix = `WITH RECURSIVE prefix(p) AS (VALUES(?) UNION ALL
		SELECT POPS(p) FROM prefix WHERE p != '')
		SELECT MAX(name) FROM node WHERE name IN (SELECT p FROM prefix)`
	q.PropagateDirty = `UPDATE node SET hash = NULL WHERE name IN (WITH RECURSIVE prefix(p) AS
		(SELECT parent FROM node WHERE hash IS NULL UNION SELECT parent FROM prefix, node
		WHERE name = prefix.p AND prefix.p != '') SELECT p FROM prefix)`
	q.AncestorPath = `WITH RECURSIVE prefix(p) AS (VALUES(?) UNION ALL
		SELECT POPS(p) FROM prefix WHERE p != '')
		SELECT n.name, IFNULL((SELECT CASE WHEN t.claimID IS NULL THEN 0 ELSE t.height END
			FROM takeover t WHERE t.name = n.name ORDER BY t.height DESC LIMIT 1), 0)
		FROM node n WHERE n.name IN (SELECT p FROM prefix) ORDER BY n.name`
	q.ConsistencyRows = `SELECT n.name, n.hash, IFNULL((SELECT CASE WHEN t.claimID IS NULL THEN 0 ELSE t.height END
		FROM takeover t WHERE t.name = n.name ORDER BY t.height DESC LIMIT 1), 0)
		FROM node n WHERE n.name IN (SELECT r.name FROM node r ORDER BY RANDOM() LIMIT ?) OR n.parent = ''`
	q.DirtyNodesForActivatedClaims = `INSERT INTO node(name) SELECT nodeName FROM claim
		WHERE activationHeight = ? AND expirationHeight > ?
		ON CONFLICT(name) DO UPDATE SET hash = NULL`
	q.DecrementInsertExpiredClaimNodes = `INSERT INTO node(name) SELECT nodeName FROM claim
		WHERE expirationHeight = ? ON CONFLICT(name) DO UPDATE SET hash = NULL`
	return q
}

func (w *wrapper) DB() *sql.DB              { return w.db }
func (w *wrapper) Queries() *coresql.Queries { return &w.queries }

func (w *wrapper) IntegrityCheck(ctx context.Context, r coresql.Runner) error {
	rows, err := r.QueryContext(ctx, "PRAGMA quick_check")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var message string
		if err := rows.Scan(&message); err != nil {
			return err
		}
		if message != "ok" {
			return fmt.Errorf("sqlite integrity check: %s", message)
		}
	}
	return rows.Err()
}

func (w *wrapper) EnsureReverseClaimIDIndex(ctx context.Context, r coresql.Runner) error {
	_, err := r.ExecContext(ctx,
		"CREATE UNIQUE INDEX IF NOT EXISTS claim_reverseClaimID ON claim (REVERSE(claimID))")
	return err
}

func (w *wrapper) Sync(ctx context.Context) error {
	_, err := w.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}
