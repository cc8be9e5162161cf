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

package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/claimtrie/claimtrie/merkle"
	"github.com/claimtrie/claimtrie/storage/coresql"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS node (name VARBINARY(512) NOT NULL PRIMARY KEY,
		parent VARBINARY(512), hash VARBINARY(32))`,

	`CREATE TABLE IF NOT EXISTS claim (claimID VARBINARY(20) NOT NULL PRIMARY KEY, name VARBINARY(512) NOT NULL,
		nodeName VARBINARY(512) NOT NULL, txID VARBINARY(32) NOT NULL, txN INT UNSIGNED NOT NULL,
		originalHeight INT NOT NULL, updateHeight INT NOT NULL, validHeight INT NOT NULL,
		activationHeight INT NOT NULL, expirationHeight INT NOT NULL, amount BIGINT NOT NULL)`,

	`CREATE TABLE IF NOT EXISTS support (txID VARBINARY(32) NOT NULL, txN INT UNSIGNED NOT NULL,
		supportedClaimID VARBINARY(20) NOT NULL, name VARBINARY(512) NOT NULL, nodeName VARBINARY(512) NOT NULL,
		blockHeight INT NOT NULL, validHeight INT NOT NULL, activationHeight INT NOT NULL,
		expirationHeight INT NOT NULL, amount BIGINT NOT NULL, PRIMARY KEY(txID, txN))`,

	`CREATE TABLE IF NOT EXISTS takeover (name VARBINARY(512) NOT NULL, height INT NOT NULL,
		claimID VARBINARY(20), PRIMARY KEY(name, height DESC))`,

	`CREATE INDEX node_parent ON node (parent)`,
	`CREATE INDEX takeover_height ON takeover (height)`,
	`CREATE INDEX claim_activationHeight ON claim (activationHeight)`,
	`CREATE INDEX claim_expirationHeight ON claim (expirationHeight)`,
	`CREATE INDEX claim_nodeName ON claim (nodeName)`,
	`CREATE INDEX support_supportedClaimID ON support (supportedClaimID)`,
	`CREATE INDEX support_activationHeight ON support (activationHeight)`,
	`CREATE INDEX support_expirationHeight ON support (expirationHeight)`,
	`CREATE INDEX support_nodeName ON support (nodeName)`,
}

// duplicate-key errors from the CREATE INDEX statements above on reopen
const erDupKeyName = 1061

type wrapper struct {
	db      *sql.DB
	queries coresql.Queries
}

// OpenDB opens a claim store on the MySQL server at dbURL, creating the
// schema and root node if needed.
func OpenDB(dbURL string) (coresql.DBWrapper, error) {
	db, err := sql.Open("mysql", dbURL)
	if err != nil {
		// Don't log uri as it could contain credentials
		klog.Warningf("Could not open MySQL database, check config: %s", err)
		return nil, err
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "SET sql_mode = 'STRICT_ALL_TABLES'"); err != nil {
		klog.Warningf("Failed to set strict mode on mysql db: %s", err)
		db.Close()
		return nil, err
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if isMySQLError(err, erDupKeyName) {
				continue
			}
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx,
		"INSERT IGNORE INTO node(name, hash) VALUES('', ?)", merkle.EmptyTrieHash); err != nil {
		db.Close()
		return nil, fmt.Errorf("seeding root node: %w", err)
	}

	return &wrapper{db: db, queries: newQueries()}, nil
}

func newQueries() coresql.Queries {
	q := coresql.BaseQueries()
	q.UpsertDirtyNode = `INSERT INTO node(name) VALUES(?) ON DUPLICATE KEY UPDATE hash = NULL`
	q.InsertOrReparentNode = `INSERT INTO node(name, parent, hash) VALUES(?, ?, NULL)
		ON DUPLICATE KEY UPDATE parent = VALUES(parent), hash = NULL`
	q.LongestExistingPrefix = `WITH RECURSIVE prefix(p) AS (SELECT CAST(? AS BINARY) UNION ALL
		SELECT SUBSTRING(p, 1, LENGTH(p) - 1) FROM prefix WHERE p != '')
		SELECT MAX(name) FROM node WHERE name IN (SELECT p FROM prefix)`
	q.PropagateDirty = `UPDATE node SET hash = NULL WHERE name IN (SELECT p FROM
		(WITH RECURSIVE prefix(p) AS (SELECT parent FROM node WHERE hash IS NULL AND parent IS NOT NULL
		UNION SELECT n2.parent FROM prefix JOIN node n2 ON n2.name = prefix.p
		WHERE prefix.p != '' AND n2.parent IS NOT NULL) SELECT p FROM prefix) AS dirty)`
	q.AncestorPath = `WITH RECURSIVE prefix(p) AS (SELECT CAST(? AS BINARY) UNION ALL
		SELECT SUBSTRING(p, 1, LENGTH(p) - 1) FROM prefix WHERE p != '')
		SELECT n.name, IFNULL((SELECT CASE WHEN t.claimID IS NULL THEN 0 ELSE t.height END
			FROM takeover t WHERE t.name = n.name ORDER BY t.height DESC LIMIT 1), 0)
		FROM node n WHERE n.name IN (SELECT p FROM prefix) ORDER BY n.name`
	q.ConsistencyRows = `SELECT n.name, n.hash, IFNULL((SELECT CASE WHEN t.claimID IS NULL THEN 0 ELSE t.height END
		FROM takeover t WHERE t.name = n.name ORDER BY t.height DESC LIMIT 1), 0)
		FROM node n WHERE n.name IN (SELECT r.name FROM (SELECT name FROM node ORDER BY RAND() LIMIT ?) r)
		OR n.parent = ''`
	q.DirtyNodesForActivatedClaims = `INSERT INTO node(name) SELECT DISTINCT nodeName FROM claim
		WHERE activationHeight = ? AND expirationHeight > ?
		ON DUPLICATE KEY UPDATE hash = NULL`
	q.DecrementInsertExpiredClaimNodes = `INSERT INTO node(name) SELECT DISTINCT nodeName FROM claim
		WHERE expirationHeight = ? ON DUPLICATE KEY UPDATE hash = NULL`
	return q
}

func (w *wrapper) DB() *sql.DB               { return w.db }
func (w *wrapper) Queries() *coresql.Queries { return &w.queries }

// IntegrityCheck runs CHECK TABLE on the pool rather than r: CHECK TABLE
// implicitly commits, which would tear down an open transaction.
func (w *wrapper) IntegrityCheck(ctx context.Context, _ coresql.Runner) error {
	rows, err := w.db.QueryContext(ctx, "CHECK TABLE node, claim, support, takeover QUICK")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var table, op, msgType, msgText string
		if err := rows.Scan(&table, &op, &msgType, &msgText); err != nil {
			return err
		}
		if msgType == "error" {
			return fmt.Errorf("mysql integrity check on %s: %s", table, msgText)
		}
	}
	return rows.Err()
}

func (w *wrapper) EnsureReverseClaimIDIndex(ctx context.Context, _ coresql.Runner) error {
	_, err := w.db.ExecContext(ctx,
		"CREATE UNIQUE INDEX claim_reverseClaimID ON claim ((REVERSE(claimID)))")
	if err != nil && isMySQLError(err, erDupKeyName) {
		return nil
	}
	return err
}

// Sync is a no-op: the server owns durability for a networked store.
func (w *wrapper) Sync(ctx context.Context) error {
	return nil
}
