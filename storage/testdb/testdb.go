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

// Package testdb creates claim stores for tests. SQLite stores live in the
// test's temporary directory; MySQL tests run only when TEST_MYSQL_URI
// points at a willing server.
package testdb

import (
	"database/sql"
	"log"
	"os"
	"testing"

	"github.com/claimtrie/claimtrie"
	"github.com/claimtrie/claimtrie/storage"
	"github.com/claimtrie/claimtrie/storage/sqlite"

	_ "github.com/go-sql-driver/mysql" // mysql driver
)

// MySQLURIEnv is the name of the ENV variable checked for the test MySQL
// instance URI to use.
//
// We use an ENV variable, rather than a flag, so that the same "go test"
// invocation works whether or not a database is around.
const MySQLURIEnv = "TEST_MYSQL_URI"

// MySQLAvailable indicates whether the configured MySQL database is
// reachable.
func MySQLAvailable() bool {
	uri := os.Getenv(MySQLURIEnv)
	if uri == "" {
		return false
	}
	db, err := sql.Open("mysql", uri)
	if err != nil {
		log.Printf("sql.Open(): %v", err)
		return false
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Printf("db.Ping(): %v", err)
		return false
	}
	return true
}

// SkipIfNoMySQL marks the test as skipped when no MySQL server is reachable.
func SkipIfNoMySQL(t *testing.T) {
	t.Helper()
	if !MySQLAvailable() {
		t.Skipf("Skipping test, set %s to run it", MySQLURIEnv)
	}
}

// NewSQLiteStorage opens a fresh SQLite-backed store in the test's temp
// directory and arranges its cleanup.
func NewSQLiteStorage(t *testing.T, params claimtrie.Params) storage.TrieStorage {
	t.Helper()
	params.DataDir = t.TempDir()
	provider, err := sqlite.New(params, false)
	if err != nil {
		t.Fatalf("sqlite.New(): %v", err)
	}
	ts, err := provider.TrieStorage()
	if err != nil {
		t.Fatalf("TrieStorage(): %v", err)
	}
	t.Cleanup(func() {
		if err := ts.Close(); err != nil {
			t.Errorf("Close(): %v", err)
		}
	})
	return ts
}
