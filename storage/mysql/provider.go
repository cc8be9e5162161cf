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

// Package mysql provides a claim-trie store on a MySQL server, for
// deployments that keep the index on shared infrastructure instead of the
// node's data directory. It is not the consensus-default backend.
package mysql

import (
	"flag"

	"github.com/go-sql-driver/mysql"
	"k8s.io/klog/v2"

	"github.com/claimtrie/claimtrie"
	"github.com/claimtrie/claimtrie/monitoring"
	"github.com/claimtrie/claimtrie/storage"
	"github.com/claimtrie/claimtrie/storage/coresql"
)

var (
	mySQLURI = flag.String("mysql_uri", "test:zaphod@tcp(127.0.0.1:3306)/test", "Connection URI for MySQL database")
	maxConns = flag.Int("mysql_max_conns", 0, "Maximum connections to the database")
	maxIdle  = flag.Int("mysql_max_idle_conns", -1, "Maximum idle database connections in the connection pool")
)

func init() {
	if err := storage.RegisterProvider("mysql", newMySQLStorageProvider); err != nil {
		klog.Fatalf("Failed to register storage provider mysql: %v", err)
	}
}

type mysqlProvider struct {
	wrap coresql.DBWrapper
	mf   monitoring.MetricFactory
}

func newMySQLStorageProvider(_ claimtrie.Params, mf monitoring.MetricFactory) (storage.Provider, error) {
	wrap, err := OpenDB(*mySQLURI)
	if err != nil {
		return nil, err
	}
	if *maxConns > 0 {
		wrap.DB().SetMaxOpenConns(*maxConns)
	}
	if *maxIdle >= 0 {
		wrap.DB().SetMaxIdleConns(*maxIdle)
	}
	return &mysqlProvider{wrap: wrap, mf: mf}, nil
}

// New opens a provider on dbURL without consulting flags.
func New(dbURL string) (storage.Provider, error) {
	wrap, err := OpenDB(dbURL)
	if err != nil {
		return nil, err
	}
	return &mysqlProvider{wrap: wrap, mf: monitoring.InertMetricFactory{}}, nil
}

func (s *mysqlProvider) TrieStorage() (storage.TrieStorage, error) {
	return coresql.NewTrieStorage(s.wrap), nil
}

func (s *mysqlProvider) Close() error {
	return s.wrap.DB().Close()
}

func isMySQLError(err error, number uint16) bool {
	if me, ok := err.(*mysql.MySQLError); ok {
		return me.Number == number
	}
	return false
}
