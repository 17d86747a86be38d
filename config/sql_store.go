/*
 * Copyright 2025 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/utils/maps"
)

// SQLStoreConfiguration configures the sql store.
type SQLStoreConfiguration struct {
	// DriverName is the database driver, mysql or postgres.
	DriverName string
	// Dsn is the data source name, see sql.Open.
	Dsn string
	// Query selects the configuration. Two columns are read as key, value pairs; a
	// single column is read as one document in the store format.
	Query string
	// Format of the single column document, json by default. Key, value rows are
	// always read as json.
	Format string
	// PoolSize is the connection pool size.
	PoolSize int
}

type sqlStore struct {
	conf SQLStoreConfiguration
	db   *sql.DB
}

func newSQLStore(conf types.Configuration) (Store, error) {
	c := SQLStoreConfiguration{PoolSize: 2, Format: FormatJSON}
	if err := maps.Map2Struct(conf, &c); err != nil {
		return nil, err
	}
	if c.DriverName == "" || c.Dsn == "" || c.Query == "" {
		return nil, errors.New("sql store needs driverName, dsn and query")
	}
	db, err := sql.Open(c.DriverName, c.Dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(c.PoolSize)
	db.SetMaxIdleConns(c.PoolSize)
	return &sqlStore{conf: c, db: db}, nil
}

func (s *sqlStore) Get(ctx context.Context) ([]byte, error) {
	rows, err := s.db.QueryContext(ctx, s.conf.Query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	switch len(columns) {
	case 1:
		var doc []byte
		if rows.Next() {
			if err := rows.Scan(&doc); err != nil {
				return nil, err
			}
		}
		return doc, rows.Err()
	case 2:
		return s.keyValues(rows)
	default:
		return nil, fmt.Errorf("sql store query must return 1 or 2 columns, got %d", len(columns))
	}
}

func (s *sqlStore) Format() string {
	return s.conf.Format
}

func (s *sqlStore) keyValues(rows *sql.Rows) ([]byte, error) {
	result := map[string]interface{}{}
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		var v interface{}
		// values that are not valid json are kept as strings
		if err := json.Unmarshal(value, &v); err != nil {
			v = string(value)
		}
		result[key] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

// Close closes the database.
func (s *sqlStore) Close() error {
	return s.db.Close()
}
