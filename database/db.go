/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/blnkfinance/openbank/config"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const memoryScheme = "memory://"

var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn *sql.DB
}

// NewDataSource returns the Postgres datasource for the configured DNS.
// A "memory://" DNS selects the in-process store used by sandbox runs.
func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	if strings.HasPrefix(configuration.DataSource.Dns, memoryScheme) {
		return NewMemoryDataSource(), nil
	}
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection opens the pool once per process.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err = db.Ping(); err != nil {
		logrus.WithError(err).Error("database connection failed")
		return nil, err
	}
	logrus.Info("database connection established")
	return db, nil
}

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code.Name() == "unique_violation"
}
