// Package store selects a session.Store implementation by driver name.
package store

import (
	"fmt"
	"strings"

	"github.com/tetraminz/consultation_x/internal/session"
	"github.com/tetraminz/consultation_x/internal/store/gormstore"
	"github.com/tetraminz/consultation_x/internal/store/memstore"
	"github.com/tetraminz/consultation_x/internal/store/sqlitestore"
)

const (
	DriverSQLite     = "sqlite"
	DriverGormSQLite = "gorm-sqlite"
	DriverPostgres   = "postgres"
	DriverMemory     = "memory"
)

// Open returns the store for driver. dsn is a file path for sqlite drivers
// and a connection string for postgres.
func Open(driver, dsn string) (session.Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		s, err := sqlitestore.Open(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverGormSQLite, DriverPostgres:
		gormDriver := "sqlite"
		if strings.EqualFold(strings.TrimSpace(driver), DriverPostgres) {
			gormDriver = "postgres"
		}
		s, err := gormstore.Open(gormDriver, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}
