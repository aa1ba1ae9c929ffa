// Package upgrade checks whether an existing database matches the schema
// this binary was built for. The gateway refuses to start on a dirty or
// newer-than-binary schema; `beacon doctor` reports the same status.
package upgrade

import (
	"database/sql"
	"errors"
	"fmt"
)

// RequiredSchemaVersion is the migration version this binary expects.
// Bump together with a new file in internal/store/migrations.
const RequiredSchemaVersion uint = 2

var (
	ErrSchemaOutdated = errors.New("database schema is outdated; run `beacon migrate`")
	ErrSchemaDirty    = errors.New("database schema is dirty (a migration failed partway)")
	ErrSchemaAhead    = errors.New("database schema is newer than this binary")
)

// SchemaStatus is the result of a compatibility check.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	Compatible      bool
	NeedsMigration  bool
}

// CheckSchema reads the migration bookkeeping table and compares it
// against RequiredSchemaVersion. A missing table means a fresh database
// that simply needs migrating.
func CheckSchema(db *sql.DB) (*SchemaStatus, error) {
	var version uint
	var dirty bool
	err := db.QueryRow("SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		// No rows, or the table does not exist yet.
		return &SchemaStatus{RequiredVersion: RequiredSchemaVersion, NeedsMigration: true}, nil
	}

	s := &SchemaStatus{
		CurrentVersion:  version,
		RequiredVersion: RequiredSchemaVersion,
		Dirty:           dirty,
	}
	if dirty {
		return s, nil
	}
	switch {
	case version == RequiredSchemaVersion:
		s.Compatible = true
	case version < RequiredSchemaVersion:
		s.NeedsMigration = true
	}
	return s, nil
}

// Err maps a status to the sentinel the caller should fail with, or nil
// when the schema is usable.
func (s *SchemaStatus) Err() error {
	switch {
	case s.Dirty:
		return ErrSchemaDirty
	case s.Compatible || s.NeedsMigration:
		return nil
	default:
		return fmt.Errorf("%w (have %d, built for %d)", ErrSchemaAhead, s.CurrentVersion, s.RequiredVersion)
	}
}
