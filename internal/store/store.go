package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

const (
	poolSizeFile   = 4
	poolSizeMemory = 1 // in-memory DBs are per-connection; a pool would shard the data
)

// Store owns the single database file and all entity repositories.
type Store struct {
	db *sql.DB

	Users    *UserRepo
	Sessions *SessionRepo
	Messages *MessageRepo
	Memories *MemoryRepo
	Skills   *SkillRepo
	Pairing  *PairingRepo
	Groups   *GroupConfigRepo
}

// Open opens (creating if needed) the database at path, applies pending
// migrations, and wires the repositories. A migration failure is fatal to
// the caller: the returned error must abort startup.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if path == ":memory:" {
		// Single connection only: each sqlite connection gets its own
		// private in-memory database.
		dsn = ":memory:?_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pool := poolSizeFile
	if path == ":memory:" {
		pool = poolSizeMemory
	}
	db.SetMaxOpenConns(pool)
	db.SetMaxIdleConns(pool)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema: %w", err)
	}

	s := &Store{db: db}
	s.Users = &UserRepo{db: db}
	s.Sessions = &SessionRepo{db: db}
	s.Messages = &MessageRepo{db: db}
	s.Memories = &MemoryRepo{db: db}
	s.Skills = &SkillRepo{db: db}
	s.Pairing = &PairingRepo{db: db}
	s.Groups = &GroupConfigRepo{db: db}
	return s, nil
}

// OpenMemory opens a fresh in-memory store, for tests.
func OpenMemory() (*Store, error) {
	return Open(":memory:")
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	v, dirty, _ := m.Version()
	slog.Debug("store.migrated", "version", v, "dirty", dirty)
	return nil
}

// DB exposes the underlying pool for migration tooling and health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }
