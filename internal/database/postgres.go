package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrations embed.FS

type PgChatRepository struct {
	conn *sql.DB
}

func NewPgChatRepository(dsn string) (*PgChatRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &PgChatRepository{conn: db}, nil
}

// Migrate brings the schema up to date.
func (db *PgChatRepository) Migrate() error {
	return Migrate(db.conn)
}

func (db *PgChatRepository) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *PgChatRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Migrate applies the embedded migrations to conn.
func Migrate(conn *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	driver, err := postgres.WithInstance(conn, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// mapError converts driver errors into the package's sentinel errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrConflict, pqErr.Constraint)
		case "23503":
			return fmt.Errorf("%w: %s", ErrNotFound, pqErr.Constraint)
		}
	}
	return err
}
