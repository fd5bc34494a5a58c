package db

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrConsistency is returned when a mutation that must affect exactly one
// row affects zero or more than one. It denotes a lost or duplicated batch
// and is always fatal to the run.
var ErrConsistency = errors.New("ledger consistency violation")

// Store wraps two database handles over the same SQLite file: a
// single-connection writer (SQLite allows one writer at a time) and a
// pooled reader. WAL mode lets reads proceed while a write is in flight.
type Store struct {
	Writer *sql.DB
	Reader *sql.DB
}

// Open opens (creating if needed) the ledger database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_journal_mode=WAL&_busy_timeout=10000&_foreign_keys=on&_synchronous=NORMAL"

	writer, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	reader, err := sql.Open("sqlite3", dsn)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	s := &Store{Writer: writer, Reader: reader}
	if err := s.createSchema(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	var errs []error
	if s.Writer != nil {
		if err := s.Writer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Reader != nil {
		if err := s.Reader.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
