package db

import (
	"context"
	"database/sql"
	"sync"
)

// Conn hands out a database handle and names its dialect.
type Conn interface {
	DB(ctx context.Context) (*sql.DB, error)
	Driver() string
}

type OpenFunc func(ctx context.Context) (*sql.DB, string, error)

// Session opens its connection on first use. Close releases it and lets the
// next DB call open a fresh one, so a warm Lambda container can close the
// connection at the end of every invocation.
type Session struct {
	open OpenFunc

	mu     sync.Mutex
	db     *sql.DB
	driver string
}

func NewSession(open OpenFunc) *Session {
	return &Session{open: open}
}

func (s *Session) DB(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	db, driver, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	s.db = db
	s.driver = driver
	return db, nil
}

func (s *Session) Driver() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driver
}

func (s *Session) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db != nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Static wraps an already opened handle.
type Static struct {
	Handle  *sql.DB
	Dialect string
}

func (s Static) DB(ctx context.Context) (*sql.DB, error) {
	return s.Handle, nil
}

func (s Static) Driver() string {
	return s.Dialect
}
