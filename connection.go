package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"time"

	_ "github.com/nakagami/firebirdsql"
)

// ConnectionTimeout bounds the initial connect and ping.
const ConnectionTimeout = 10 * time.Second

// FirebirdDriverName is the database/sql driver registered by firebirdsql.
const FirebirdDriverName = "firebirdsql"

// Target identifies the Firebird database to connect to.
type Target struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	Role     string
}

// DSN renders the target in the firebirdsql driver format:
// user:password@host:port/database[?role=...]
func (t Target) DSN() string {
	dsn := fmt.Sprintf("%s:%s@%s:%s/%s",
		url.PathEscape(t.User), url.PathEscape(t.Password), t.Host, t.Port, t.Database)
	if t.Role != "" {
		dsn += "?role=" + url.QueryEscape(t.Role)
	}
	return dsn
}

// String is safe to log; it never includes the password.
func (t Target) String() string {
	return fmt.Sprintf("%s@%s:%s/%s", t.User, t.Host, t.Port, t.Database)
}

// ConnectionManager owns the single live database connection. All access goes
// through withConn, which serializes callers: the underlying connection is
// not safe for concurrent use.
type ConnectionManager struct {
	mu   sync.Mutex
	db   *sql.DB
	conn *sql.Conn
}

// Connect opens the Firebird database described by target.
func Connect(ctx context.Context, target Target) (*ConnectionManager, error) {
	m, err := Open(ctx, FirebirdDriverName, target.DSN())
	if err != nil {
		return nil, &ConnectionError{Target: target.String(), Cause: err}
	}
	return m, nil
}

// Open establishes exactly one connection through the named database/sql
// driver and keeps it for the lifetime of the manager.
func Open(ctx context.Context, driverName, dsn string) (*ConnectionManager, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One physical connection, no pooling.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	connCtx, cancel := context.WithTimeout(ctx, ConnectionTimeout)
	defer cancel()

	conn, err := db.Conn(connCtx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := conn.PingContext(connCtx); err != nil {
		conn.Close()
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &ConnectionManager{db: db, conn: conn}, nil
}

// withConn runs fn with exclusive use of the connection. It fails with
// ErrNotInitialized, without any I/O, if the manager holds no connection.
func (m *ConnectionManager) withConn(fn func(conn *sql.Conn) error) error {
	if m == nil {
		return ErrNotInitialized
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return ErrNotInitialized
	}
	return fn(m.conn)
}

// Close releases the connection. Later calls to withConn fail with
// ErrNotInitialized.
func (m *ConnectionManager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return nil
	}
	connErr := m.conn.Close()
	dbErr := m.db.Close()
	m.conn, m.db = nil, nil
	if connErr != nil {
		return connErr
	}
	return dbErr
}
