package main

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

// The fixtures emulate the Firebird system tables in SQLite. Identifier
// columns are blank padded like Firebird CHAR columns and use the RTRIM
// collation, which compares them the way Firebird compares CHAR values.
var catalogDDL = []string{
	`CREATE TABLE RDB$DATABASE (RDB$RELATION_ID INTEGER)`,
	`INSERT INTO RDB$DATABASE VALUES (128)`,
	`CREATE TABLE RDB$RELATIONS (
		RDB$RELATION_NAME TEXT COLLATE RTRIM,
		RDB$VIEW_BLR BLOB,
		RDB$SYSTEM_FLAG INTEGER)`,
	`CREATE TABLE RDB$RELATION_FIELDS (
		RDB$FIELD_NAME TEXT COLLATE RTRIM,
		RDB$RELATION_NAME TEXT COLLATE RTRIM,
		RDB$FIELD_SOURCE TEXT COLLATE RTRIM,
		RDB$FIELD_POSITION INTEGER,
		RDB$NULL_FLAG INTEGER,
		RDB$DEFAULT_SOURCE TEXT,
		RDB$SYSTEM_FLAG INTEGER)`,
	`CREATE TABLE RDB$FIELDS (
		RDB$FIELD_NAME TEXT COLLATE RTRIM,
		RDB$FIELD_TYPE INTEGER,
		RDB$FIELD_LENGTH INTEGER,
		RDB$FIELD_PRECISION INTEGER,
		RDB$FIELD_SCALE INTEGER)`,
	`CREATE TABLE RDB$INDEX_SEGMENTS (
		RDB$INDEX_NAME TEXT COLLATE RTRIM,
		RDB$FIELD_NAME TEXT COLLATE RTRIM,
		RDB$FIELD_POSITION INTEGER)`,
	`CREATE TABLE RDB$INDICES (
		RDB$INDEX_NAME TEXT COLLATE RTRIM,
		RDB$RELATION_NAME TEXT COLLATE RTRIM)`,
	`CREATE TABLE RDB$RELATION_CONSTRAINTS (
		RDB$CONSTRAINT_NAME TEXT COLLATE RTRIM,
		RDB$CONSTRAINT_TYPE TEXT COLLATE RTRIM,
		RDB$RELATION_NAME TEXT COLLATE RTRIM,
		RDB$INDEX_NAME TEXT COLLATE RTRIM)`,
}

// fbName pads an identifier to the width of a Firebird 2.5 CHAR(31).
func fbName(s string) string {
	if len(s) >= 31 {
		return s
	}
	return s + strings.Repeat(" ", 31-len(s))
}

// fbConstraintType pads to CHAR(11).
func fbConstraintType(s string) string {
	return s + strings.Repeat(" ", max(0, 11-len(s)))
}

type fixtureField struct {
	name      string
	position  int
	fieldType any
	length    any
	precision any
	scale     any
	notNull   any
	dflt      any
}

// catalogBuilder writes emulated catalog rows.
type catalogBuilder struct {
	t       *testing.T
	db      *sql.DB
	sources int
}

func (b *catalogBuilder) exec(query string, args ...any) {
	b.t.Helper()
	if _, err := b.db.Exec(query, args...); err != nil {
		b.t.Fatalf("fixture %q: %v", query, err)
	}
}

func (b *catalogBuilder) relation(name string, view bool, systemFlag any) {
	b.t.Helper()
	var blr any
	if view {
		blr = []byte{0x05}
	}
	b.exec(`INSERT INTO RDB$RELATIONS VALUES (?, ?, ?)`, fbName(name), blr, systemFlag)
}

func (b *catalogBuilder) field(relation string, systemFlag any, f fixtureField) {
	b.t.Helper()
	b.sources++
	source := fmt.Sprintf("RDB$%d", b.sources)
	b.exec(`INSERT INTO RDB$FIELDS VALUES (?, ?, ?, ?, ?)`,
		fbName(source), f.fieldType, f.length, f.precision, f.scale)
	b.exec(`INSERT INTO RDB$RELATION_FIELDS VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fbName(f.name), fbName(relation), fbName(source), f.position, f.notNull, f.dflt, systemFlag)
}

func (b *catalogBuilder) index(relation, index string, fields ...string) {
	b.t.Helper()
	b.exec(`INSERT INTO RDB$INDICES VALUES (?, ?)`, fbName(index), fbName(relation))
	for i, f := range fields {
		b.exec(`INSERT INTO RDB$INDEX_SEGMENTS VALUES (?, ?, ?)`, fbName(index), fbName(f), i)
	}
}

func (b *catalogBuilder) constraint(relation, name, kind, index string) {
	b.t.Helper()
	b.exec(`INSERT INTO RDB$RELATION_CONSTRAINTS VALUES (?, ?, ?, ?)`,
		fbName(name), fbConstraintType(kind), fbName(relation), fbName(index))
}

// newCatalogDB creates an empty emulated catalog and returns its path.
func newCatalogDB(t *testing.T, populate func(b *catalogBuilder)) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	defer db.Close()

	b := &catalogBuilder{t: t, db: db}
	for _, stmt := range catalogDDL {
		b.exec(stmt)
	}
	if populate != nil {
		populate(b)
	}
	return path
}

// populateShop writes two user tables (CUSTOMER, ORDERS), one view and one
// system relation. CUSTOMER's fields are inserted out of position order,
// and its ID column is covered by three indices.
func populateShop(b *catalogBuilder) {
	b.relation("ORDERS", false, nil)
	b.relation("CUSTOMER", false, 0)
	b.relation("V_CUSTOMER", true, 0)
	b.relation("RDB$PAGES", false, 1)

	b.field("CUSTOMER", 0, fixtureField{name: "NAME", position: 1, fieldType: 37, length: 100})
	b.field("CUSTOMER", 0, fixtureField{name: "ID", position: 0, fieldType: 8, length: 4, precision: 0, scale: 0, notNull: 1})
	b.field("CUSTOMER", 0, fixtureField{name: "PHOTO", position: 3, fieldType: 261, length: 8})
	b.field("CUSTOMER", nil, fixtureField{name: "BALANCE", position: 2, fieldType: 16, length: 8, precision: 18, scale: -2, notNull: 1, dflt: "DEFAULT 0"})
	b.field("CUSTOMER", 0, fixtureField{name: "FLAGGED", position: 4, fieldType: 23, length: 1})

	b.index("CUSTOMER", "RDB$PRIMARY1", "ID")
	b.index("CUSTOMER", "RDB$UNIQUE2", "ID")
	b.index("CUSTOMER", "IDX_CUSTOMER_ID", "ID")
	b.constraint("CUSTOMER", "INTEG_1", "PRIMARY KEY", "RDB$PRIMARY1")
	b.constraint("CUSTOMER", "INTEG_2", "UNIQUE", "RDB$UNIQUE2")

	b.field("ORDERS", 0, fixtureField{name: "ID", position: 0, fieldType: 8, length: 4, notNull: 1})
	b.field("ORDERS", 0, fixtureField{name: "CUSTOMER_ID", position: 1, fieldType: 8, length: 4})
	b.field("ORDERS", 0, fixtureField{name: "CREATED", position: 2, fieldType: 35, length: 8})
	b.index("ORDERS", "RDB$PRIMARY3", "ID")
	b.index("ORDERS", "RDB$FOREIGN4", "CUSTOMER_ID")
	b.constraint("ORDERS", "INTEG_3", "PRIMARY KEY", "RDB$PRIMARY3")
	b.constraint("ORDERS", "INTEG_4", "FOREIGN KEY", "RDB$FOREIGN4")

	b.field("V_CUSTOMER", 0, fixtureField{name: "ID", position: 0, fieldType: 8, length: 4})
	b.field("RDB$PAGES", 1, fixtureField{name: "RDB$PAGE_NUMBER", position: 0, fieldType: 8, length: 4})
}

// openCatalog opens a ConnectionManager on a freshly populated catalog.
func openCatalog(t *testing.T, populate func(b *catalogBuilder)) *ConnectionManager {
	t.Helper()
	path := newCatalogDB(t, populate)
	conns, err := Open(context.Background(), "sqlite", path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { conns.Close() })
	return conns
}

// execOrFail runs a statement on the manager's connection.
func execOrFail(t *testing.T, conns *ConnectionManager, query string, args ...any) {
	t.Helper()
	err := conns.withConn(func(conn *sql.Conn) error {
		_, err := conn.ExecContext(context.Background(), query, args...)
		return err
	})
	if err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}
