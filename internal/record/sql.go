package record

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ary1234554321/Neurosurf/internal/stream"
)

// Dialect selects DDL for the SQL sink.
type Dialect string

const (
	SQLite Dialect = "sqlite3"
	MySQL  Dialect = "mysql"
)

const (
	sqliteCreateTableTmpl = `CREATE TABLE IF NOT EXISTS samples (
		"ID"        INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"Session"   TEXT NOT NULL,
		"Source"    TEXT NOT NULL,
		"Seq"       INTEGER NOT NULL,
		"Timestamp" REAL NOT NULL,
		"Channel"   INTEGER NOT NULL,
		"Value"     REAL
	);`
	mysqlCreateTableTmpl = "CREATE TABLE IF NOT EXISTS samples (" +
		"`ID` BIGINT NOT NULL PRIMARY KEY AUTO_INCREMENT, " +
		"`Session` VARCHAR(36) NOT NULL, " +
		"`Source` VARCHAR(255) NOT NULL, " +
		"`Seq` BIGINT NOT NULL, " +
		"`Timestamp` DOUBLE NOT NULL, " +
		"`Channel` INT NOT NULL, " +
		"`Value` DOUBLE" +
		");"
	insertSampleTmpl = `INSERT INTO samples (Session, Source, Seq, Timestamp, Channel, Value) VALUES (?, ?, ?, ?, ?, ?);`
)

// SQL stores samples in long form: one row per channel value, grouped by a
// per-sink session id and a sequence number.
type SQL struct {
	db      *sql.DB
	insert  *sql.Stmt
	session string
	source  string
	seq     int64
}

// NewSQL creates the samples table if needed and prepares the insert.
func NewSQL(ctx context.Context, db *sql.DB, dialect Dialect, source string) (*SQL, error) {
	create := sqliteCreateTableTmpl
	if dialect == MySQL {
		create = mysqlCreateTableTmpl
	}
	if _, err := db.ExecContext(ctx, create); err != nil {
		return nil, fmt.Errorf("unable to create table: %w", err)
	}
	insert, err := db.PrepareContext(ctx, insertSampleTmpl)
	if err != nil {
		return nil, fmt.Errorf("unable to prepare insert: %w", err)
	}
	return &SQL{db: db, insert: insert, session: uuid.NewString(), source: source}, nil
}

// OpenSQLite opens (or creates) the database file at path.
func OpenSQLite(ctx context.Context, path, source string) (*SQL, error) {
	db, err := sql.Open(string(SQLite), path)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite DB %q: %w", path, err)
	}
	// Writes come from a single pipeline goroutine.
	db.SetMaxOpenConns(1)
	s, err := NewSQL(ctx, db, SQLite, source)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// MySQLConfig holds connection settings for the MySQL sink.
type MySQLConfig struct {
	Addr     string `json:"addr"`
	User     string `json:"user"`
	Password string `json:"-"`
	DBName   string `json:"db_name"`
}

// DSN renders the driver connection string.
func (c MySQLConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = c.Addr
	cfg.DBName = c.DBName
	return cfg.FormatDSN()
}

// OpenMySQL connects to a MySQL server and prepares the samples table.
func OpenMySQL(ctx context.Context, cfg MySQLConfig, source string) (*SQL, error) {
	db, err := sql.Open(string(MySQL), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to open MySQL DB %q: %w", cfg.Addr, err)
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	s, err := NewSQL(ctx, db, MySQL, source)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Session returns the id stamped on every row written by this sink.
func (s *SQL) Session() string { return s.session }

func (s *SQL) Write(ctx context.Context, sample stream.Sample) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	stmt := tx.StmtContext(ctx, s.insert)
	for ch, v := range sample.Values {
		if _, err := stmt.ExecContext(ctx, s.session, s.source, s.seq, sample.Timestamp, ch, v); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("error storing sample: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing sample: %w", err)
	}
	s.seq++
	return nil
}

func (s *SQL) Close() error {
	s.insert.Close()
	return s.db.Close()
}
