package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"msgarchive/internal/config"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// Driver normalizes a configured driver name.
func Driver(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "mysql":
		return DriverMySQL, nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", name)
	}
}

// Open connects to the database selected by dbType.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	driver, err := Driver(dbType)
	if err != nil {
		return nil, err
	}
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		dbCfg, ok = cfg.Databases[driver]
	}
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var db *sql.DB
	switch driver {
	case DriverSQLite:
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		if err := ensureDir(dbCfg.DSN); err != nil {
			return nil, err
		}
		db, err = sql.Open(DriverSQLite, dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// one connection serializes writers and keeps :memory: databases coherent
		db.SetMaxOpenConns(1)
	case DriverMySQL:
		dsn := dbCfg.DSN
		if dsn == "" {
			mc := mysql.NewConfig()
			mc.User = dbCfg.Username
			mc.Passwd = dbCfg.Password
			mc.Net = "tcp"
			mc.Addr = fmt.Sprintf("%s:%d", dbCfg.Host, dbCfg.Port)
			mc.DBName = dbCfg.DBName
			mc.ParseTime = true
			dsn = mc.FormatDSN()
			if dbCfg.Params != "" {
				sep := "?"
				if strings.Contains(dsn, "?") {
					sep = "&"
				}
				dsn += sep + dbCfg.Params
			}
		}
		db, err = sql.Open(DriverMySQL, dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func ensureDir(dsn string) error {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	return nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, dbType string) error {
	driver, err := Driver(dbType)
	if err != nil {
		return fmt.Errorf("unsupported driver for migration: %s", dbType)
	}
	var stmts []string
	switch driver {
	case DriverSQLite:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS messages (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				phone TEXT NOT NULL CHECK(phone <> ''),
				body TEXT NOT NULL CHECK(body <> ''),
				direction TEXT NOT NULL CHECK(direction IN ('sent','received')),
				occurred_at DATETIME NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_phone_time ON messages(phone, occurred_at)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_time ON messages(occurred_at DESC)`,
			`CREATE TABLE IF NOT EXISTS contacts (
				phone TEXT PRIMARY KEY,
				name TEXT,
				updated_at DATETIME NOT NULL
			)`,
		}
	case DriverMySQL:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS messages (
				seq BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				id VARCHAR(64) NOT NULL,
				phone VARCHAR(255) NOT NULL,
				body MEDIUMTEXT NOT NULL,
				direction VARCHAR(16) NOT NULL,
				occurred_at DATETIME(6) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (seq),
				UNIQUE KEY uniq_messages_id (id),
				INDEX idx_messages_phone_time (phone, occurred_at),
				INDEX idx_messages_time (occurred_at),
				CONSTRAINT chk_messages_direction CHECK (direction IN ('sent','received'))
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS contacts (
				phone VARCHAR(255) NOT NULL,
				name VARCHAR(255) NULL,
				updated_at DATETIME(6) NOT NULL,
				PRIMARY KEY (phone)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

// IsUniqueViolation reports whether err is a unique-constraint failure from
// either supported driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	return false
}
