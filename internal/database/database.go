package database

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/config"
)

// Open opens the fleet database selected in cfg and checks it is reachable.
func Open(cfg *config.DatabaseConfig) (*sql.DB, Dialect, error) {
	if cfg.Host == "" {
		return nil, nil, errors.New("database host is not set, select a target first")
	}
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open(cfg.Driver, DSN(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, dialect, nil
}

// DSN builds the driver connection string.
func DSN(cfg *config.DatabaseConfig) string {
	if cfg.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			pgValue(cfg.Host), cfg.Port, pgValue(cfg.User), pgValue(cfg.Password),
			pgValue(cfg.Database), pgSSLMode(cfg.TLS))
	}

	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.TLSConfig = cfg.TLS
	mc.Timeout = 10 * time.Second
	return mc.FormatDSN()
}

// IsNoSuchTable reports whether err means the tenant schema lacks the
// queried table (MySQL 1146/1049, PostgreSQL 42P01/3F000). Such schemas are
// skipped rather than treated as faults.
func IsNoSuchTable(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1146 || myErr.Number == 1049
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01" || pqErr.Code == "3F000"
	}
	return false
}

func pgSSLMode(tls string) string {
	switch tls {
	case "", "false":
		return "disable"
	case "skip-verify", "preferred":
		return "require"
	case "true":
		return "verify-full"
	default:
		return tls
	}
}

func pgValue(v string) string {
	if v == "" {
		return "''"
	}
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
