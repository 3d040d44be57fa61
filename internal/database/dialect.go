package database

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var identPattern = regexp.MustCompile(`^[A-Za-z0-9_$-]{1,64}$`)

// Dialect hides the placeholder and identifier quoting differences between
// MySQL/MariaDB and PostgreSQL. Tenant schemas are identifiers, so they are
// validated and quoted rather than bound.
type Dialect interface {
	Name() string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string
	QuoteIdent(name string) (string, error)
}

// Table returns the quoted schema-qualified table name.
func Table(d Dialect, schema, table string) (string, error) {
	s, err := d.QuoteIdent(schema)
	if err != nil {
		return "", err
	}
	t, err := d.QuoteIdent(table)
	if err != nil {
		return "", err
	}
	return s + "." + t, nil
}

// Placeholders returns "p1, p2, ... pn" starting at argument `from`.
func Placeholders(d Dialect, from, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = d.Placeholder(from + i)
	}
	return strings.Join(parts, ", ")
}

// DialectFor returns the dialect of a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "mysql":
		return MySQL{}, nil
	case "postgres":
		return Postgres{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

// MySQL dialect (also MariaDB).
type MySQL struct{}

func (MySQL) Name() string { return "mysql" }
func (MySQL) Placeholder(int) string { return "?" }
func (MySQL) QuoteIdent(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return "`" + name + "`", nil
}

// Postgres dialect.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }
func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (Postgres) QuoteIdent(name string) (string, error) {
	if !identPattern.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return `"` + name + `"`, nil
}
