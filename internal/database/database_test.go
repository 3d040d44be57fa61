package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnijdam/Toolkit-Release-Clean/internal/config"
)

func TestDialects(t *testing.T) {
	my, err := DialectFor("mysql")
	require.NoError(t, err)
	pg, err := DialectFor("postgres")
	require.NoError(t, err)
	_, err = DialectFor("sqlite")
	assert.Error(t, err)

	assert.Equal(t, "?, ?, ?", Placeholders(my, 1, 3))
	assert.Equal(t, "$2, $3", Placeholders(pg, 2, 2))

	tbl, err := Table(my, "park_01", "slavedevice")
	require.NoError(t, err)
	assert.Equal(t, "`park_01`.`slavedevice`", tbl)

	tbl, err = Table(pg, "park-02", "sendlist")
	require.NoError(t, err)
	assert.Equal(t, `"park-02"."sendlist"`, tbl)
}

func TestQuoteIdent_RejectsInjection(t *testing.T) {
	for _, name := range []string{"", "a`b", `a"b`, "a;DROP TABLE x", "a.b", "a b"} {
		_, err := MySQL{}.QuoteIdent(name)
		assert.Error(t, err, name)
		_, err = Postgres{}.QuoteIdent(name)
		assert.Error(t, err, name)
	}
}

func TestDSN(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver: "mysql", Host: "db.example", Port: 3306,
		User: "op", Password: "pw", TLS: "skip-verify",
	}
	dsn := DSN(cfg)
	assert.Contains(t, dsn, "op:pw@tcp(db.example:3306)/")
	assert.Contains(t, dsn, "tls=skip-verify")

	cfg = &config.DatabaseConfig{
		Driver: "postgres", Host: "pg.example", Port: 5432,
		User: "op", Password: "p w'x", Database: "fleet", TLS: "false",
	}
	assert.Equal(t, `host=pg.example port=5432 user=op password='p w\'x' dbname=fleet sslmode=disable`, DSN(cfg))
}

func TestOpen_RequiresHost(t *testing.T) {
	_, _, err := Open(&config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}

func TestIsNoSuchTable(t *testing.T) {
	assert.True(t, IsNoSuchTable(&mysql.MySQLError{Number: 1146, Message: "Table 'x.slavedevice' doesn't exist"}))
	assert.True(t, IsNoSuchTable(fmt.Errorf("query: %w", &pq.Error{Code: "42P01"})))
	assert.False(t, IsNoSuchTable(&mysql.MySQLError{Number: 1045}))
	assert.False(t, IsNoSuchTable(errors.New("connection refused")))
	assert.False(t, IsNoSuchTable(nil))
}
