package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"os"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DSN(t *testing.T) {
	cfg := Config{Host: "db.internal", Port: 3307, User: "ops", Password: "p@ss:word", Name: "buddyguard"}

	parsed, err := mysql.ParseDSN(cfg.DSN())
	require.NoError(t, err)
	assert.Equal(t, "tcp", parsed.Net)
	assert.Equal(t, "db.internal:3307", parsed.Addr)
	assert.Equal(t, "ops", parsed.User)
	assert.Equal(t, "p@ss:word", parsed.Passwd)
	assert.Equal(t, "buddyguard", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.Equal(t, time.UTC, parsed.Loc)
}

func TestNew_DoesNotDial(t *testing.T) {
	database, err := New(Config{Host: "127.0.0.1", Port: 1, User: "x", Name: "x", MaxOpenConns: 1})
	require.NoError(t, err)
	defer database.Close()
	assert.Equal(t, 1, database.Stats().MaxOpenConnections)
}

func TestTxRunner(t *testing.T) {
	dsn := os.Getenv("MYSQL_TEST_DSN")
	if dsn == "" {
		t.Skip("MYSQL_TEST_DSN not set")
	}
	database, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	defer database.Close()
	// temporary tables live on one connection
	database.SetMaxOpenConns(1)
	ctx := context.Background()
	require.NoError(t, Ping(ctx, database))

	_, err = database.ExecContext(ctx, `CREATE TEMPORARY TABLE tx_runner_test (n INT)`)
	require.NoError(t, err)
	runner := NewTxRunner(database)

	failure := stderrors.New("abort")
	err = runner.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tx_runner_test VALUES (1)`); err != nil {
			return err
		}
		return failure
	})
	assert.ErrorIs(t, err, failure)

	var n int
	err = runner.WithTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tx_runner_test`).Scan(&n)
	})
	require.NoError(t, err)
	assert.Zero(t, n, "rolled back insert must not be visible")
}
