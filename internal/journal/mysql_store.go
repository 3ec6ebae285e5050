package journal

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	pkgdb "github.com/ahwlsqja/buddyguard-ops/pkg/db"
)

// MySQLStore persists entries in a MySQL table.
type MySQLStore struct {
	txRunner *pkgdb.TxRunner
}

const createMySQLTableSQL = `
CREATE TABLE IF NOT EXISTS tx_journal (
    id CHAR(36) PRIMARY KEY,
    action VARCHAR(64) NOT NULL,
    contract CHAR(42) NOT NULL,
    method VARCHAR(64) NOT NULL,
    from_address CHAR(42) NOT NULL,
    tx_hash CHAR(66) NOT NULL,
    status VARCHAR(16) NOT NULL,
    block_number BIGINT UNSIGNED NOT NULL,
    gas_used BIGINT UNSIGNED NOT NULL,
    reason TEXT NULL,
    created_at DATETIME(6) NOT NULL,
    INDEX idx_tx_journal_hash (tx_hash),
    INDEX idx_tx_journal_created (created_at)
)`

// NewMySQLStore ensures the journal table exists on database.
func NewMySQLStore(ctx context.Context, database *sql.DB) (*MySQLStore, error) {
	if err := pkgdb.Ping(ctx, database); err != nil {
		return nil, err
	}
	if _, err := database.ExecContext(ctx, createMySQLTableSQL); err != nil {
		return nil, fmt.Errorf("create journal table: %w", err)
	}
	return &MySQLStore{txRunner: pkgdb.NewTxRunner(database)}, nil
}

// Save upserts by id so a re-recorded entry replaces the old row.
func (s *MySQLStore) Save(ctx context.Context, e Entry) error {
	return s.txRunner.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tx_journal WHERE id = ?`, e.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO tx_journal (id, action, contract, method, from_address, tx_hash, status, block_number, gas_used, reason, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Action, e.Contract, e.Method, e.From, e.TxHash, e.Status, e.Block, e.GasUsed,
			sql.NullString{String: e.Reason, Valid: e.Reason != ""}, e.CreatedAt)
		return err
	})
}

const selectColumns = `id, action, contract, method, from_address, tx_hash, status, block_number, gas_used, reason, created_at`

func (s *MySQLStore) Get(ctx context.Context, txHash string) (*Entry, error) {
	row := s.txRunner.DB().QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM tx_journal WHERE tx_hash = ? ORDER BY created_at DESC LIMIT 1`, txHash)
	e, err := scanEntry(row.Scan)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *MySQLStore) List(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.txRunner.DB().QueryContext(ctx,
		`SELECT `+selectColumns+` FROM tx_journal ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *MySQLStore) Ping(ctx context.Context) error {
	return pkgdb.Ping(ctx, s.txRunner.DB())
}

func (s *MySQLStore) Close() error {
	return s.txRunner.DB().Close()
}

func scanEntry(scan func(dest ...any) error) (*Entry, error) {
	var (
		e      Entry
		reason sql.NullString
	)
	if err := scan(&e.ID, &e.Action, &e.Contract, &e.Method, &e.From, &e.TxHash, &e.Status,
		&e.Block, &e.GasUsed, &reason, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Reason = reason.String
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}
