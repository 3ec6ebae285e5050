package journal

import (
	"context"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists entries in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createPostgresTableSQL = `
CREATE TABLE IF NOT EXISTS tx_journal (
    id UUID PRIMARY KEY,
    action TEXT NOT NULL,
    contract TEXT NOT NULL,
    method TEXT NOT NULL,
    from_address TEXT NOT NULL,
    tx_hash TEXT NOT NULL,
    status TEXT NOT NULL,
    block_number BIGINT NOT NULL,
    gas_used BIGINT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tx_journal_hash ON tx_journal (tx_hash);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, stderrors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createPostgresTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Save(ctx context.Context, e Entry) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO tx_journal (id, action, contract, method, from_address, tx_hash, status, block_number, gas_used, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status,
    block_number = EXCLUDED.block_number,
    gas_used = EXCLUDED.gas_used,
    reason = EXCLUDED.reason
`, e.ID, e.Action, e.Contract, e.Method, e.From, e.TxHash, e.Status, int64(e.Block), int64(e.GasUsed), e.Reason, e.CreatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, txHash string) (*Entry, error) {
	row := p.pool.QueryRow(ctx, `
SELECT `+pgSelectColumns+`
FROM tx_journal
WHERE tx_hash = $1
ORDER BY created_at DESC
LIMIT 1
`, txHash)

	e, err := scanPgEntry(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := p.pool.Query(ctx, `
SELECT `+pgSelectColumns+`
FROM tx_journal
ORDER BY created_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanPgEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

const pgSelectColumns = `id::text, action, contract, method, from_address, tx_hash, status, block_number, gas_used, reason, created_at`

func scanPgEntry(row pgx.Row) (*Entry, error) {
	var (
		e              Entry
		block, gasUsed int64
	)
	if err := row.Scan(&e.ID, &e.Action, &e.Contract, &e.Method, &e.From, &e.TxHash, &e.Status,
		&block, &gasUsed, &e.Reason, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Block = uint64(block)
	e.GasUsed = uint64(gasUsed)
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}
