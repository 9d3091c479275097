package deployments

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS contract_deployments (
    chain_id BIGINT NOT NULL,
    contract TEXT NOT NULL,
    address TEXT NOT NULL,
    tx_hash TEXT NOT NULL,
    block_number BIGINT NOT NULL,
    migration TEXT NOT NULL,
    deployed_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (chain_id, contract)
);
`

// PostgresStore keeps deployment records in a table shared by every chain.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create deployments table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Get(ctx context.Context, chainID int64, contract string) (*Record, error) {
	row := p.pool.QueryRow(ctx, `
SELECT chain_id, contract, address, tx_hash, block_number, migration, deployed_at
FROM contract_deployments
WHERE chain_id = $1 AND contract = $2
`, chainID, contract)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *PostgresStore) Save(ctx context.Context, record Record) error {
	if err := record.validate(); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO contract_deployments (chain_id, contract, address, tx_hash, block_number, migration, deployed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (chain_id, contract) DO UPDATE
SET address = EXCLUDED.address,
    tx_hash = EXCLUDED.tx_hash,
    block_number = EXCLUDED.block_number,
    migration = EXCLUDED.migration,
    deployed_at = EXCLUDED.deployed_at
`, record.ChainID, record.Contract, record.Address.Hex(), record.TxHash.Hex(),
		int64(record.BlockNumber), record.Migration, record.DeployedAt)
	return err
}

func (p *PostgresStore) List(ctx context.Context, chainID int64) ([]Record, error) {
	rows, err := p.pool.Query(ctx, `
SELECT chain_id, contract, address, tx_hash, block_number, migration, deployed_at
FROM contract_deployments
WHERE chain_id = $1
ORDER BY block_number, contract
`, chainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec     Record
		address string
		txHash  string
		block   int64
	)
	if err := row.Scan(&rec.ChainID, &rec.Contract, &address, &txHash, &block, &rec.Migration, &rec.DeployedAt); err != nil {
		return nil, err
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("stored address %q for %s is not hex", address, rec.Contract)
	}
	rec.Address = common.HexToAddress(address)
	rec.TxHash = common.HexToHash(txHash)
	rec.BlockNumber = uint64(block)
	return &rec, nil
}
