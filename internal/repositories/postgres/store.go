package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/Lumerin-protocol/contract-settlement/internal/contract"
	"github.com/Lumerin-protocol/contract-settlement/internal/lib"
	"github.com/Lumerin-protocol/contract-settlement/internal/service"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const contractColumns = `id, document, content_type, document_hash, parties, status, min_signers,
	sequential_signing, fee::text, shares_bps, expiry_date, settlement_key, settlement_tx,
	settlement_ref, settlement_attempts, dispute_reason, created_at, updated_at`

type ContractStore struct {
	pool *pgxpool.Pool
}

func NewContractStore(pool *pgxpool.Pool) *ContractStore {
	return &ContractStore{pool: pool}
}

func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, lib.WrapError(contract.ErrUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, lib.WrapError(contract.ErrUnavailable, err)
	}
	return pool, nil
}

func (s *ContractStore) SaveContract(ctx context.Context, c contract.Contract) (*contract.Contract, error) {
	row, err := toRow(c)
	if err != nil {
		return nil, err
	}

	_, err = s.q(ctx).Exec(ctx, `
		INSERT INTO contracts (id, document, content_type, document_hash, parties, status, min_signers,
			sequential_signing, fee, shares_bps, expiry_date, settlement_key, settlement_tx,
			settlement_ref, settlement_attempts, dispute_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		c.ID, c.Document, c.ContentType, c.DocumentHash.Bytes(), row.parties, string(c.Status), c.Policy.MinSigners,
		c.Policy.RequireSequentialSigning, row.fee, row.shares, c.ExpiryDate, row.settlementKey, c.SettlementTx,
		c.SettlementRef, c.SettlementAttempts, c.DisputeReason, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}

	saved := c.Clone()
	return &saved, nil
}

func (s *ContractStore) FindContract(ctx context.Context, contractID string) (*contract.Contract, error) {
	row := s.q(ctx).QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, contractID)
	c, err := scanContract(row)
	if err != nil {
		return nil, lib.WrapError(mapError(err), fmt.Errorf("contract %s", contractID))
	}
	return c, nil
}

func (s *ContractStore) FindContractsByParty(ctx context.Context, publicKey string) ([]contract.Contract, error) {
	filter, err := json.Marshal([]map[string]string{{"publicKey": publicKey}})
	if err != nil {
		return nil, err
	}
	return s.list(ctx, `SELECT `+contractColumns+` FROM contracts WHERE parties @> $1::jsonb ORDER BY created_at, id`, filter)
}

func (s *ContractStore) FindContractsByStatus(ctx context.Context, status contract.Status) ([]contract.Contract, error) {
	return s.list(ctx, `SELECT `+contractColumns+` FROM contracts WHERE status = $1 ORDER BY created_at, id`, string(status))
}

// UpdateContract reads the row under FOR UPDATE and writes the mutable columns back in one transaction
func (s *ContractStore) UpdateContract(ctx context.Context, contractID string, update service.ContractUpdate) (*contract.Contract, error) {
	var result *contract.Contract
	err := withTx(ctx, s.pool, func(ctx context.Context) error {
		row := s.q(ctx).QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1 FOR UPDATE`, contractID)
		c, err := scanContract(row)
		if err != nil {
			return lib.WrapError(mapError(err), fmt.Errorf("contract %s", contractID))
		}

		service.ApplyUpdate(c, update)
		encoded, err := toRow(*c)
		if err != nil {
			return err
		}

		_, err = s.q(ctx).Exec(ctx, `
			UPDATE contracts SET parties = $2, status = $3, settlement_key = $4, settlement_tx = $5,
				settlement_ref = $6, settlement_attempts = $7, dispute_reason = $8, updated_at = $9
			WHERE id = $1`,
			c.ID, encoded.parties, string(c.Status), encoded.settlementKey, c.SettlementTx,
			c.SettlementRef, c.SettlementAttempts, c.DisputeReason, c.UpdatedAt,
		)
		if err != nil {
			return mapError(err)
		}
		result = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ContractStore) list(ctx context.Context, query string, args ...any) ([]contract.Contract, error) {
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []contract.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, mapError(err)
		}
		result = append(result, *c)
	}
	return result, mapError(rows.Err())
}

func (s *ContractStore) q(ctx context.Context) querier {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

type encodedRow struct {
	parties       []byte
	shares        []byte
	fee           string
	settlementKey []byte
}

func toRow(c contract.Contract) (encodedRow, error) {
	parties, err := json.Marshal(c.Parties)
	if err != nil {
		return encodedRow{}, fmt.Errorf("encode parties: %w", err)
	}
	shares := c.Terms.SharesBps
	if shares == nil {
		shares = []uint32{}
	}
	sharesJSON, err := json.Marshal(shares)
	if err != nil {
		return encodedRow{}, fmt.Errorf("encode shares: %w", err)
	}

	row := encodedRow{parties: parties, shares: sharesJSON, fee: "0"}
	if c.Terms.Fee != nil {
		row.fee = c.Terms.Fee.String()
	}
	if c.SettlementKey != (common.Hash{}) {
		row.settlementKey = c.SettlementKey.Bytes()
	}
	return row, nil
}

func scanContract(row pgx.Row) (*contract.Contract, error) {
	var (
		c             contract.Contract
		documentHash  []byte
		parties       []byte
		status        string
		fee           string
		shares        []byte
		settlementKey []byte
	)
	err := row.Scan(
		&c.ID, &c.Document, &c.ContentType, &documentHash, &parties, &status, &c.Policy.MinSigners,
		&c.Policy.RequireSequentialSigning, &fee, &shares, &c.ExpiryDate, &settlementKey, &c.SettlementTx,
		&c.SettlementRef, &c.SettlementAttempts, &c.DisputeReason, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = contract.Status(status)
	if !c.Status.IsValid() {
		return nil, lib.WrapError(contract.ErrValidation, fmt.Errorf("contract %s has unknown status %q", c.ID, status))
	}
	c.DocumentHash = common.BytesToHash(documentHash)
	if len(settlementKey) > 0 {
		c.SettlementKey = common.BytesToHash(settlementKey)
	}
	if err := json.Unmarshal(parties, &c.Parties); err != nil {
		return nil, fmt.Errorf("decode parties of %s: %w", c.ID, err)
	}
	if err := json.Unmarshal(shares, &c.Terms.SharesBps); err != nil {
		return nil, fmt.Errorf("decode shares of %s: %w", c.ID, err)
	}
	if len(c.Terms.SharesBps) == 0 {
		c.Terms.SharesBps = nil
	}
	feeInt, ok := new(big.Int).SetString(fee, 10)
	if !ok {
		return nil, fmt.Errorf("decode fee of %s: %q", c.ID, fee)
	}
	c.Terms.Fee = feeInt
	c.ExpiryDate = c.ExpiryDate.UTC()
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}
