package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vnmchuo/tariff-engine/internal/tariff"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ListClients(ctx context.Context) (tariff.Catalog, error) {
	query := `
		SELECT id, name, active, price_table
		FROM clients
		ORDER BY id
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	var out tariff.Catalog
	for rows.Next() {
		var (
			e   tariff.CatalogEntry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.Active, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		if err := json.Unmarshal(raw, &e.Table); err != nil {
			return nil, fmt.Errorf("failed to decode price table of client %d: %w", e.ID, err)
		}
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clients: %w", err)
	}

	return out, nil
}

func (s *PostgresStore) CreateClient(ctx context.Context, entry *tariff.CatalogEntry) error {
	raw, err := json.Marshal(entry.Table)
	if err != nil {
		return fmt.Errorf("failed to encode price table: %w", err)
	}

	query := `
		INSERT INTO clients (name, active, price_table)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	if err := s.db.QueryRow(ctx, query, entry.Name, entry.Active, raw).Scan(&entry.ID); err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	return nil
}

func (s *PostgresStore) UpdateClientTable(ctx context.Context, id int64, table tariff.PriceTable) error {
	raw, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("failed to encode price table: %w", err)
	}

	query := `UPDATE clients SET price_table = $2, updated_at = now() WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, id, raw)
	if err != nil {
		return fmt.Errorf("failed to update price table: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}

	return nil
}

func (s *PostgresStore) SetClientActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE clients SET active = $2, updated_at = now() WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, id, active)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrClientNotFound
	}

	return nil
}

func (s *PostgresStore) GetProvider(ctx context.Context, id int64) (*Provider, error) {
	query := `
		SELECT id, name, role, phone, cost_table, created_at
		FROM providers
		WHERE id = $1
	`

	var (
		p   Provider
		raw []byte
	)
	err := s.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.Role, &p.Phone, &raw, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}

	if err := json.Unmarshal(raw, &p.CostTable); err != nil {
		return nil, fmt.Errorf("failed to decode cost table of provider %d: %w", p.ID, err)
	}

	return &p, nil
}

func (s *PostgresStore) CreateProvider(ctx context.Context, p *Provider) error {
	raw, err := json.Marshal(p.CostTable)
	if err != nil {
		return fmt.Errorf("failed to encode cost table: %w", err)
	}

	query := `
		INSERT INTO providers (name, role, phone, cost_table)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err = s.db.QueryRow(ctx, query, p.Name, p.Role, p.Phone, raw).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	return nil
}
