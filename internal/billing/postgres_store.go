package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
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

const transportColumns = `
	id, patient, origin, destination, client_name, category, trip_mode, status,
	distance, wait_minutes, dispatch_fee, distance_charge, wait_charge, total,
	payment_status, created_at, invoiced_at
`

func scanTransport(row pgx.Row) (*Transport, error) {
	var t Transport
	err := row.Scan(
		&t.ID, &t.Patient, &t.Origin, &t.Destination, &t.ClientName, &t.Category, &t.TripMode, &t.Status,
		&t.Distance, &t.WaitMinutes, &t.DispatchFee, &t.DistanceCharge, &t.WaitCharge, &t.Total,
		&t.PaymentStatus, &t.CreatedAt, &t.InvoicedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) CreateTransport(ctx context.Context, t *Transport) error {
	query := `
		INSERT INTO transports (patient, origin, destination, client_name, category, trip_mode, status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		t.Patient, t.Origin, t.Destination, t.ClientName, t.Category, t.TripMode, t.Status, t.PaymentStatus,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetTransport(ctx context.Context, id int64) (*Transport, error) {
	query := `SELECT ` + transportColumns + ` FROM transports WHERE id = $1`

	t, err := scanTransport(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransportNotFound
		}
		return nil, fmt.Errorf("failed to get transport: %w", err)
	}

	return t, nil
}

func (s *PostgresStore) UpdateTransportStatus(ctx context.Context, id int64, from, to TransportStatus) error {
	query := `UPDATE transports SET status = $3 WHERE id = $1 AND status = $2`
	return s.transition(ctx, query, "transport status", id, from, to)
}

func (s *PostgresStore) UpdatePaymentStatus(ctx context.Context, id int64, from, to PaymentStatus) error {
	query := `UPDATE transports SET payment_status = $3 WHERE id = $1 AND payment_status = $2 AND status = $4`
	tag, err := s.db.Exec(ctx, query, id, from, to, TransportInvoiced)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (s *PostgresStore) UpdateQuoteStatus(ctx context.Context, id int64, from, to QuoteStatus) error {
	query := `UPDATE quotes SET status = $3 WHERE id = $1 AND status = $2`
	return s.transition(ctx, query, "quote status", id, from, to)
}

func (s *PostgresStore) transition(ctx context.Context, query, what string, id int64, from, to any) error {
	tag, err := s.db.Exec(ctx, query, id, from, to)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	// The row moved on since it was read.
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (s *PostgresStore) SaveInvoice(ctx context.Context, t *Transport) error {
	query := `
		UPDATE transports
		SET status = $2, distance = $3, wait_minutes = $4,
			dispatch_fee = $5, distance_charge = $6, wait_charge = $7, total = $8,
			payment_status = $9, invoiced_at = $10
		WHERE id = $1 AND status <> $2
	`
	tag, err := s.db.Exec(ctx, query,
		t.ID, t.Status, t.Distance, t.WaitMinutes,
		t.DispatchFee, t.DistanceCharge, t.WaitCharge, t.Total,
		t.PaymentStatus, t.InvoicedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save invoice: %w", err)
	}

	// Zero rows means either a missing row or a concurrent invoice.
	if tag.RowsAffected() == 0 {
		return ErrAlreadyInvoiced
	}

	return nil
}

func (s *PostgresStore) CreateQuote(ctx context.Context, q *Quote) error {
	query := `
		INSERT INTO quotes (patient, origin, destination, client_name, category, trip_mode, estimated_distance, total, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		q.Patient, q.Origin, q.Destination, q.ClientName, q.Category, q.TripMode,
		q.EstimatedDistance, q.Total, q.Status, q.Notes,
	).Scan(&q.ID, &q.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create quote: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetQuote(ctx context.Context, id int64) (*Quote, error) {
	query := `
		SELECT id, patient, origin, destination, client_name, category, trip_mode, estimated_distance, total, status, notes, created_at
		FROM quotes
		WHERE id = $1
	`
	var q Quote
	err := s.db.QueryRow(ctx, query, id).Scan(
		&q.ID, &q.Patient, &q.Origin, &q.Destination, &q.ClientName, &q.Category, &q.TripMode,
		&q.EstimatedDistance, &q.Total, &q.Status, &q.Notes, &q.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuoteNotFound
		}
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}

	return &q, nil
}

func (s *PostgresStore) GetReceivableByClient(ctx context.Context, client string, from, to time.Time) ([]*Transport, error) {
	query := `SELECT ` + transportColumns + `
		FROM transports
		WHERE status = $1 AND payment_status = $2 AND upper(client_name) = upper($3) AND invoiced_at BETWEEN $4 AND $5
		ORDER BY invoiced_at DESC
	`
	rows, err := s.db.Query(ctx, query, TransportInvoiced, PaymentReceivable, client, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query receivable transports: %w", err)
	}
	defer rows.Close()

	var out []*Transport
	for rows.Next() {
		t, err := scanTransport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transport: %w", err)
		}
		out = append(out, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transports: %w", err)
	}

	return out, nil
}

func (s *PostgresStore) GetReceivableTotalByClient(ctx context.Context, client string, from, to time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(total), 0)
		FROM transports
		WHERE status = $1 AND payment_status = $2 AND upper(client_name) = upper($3) AND invoiced_at BETWEEN $4 AND $5
	`
	var total decimal.Decimal
	err := s.db.QueryRow(ctx, query, TransportInvoiced, PaymentReceivable, client, from, to).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get receivable total: %w", err)
	}

	return total, nil
}
