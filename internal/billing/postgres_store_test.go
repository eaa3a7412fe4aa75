package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	sql  string
	args []any
}

type recordingDB struct {
	calls []recordedCall
	tag   pgconn.CommandTag
}

var errStopped = errors.New("stopped")

func (d *recordingDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.calls = append(d.calls, recordedCall{sql, args})
	return nil, errStopped
}

func (d *recordingDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	d.calls = append(d.calls, recordedCall{sql, args})
	return errRow{}
}

func (d *recordingDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.calls = append(d.calls, recordedCall{sql, args})
	return d.tag, nil
}

type errRow struct{}

func (errRow) Scan(dest ...any) error { return errStopped }

func TestPostgresStore_ReceivableListAndTotalUseSameFilter(t *testing.T) {
	db := &recordingDB{}
	store := NewPostgresStore(db)
	ctx := context.Background()
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	_, err := store.GetReceivableByClient(ctx, "ANERY", from, to)
	require.ErrorIs(t, err, errStopped)
	_, err = store.GetReceivableTotalByClient(ctx, "ANERY", from, to)
	require.ErrorIs(t, err, errStopped)

	require.Len(t, db.calls, 2)
	want := []any{TransportInvoiced, PaymentReceivable, "ANERY", from, to}
	for _, c := range db.calls {
		assert.Contains(t, c.sql, "payment_status = $2")
		assert.Equal(t, want, c.args)
	}
}

func TestPostgresStore_StaleTransitionIsRejected(t *testing.T) {
	db := &recordingDB{tag: pgconn.NewCommandTag("UPDATE 0")}
	store := NewPostgresStore(db)
	ctx := context.Background()

	assert.ErrorIs(t, store.UpdateTransportStatus(ctx, 1, TransportOpen, TransportInProgress), ErrInvalidTransition)
	assert.ErrorIs(t, store.UpdateQuoteStatus(ctx, 1, QuoteOpen, QuoteApproved), ErrInvalidTransition)
	assert.ErrorIs(t, store.UpdatePaymentStatus(ctx, 1, PaymentReceivable, PaymentReceived), ErrInvalidTransition)

	db.tag = pgconn.NewCommandTag("UPDATE 1")
	assert.NoError(t, store.UpdateTransportStatus(ctx, 1, TransportOpen, TransportInProgress))
	assert.Equal(t, []any{int64(1), TransportOpen, TransportInProgress}, db.calls[len(db.calls)-1].args)
}
