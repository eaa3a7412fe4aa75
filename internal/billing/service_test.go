package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/tariff-engine/internal/catalog"
	"github.com/vnmchuo/tariff-engine/internal/tariff"
)

type mockSource struct {
	snapshot  tariff.Catalog
	err       error
	providers map[int64]*catalog.Provider
}

func (m *mockSource) Snapshot(ctx context.Context) (tariff.Catalog, error) {
	return m.snapshot, m.err
}

func (m *mockSource) Provider(ctx context.Context, id int64) (*catalog.Provider, error) {
	if p, ok := m.providers[id]; ok {
		return p, nil
	}
	return nil, catalog.ErrProviderNotFound
}

type mockStore struct {
	transports map[int64]*Transport
	saved      []*Transport
	quotes     []*Quote
	saveErr    error

	receivableFunc func(ctx context.Context, client string, from, to time.Time) ([]*Transport, error)
	totalFunc      func(ctx context.Context, client string, from, to time.Time) (decimal.Decimal, error)
}

func (m *mockStore) CreateTransport(ctx context.Context, t *Transport) error {
	if m.transports == nil {
		m.transports = map[int64]*Transport{}
	}
	t.ID = int64(len(m.transports) + 1)
	t.CreatedAt = time.Now()
	cp := *t
	m.transports[t.ID] = &cp
	return nil
}

func (m *mockStore) UpdateTransportStatus(ctx context.Context, id int64, from, to TransportStatus) error {
	t, ok := m.transports[id]
	if !ok || t.Status != from {
		return ErrInvalidTransition
	}
	t.Status = to
	return nil
}

func (m *mockStore) UpdatePaymentStatus(ctx context.Context, id int64, from, to PaymentStatus) error {
	t, ok := m.transports[id]
	if !ok || t.PaymentStatus != from {
		return ErrInvalidTransition
	}
	t.PaymentStatus = to
	return nil
}

func (m *mockStore) UpdateQuoteStatus(ctx context.Context, id int64, from, to QuoteStatus) error {
	if id < 1 || int(id) > len(m.quotes) || m.quotes[id-1].Status != from {
		return ErrInvalidTransition
	}
	m.quotes[id-1].Status = to
	return nil
}

func (m *mockStore) GetTransport(ctx context.Context, id int64) (*Transport, error) {
	t, ok := m.transports[id]
	if !ok {
		return nil, ErrTransportNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockStore) SaveInvoice(ctx context.Context, t *Transport) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, t)
	return nil
}

func (m *mockStore) CreateQuote(ctx context.Context, q *Quote) error {
	q.ID = int64(len(m.quotes) + 1)
	q.CreatedAt = time.Now()
	m.quotes = append(m.quotes, q)
	return nil
}

func (m *mockStore) GetQuote(ctx context.Context, id int64) (*Quote, error) {
	if id < 1 || int(id) > len(m.quotes) {
		return nil, ErrQuoteNotFound
	}
	return m.quotes[id-1], nil
}

func (m *mockStore) GetReceivableByClient(ctx context.Context, client string, from, to time.Time) ([]*Transport, error) {
	if m.receivableFunc != nil {
		return m.receivableFunc(ctx, client, from, to)
	}
	return nil, nil
}

func (m *mockStore) GetReceivableTotalByClient(ctx context.Context, client string, from, to time.Time) (decimal.Decimal, error) {
	if m.totalFunc != nil {
		return m.totalFunc(ctx, client, from, to)
	}
	return decimal.Zero, nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testCatalog() tariff.Catalog {
	return tariff.Catalog{{
		ID:     1,
		Name:   "ANERY",
		Active: true,
		Table: tariff.PriceTable{
			DistanceRate: map[tariff.Category]decimal.Decimal{tariff.CategoryBasic: dec("3.50")},
			WaitRate:     map[tariff.Category]decimal.Decimal{tariff.CategoryBasic: dec("80.00")},
			DispatchFee: map[tariff.Category]tariff.DispatchFees{
				tariff.CategoryBasic: {
					tariff.OneWay:    {WithDistance: dec("150"), WithoutDistance: dec("150")},
					tariff.RoundTrip: {WithDistance: dec("250"), WithoutDistance: dec("250")},
				},
			},
		},
	}}
}

func newTestService(store *mockStore) *Service {
	s := NewService(&mockSource{snapshot: testCatalog()}, store, nil)
	s.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestInvoiceTransport(t *testing.T) {
	store := &mockStore{transports: map[int64]*Transport{
		1001: {ID: 1001, ClientName: "ANERY", Category: tariff.CategoryBasic, TripMode: tariff.OneWay, Status: TransportCompleted},
	}}
	s := newTestService(store)

	got, err := s.InvoiceTransport(context.Background(), 1001, dec("120"), dec("30"))
	require.NoError(t, err)

	assert.Equal(t, TransportInvoiced, got.Status)
	assert.Equal(t, PaymentReceivable, got.PaymentStatus)
	assert.True(t, got.Total.Equal(dec("610")), "total = %s", got.Total)
	assert.True(t, got.DistanceCharge.Equal(dec("420")))
	assert.True(t, got.WaitCharge.Equal(dec("40")))
	assert.True(t, got.DispatchFee.Equal(dec("150")))
	assert.True(t, got.Distance.Equal(dec("120")))
	require.NotNil(t, got.InvoicedAt)
	assert.Equal(t, 2026, got.InvoicedAt.Year())
	require.Len(t, store.saved, 1)
}

func TestInvoiceTransport_StoresClampedInputs(t *testing.T) {
	store := &mockStore{transports: map[int64]*Transport{
		7: {ID: 7, ClientName: "ANERY", Category: tariff.CategoryBasic, TripMode: tariff.OneWay, Status: TransportCompleted},
	}}
	s := newTestService(store)

	got, err := s.InvoiceTransport(context.Background(), 7, dec("-12"), dec("-5"))
	require.NoError(t, err)

	require.Len(t, store.saved, 1)
	assert.True(t, store.saved[0].Distance.IsZero(), "distance = %s", store.saved[0].Distance)
	assert.True(t, store.saved[0].WaitMinutes.IsZero(), "wait = %s", store.saved[0].WaitMinutes)
	assert.True(t, got.DistanceCharge.IsZero())
	assert.True(t, got.DispatchFee.Equal(dec("150")), "without-distance fee expected")
}

func TestInvoiceTransport_Rejections(t *testing.T) {
	store := &mockStore{transports: map[int64]*Transport{
		1: {ID: 1, ClientName: "ANERY", Category: tariff.CategoryBasic, TripMode: tariff.OneWay, Status: TransportInvoiced},
		2: {ID: 2, ClientName: "ANERY", Category: tariff.CategoryBasic, TripMode: tariff.OneWay, Status: TransportCancelled},
	}}
	s := newTestService(store)

	_, err := s.InvoiceTransport(context.Background(), 1, dec("1"), dec("0"))
	assert.ErrorIs(t, err, ErrAlreadyInvoiced)

	_, err = s.InvoiceTransport(context.Background(), 2, dec("1"), dec("0"))
	assert.ErrorIs(t, err, ErrTransportCancelled)

	_, err = s.InvoiceTransport(context.Background(), 3, dec("1"), dec("0"))
	assert.ErrorIs(t, err, ErrTransportNotFound)

	assert.Empty(t, store.saved)
}

func TestInvoiceTransport_CatalogUnavailable(t *testing.T) {
	store := &mockStore{transports: map[int64]*Transport{
		1: {ID: 1, ClientName: "ANERY", Category: tariff.CategoryBasic, TripMode: tariff.OneWay, Status: TransportOpen},
	}}
	s := NewService(&mockSource{err: errors.New("db down")}, store, nil)

	_, err := s.InvoiceTransport(context.Background(), 1, dec("1"), dec("0"))
	assert.Error(t, err)
	assert.Empty(t, store.saved)
}

func TestPreviewQuote_IgnoresWaitingAndAllowsIncompleteInput(t *testing.T) {
	s := newTestService(&mockStore{})

	got, err := s.PreviewQuote(context.Background(), QuoteRequest{
		ClientName:        "anery",
		Category:          tariff.CategoryBasic,
		TripMode:          tariff.RoundTrip,
		EstimatedDistance: dec("10"),
	})
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(dec("285")), "total = %s", got.Total)
	assert.True(t, got.WaitCharge.IsZero())

	got, err = s.PreviewQuote(context.Background(), QuoteRequest{ClientName: "anery"})
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestCreateQuote(t *testing.T) {
	store := &mockStore{}
	s := newTestService(store)

	q, err := s.CreateQuote(context.Background(), QuoteRequest{
		Patient:           "João da Silva",
		ClientName:        "ANERY",
		Category:          tariff.CategoryBasic,
		TripMode:          tariff.OneWay,
		EstimatedDistance: dec("20"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.ID)
	assert.Equal(t, QuoteOpen, q.Status)
	assert.True(t, q.Total.Equal(dec("220")))

	_, err = s.CreateQuote(context.Background(), QuoteRequest{ClientName: "ANERY"})
	assert.ErrorIs(t, err, ErrIncompleteRequest)
	assert.Len(t, store.quotes, 1)
}

func TestEstimateProviderCost(t *testing.T) {
	cost := testCatalog()[0].Table
	cost.DistanceRate = map[tariff.Category]decimal.Decimal{tariff.CategoryBasic: dec("1.50")}
	source := &mockSource{
		snapshot:  testCatalog(),
		providers: map[int64]*catalog.Provider{1: {ID: 1, Name: "João Motorista", CostTable: cost}},
	}
	s := NewService(source, &mockStore{}, nil)

	got, err := s.EstimateProviderCost(context.Background(), 1, tariff.Input{
		ClientName: "ignored",
		Category:   tariff.CategoryICUAdult,
		TripMode:   tariff.OneWay,
		Distance:   dec("100"),
	})
	require.NoError(t, err)
	assert.True(t, got.DistanceCharge.Equal(dec("150")))
	assert.True(t, got.Total.Equal(dec("300")))

	_, err = s.EstimateProviderCost(context.Background(), 2, tariff.Input{})
	assert.ErrorIs(t, err, catalog.ErrProviderNotFound)
}

func TestResolve(t *testing.T) {
	s := newTestService(&mockStore{})

	entry, kind, err := s.Resolve(context.Background(), "Hospital ANERY")
	require.NoError(t, err)
	assert.Equal(t, "ANERY", entry.Name)
	assert.Equal(t, tariff.MatchPartial, kind)

	empty := NewService(&mockSource{}, &mockStore{}, nil)
	_, _, err = empty.Resolve(context.Background(), "ANERY")
	assert.ErrorIs(t, err, catalog.ErrClientNotFound)
}

func TestReceivables(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	store := &mockStore{
		receivableFunc: func(ctx context.Context, client string, f, tt time.Time) ([]*Transport, error) {
			return []*Transport{{ID: 1, Total: dec("610")}, {ID: 2, Total: dec("185.50")}}, nil
		},
		totalFunc: func(ctx context.Context, client string, f, tt time.Time) (decimal.Decimal, error) {
			return dec("795.50"), nil
		},
	}
	s := newTestService(store)

	r, err := s.Receivables(context.Background(), "ANERY", from, to)
	require.NoError(t, err)
	assert.Len(t, r.Transports, 2)
	assert.True(t, r.Total.Equal(dec("795.50")))

	_, err = s.Receivables(context.Background(), "ANERY", to, from)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestClients(t *testing.T) {
	cat := testCatalog()
	cat = append(cat, tariff.CatalogEntry{ID: 2, Name: "HELP LAR", Active: false, Table: cat[0].Table})
	s := NewService(&mockSource{snapshot: cat}, &mockStore{}, nil)

	all, err := s.Clients(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := s.Clients(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "ANERY", active[0].Name)

	entry, err := s.Client(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "HELP LAR", entry.Name)

	_, err = s.Client(context.Background(), 3)
	assert.ErrorIs(t, err, catalog.ErrClientNotFound)
}

func TestQuote(t *testing.T) {
	store := &mockStore{}
	s := newTestService(store)

	created, err := s.CreateQuote(context.Background(), QuoteRequest{
		ClientName: "ANERY",
		Category:   tariff.CategoryBasic,
		TripMode:   tariff.OneWay,
	})
	require.NoError(t, err)

	got, err := s.Quote(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(created.Total))

	_, err = s.Quote(context.Background(), 99)
	assert.ErrorIs(t, err, ErrQuoteNotFound)
}

func TestCreateTransport(t *testing.T) {
	store := &mockStore{}
	s := newTestService(store)

	got, err := s.CreateTransport(context.Background(), TransportRequest{
		Patient:     "Maria Oliveira",
		Origin:      "Hospital Central",
		Destination: "Clínica São Lucas",
		ClientName:  "ANERY",
		Category:    tariff.CategoryICUAdult,
		TripMode:    tariff.RoundTrip,
	})
	require.NoError(t, err)
	assert.NotZero(t, got.ID)
	assert.Equal(t, TransportOpen, got.Status)
	assert.Equal(t, PaymentReceivable, got.PaymentStatus)
	assert.True(t, got.Total.IsZero())
	assert.Contains(t, store.transports, got.ID)

	_, err = s.CreateTransport(context.Background(), TransportRequest{ClientName: "ANERY", Patient: " "})
	require.ErrorIs(t, err, ErrIncompleteRequest)
	assert.Contains(t, err.Error(), "patient")
	assert.Contains(t, err.Error(), "trip_mode")
}

func TestSetTransportStatus(t *testing.T) {
	store := &mockStore{transports: map[int64]*Transport{
		1: {ID: 1, ClientName: "ANERY", Status: TransportOpen},
		2: {ID: 2, ClientName: "ANERY", Status: TransportInvoiced},
	}}
	s := newTestService(store)
	ctx := context.Background()

	got, err := s.SetTransportStatus(ctx, 1, TransportInProgress)
	require.NoError(t, err)
	assert.Equal(t, TransportInProgress, got.Status)

	_, err = s.SetTransportStatus(ctx, 1, TransportOpen)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.SetTransportStatus(ctx, 1, TransportInvoiced)
	assert.ErrorIs(t, err, ErrInvalidTransition, "invoicing has its own operation")

	_, err = s.SetTransportStatus(ctx, 1, TransportCompleted)
	require.NoError(t, err)
	assert.Equal(t, TransportCompleted, store.transports[1].Status)

	_, err = s.SetTransportStatus(ctx, 2, TransportCancelled)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.SetTransportStatus(ctx, 9, TransportCancelled)
	assert.ErrorIs(t, err, ErrTransportNotFound)
}

func TestMarkTransportReceived(t *testing.T) {
	store := &mockStore{transports: map[int64]*Transport{
		1: {ID: 1, ClientName: "ANERY", Status: TransportInvoiced, PaymentStatus: PaymentReceivable, Total: dec("610")},
		2: {ID: 2, ClientName: "ANERY", Status: TransportCompleted, PaymentStatus: PaymentReceivable},
	}}
	s := newTestService(store)
	ctx := context.Background()

	got, err := s.MarkTransportReceived(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, PaymentReceived, got.PaymentStatus)
	assert.Equal(t, PaymentReceived, store.transports[1].PaymentStatus)

	_, err = s.MarkTransportReceived(ctx, 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.MarkTransportReceived(ctx, 2)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSetQuoteStatus(t *testing.T) {
	store := &mockStore{}
	s := newTestService(store)
	ctx := context.Background()

	q, err := s.CreateQuote(ctx, QuoteRequest{ClientName: "ANERY", Category: tariff.CategoryBasic, TripMode: tariff.OneWay})
	require.NoError(t, err)

	_, err = s.SetQuoteStatus(ctx, q.ID, QuoteInvoiced)
	assert.ErrorIs(t, err, ErrInvalidTransition, "must be approved first")

	got, err := s.SetQuoteStatus(ctx, q.ID, QuoteApproved)
	require.NoError(t, err)
	assert.Equal(t, QuoteApproved, got.Status)

	got, err = s.SetQuoteStatus(ctx, q.ID, QuoteInvoiced)
	require.NoError(t, err)
	assert.Equal(t, QuoteInvoiced, got.Status)

	_, err = s.SetQuoteStatus(ctx, q.ID, QuoteOpen)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.SetQuoteStatus(ctx, 42, QuoteApproved)
	assert.ErrorIs(t, err, ErrQuoteNotFound)
}
