package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vnmchuo/tariff-engine/internal/catalog"
	"github.com/vnmchuo/tariff-engine/internal/tariff"
)

// CatalogSource yields client catalog snapshots and provider cost tables.
// *catalog.Loader implements it.
type CatalogSource interface {
	Snapshot(ctx context.Context) (tariff.Catalog, error)
	Provider(ctx context.Context, id int64) (*catalog.Provider, error)
}

type Service struct {
	catalog CatalogSource
	store   Store
	calc    *tariff.Calculator
	log     *zap.Logger
	now     func() time.Time
}

func NewService(source CatalogSource, store Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		catalog: source,
		store:   store,
		calc:    tariff.NewCalculator(log.Named("tariff")),
		log:     log,
		now:     time.Now,
	}
}

// Compute prices arbitrary input against the current client catalog.
// Incomplete input is not an error: it prices to zero.
func (s *Service) Compute(ctx context.Context, in tariff.Input) (tariff.Result, error) {
	cat, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return tariff.Result{}, err
	}
	return s.calc.Compute(in, cat), nil
}

// Clients lists the catalog snapshot, optionally without inactive clients.
func (s *Service) Clients(ctx context.Context, activeOnly bool) (tariff.Catalog, error) {
	cat, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if activeOnly {
		return cat.Active(), nil
	}
	return cat, nil
}

func (s *Service) Client(ctx context.Context, id int64) (tariff.CatalogEntry, error) {
	cat, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return tariff.CatalogEntry{}, err
	}
	entry, ok := cat.ByID(id)
	if !ok {
		return tariff.CatalogEntry{}, catalog.ErrClientNotFound
	}
	return entry, nil
}

// Resolve reports which catalog entry a client name resolves to.
func (s *Service) Resolve(ctx context.Context, clientName string) (tariff.CatalogEntry, tariff.MatchKind, error) {
	cat, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return tariff.CatalogEntry{}, "", err
	}
	res, ok := tariff.Resolve(clientName, cat)
	if !ok {
		return tariff.CatalogEntry{}, "", catalog.ErrClientNotFound
	}
	return *res.Entry, res.Kind, nil
}

type QuoteRequest struct {
	Patient           string          `json:"patient"`
	Origin            string          `json:"origin"`
	Destination       string          `json:"destination"`
	ClientName        string          `json:"client_name"`
	Category          tariff.Category `json:"category"`
	TripMode          tariff.TripMode `json:"trip_mode"`
	EstimatedDistance decimal.Decimal `json:"estimated_distance"`
	Notes             string          `json:"notes,omitempty"`
}

func (r QuoteRequest) input() tariff.Input {
	// Quotes never include waiting time.
	return tariff.Input{
		ClientName:  r.ClientName,
		Category:    r.Category,
		TripMode:    r.TripMode,
		Distance:    r.EstimatedDistance,
		WaitMinutes: decimal.Zero,
	}
}

// PreviewQuote is the live estimate shown while a quote form is edited.
func (s *Service) PreviewQuote(ctx context.Context, req QuoteRequest) (tariff.Result, error) {
	return s.Compute(ctx, req.input())
}

// CreateQuote prices and stores a quote in the Aberto state.
func (s *Service) CreateQuote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if blank(req.ClientName) || blank(string(req.Category)) || blank(string(req.TripMode)) {
		return nil, ErrIncompleteRequest
	}

	result, err := s.PreviewQuote(ctx, req)
	if err != nil {
		return nil, err
	}

	q := &Quote{
		Patient:           req.Patient,
		Origin:            req.Origin,
		Destination:       req.Destination,
		ClientName:        req.ClientName,
		Category:          req.Category,
		TripMode:          req.TripMode,
		EstimatedDistance: req.EstimatedDistance,
		Total:             result.Total,
		Status:            QuoteOpen,
		Notes:             req.Notes,
	}
	if err := s.store.CreateQuote(ctx, q); err != nil {
		return nil, err
	}

	s.log.Info("quote created",
		zap.Int64("quote_id", q.ID),
		zap.String("client", q.ClientName),
		zap.String("total", q.Total.StringFixed(2)),
	)
	return q, nil
}

func (s *Service) Quote(ctx context.Context, id int64) (*Quote, error) {
	return s.store.GetQuote(ctx, id)
}

// SetQuoteStatus moves a quote along Aberto → Aprovado → Faturado.
func (s *Service) SetQuoteStatus(ctx context.Context, id int64, status QuoteStatus) (*Quote, error) {
	q, err := s.store.GetQuote(ctx, id)
	if err != nil {
		return nil, err
	}
	if !q.Status.canMoveTo(status) {
		return nil, fmt.Errorf("%w: quote %s → %s", ErrInvalidTransition, q.Status, status)
	}
	if err := s.store.UpdateQuoteStatus(ctx, id, q.Status, status); err != nil {
		return nil, err
	}

	s.log.Info("quote status changed",
		zap.Int64("quote_id", id),
		zap.String("from", string(q.Status)),
		zap.String("to", string(status)),
	)
	q.Status = status
	return q, nil
}

type TransportRequest struct {
	Patient     string          `json:"patient"`
	Origin      string          `json:"origin"`
	Destination string          `json:"destination"`
	ClientName  string          `json:"client_name"`
	Category    tariff.Category `json:"category"`
	TripMode    tariff.TripMode `json:"trip_mode"`
}

// CreateTransport registers a removal in the Aberta state. Amounts stay zero
// until it is invoiced.
func (s *Service) CreateTransport(ctx context.Context, req TransportRequest) (*Transport, error) {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"patient", req.Patient},
		{"origin", req.Origin},
		{"destination", req.Destination},
		{"client_name", req.ClientName},
		{"category", string(req.Category)},
		{"trip_mode", string(req.TripMode)},
	} {
		if blank(f.value) {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrIncompleteRequest, strings.Join(missing, ", "))
	}

	t := &Transport{
		Patient:        req.Patient,
		Origin:         req.Origin,
		Destination:    req.Destination,
		ClientName:     req.ClientName,
		Category:       req.Category,
		TripMode:       req.TripMode,
		Status:         TransportOpen,
		Distance:       decimal.Zero,
		WaitMinutes:    decimal.Zero,
		DispatchFee:    decimal.Zero,
		DistanceCharge: decimal.Zero,
		WaitCharge:     decimal.Zero,
		Total:          decimal.Zero,
		PaymentStatus:  PaymentReceivable,
	}
	if err := s.store.CreateTransport(ctx, t); err != nil {
		return nil, err
	}

	s.log.Info("transport created", zap.Int64("transport_id", t.ID), zap.String("client", t.ClientName))
	return t, nil
}

// SetTransportStatus applies a manual status change. Faturada is set only by
// InvoiceTransport.
func (s *Service) SetTransportStatus(ctx context.Context, id int64, status TransportStatus) (*Transport, error) {
	t, err := s.store.GetTransport(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Status.canMoveTo(status) {
		return nil, fmt.Errorf("%w: transport %s → %s", ErrInvalidTransition, t.Status, status)
	}
	if err := s.store.UpdateTransportStatus(ctx, id, t.Status, status); err != nil {
		return nil, err
	}

	s.log.Info("transport status changed",
		zap.Int64("transport_id", id),
		zap.String("from", string(t.Status)),
		zap.String("to", string(status)),
	)
	t.Status = status
	return t, nil
}

// MarkTransportReceived settles an invoiced transport: A Receber → Recebido.
func (s *Service) MarkTransportReceived(ctx context.Context, id int64) (*Transport, error) {
	t, err := s.store.GetTransport(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != TransportInvoiced || t.PaymentStatus != PaymentReceivable {
		return nil, fmt.Errorf("%w: transport is %s / %s", ErrInvalidTransition, t.Status, t.PaymentStatus)
	}
	if err := s.store.UpdatePaymentStatus(ctx, id, PaymentReceivable, PaymentReceived); err != nil {
		return nil, err
	}

	s.log.Info("transport payment received",
		zap.Int64("transport_id", id),
		zap.String("client", t.ClientName),
		zap.String("total", t.Total.StringFixed(2)),
	)
	t.PaymentStatus = PaymentReceived
	return t, nil
}

// InvoiceTransport prices a transport with its final distance and waiting
// time, writes the amounts onto it and marks it Faturada / A Receber.
func (s *Service) InvoiceTransport(ctx context.Context, id int64, distance, waitMinutes decimal.Decimal) (*Transport, error) {
	t, err := s.store.GetTransport(ctx, id)
	if err != nil {
		return nil, err
	}
	switch t.Status {
	case TransportInvoiced:
		return nil, ErrAlreadyInvoiced
	case TransportCancelled:
		return nil, ErrTransportCancelled
	}

	result, err := s.Compute(ctx, tariff.Input{
		ClientName:  t.ClientName,
		Category:    t.Category,
		TripMode:    t.TripMode,
		Distance:    distance,
		WaitMinutes: waitMinutes,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	t.Distance = nonNegative(distance)
	t.WaitMinutes = nonNegative(waitMinutes)
	t.applyCharge(result)
	t.Status = TransportInvoiced
	t.PaymentStatus = PaymentReceivable
	t.InvoicedAt = &now

	if err := s.store.SaveInvoice(ctx, t); err != nil {
		return nil, err
	}

	s.log.Info("transport invoiced",
		zap.Int64("transport_id", t.ID),
		zap.String("client", t.ClientName),
		zap.String("total", t.Total.StringFixed(2)),
	)
	return t, nil
}

// EstimateProviderCost prices a trip against a provider's cost table. The
// client name of the input is ignored.
func (s *Service) EstimateProviderCost(ctx context.Context, providerID int64, in tariff.Input) (tariff.Result, error) {
	p, err := s.catalog.Provider(ctx, providerID)
	if err != nil {
		return tariff.Result{}, err
	}
	in.ClientName = p.Name
	return s.calc.Compute(in, p.AsCatalog()), nil
}

// Receivables are the invoiced transports of a client still awaiting
// payment, with the sum of their totals.
type Receivables struct {
	ClientName string          `json:"client_name"`
	Transports []*Transport    `json:"transports"`
	Total      decimal.Decimal `json:"total"`
	From       time.Time       `json:"from"`
	To         time.Time       `json:"to"`
}

func (s *Service) Receivables(ctx context.Context, client string, from, to time.Time) (*Receivables, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from %s is not before to %s", ErrInvalidPeriod, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	transports, err := s.store.GetReceivableByClient(ctx, client, from, to)
	if err != nil {
		return nil, err
	}
	total, err := s.store.GetReceivableTotalByClient(ctx, client, from, to)
	if err != nil {
		return nil, err
	}

	return &Receivables{
		ClientName: client,
		Transports: transports,
		Total:      total,
		From:       from,
		To:         to,
	}, nil
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	return decimal.Max(d, decimal.Zero)
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
