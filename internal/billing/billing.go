package billing

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vnmchuo/tariff-engine/internal/tariff"
)

var (
	ErrTransportNotFound  = errors.New("transport not found")
	ErrQuoteNotFound      = errors.New("quote not found")
	ErrAlreadyInvoiced    = errors.New("transport already invoiced")
	ErrTransportCancelled = errors.New("transport is cancelled")
	ErrIncompleteRequest  = errors.New("client, category and trip mode are required")
	ErrInvalidPeriod      = errors.New("invalid period")
	ErrInvalidTransition  = errors.New("status transition not allowed")
)

type TransportStatus string

const (
	TransportOpen       TransportStatus = "Aberta"
	TransportInProgress TransportStatus = "Em Andamento"
	TransportCompleted  TransportStatus = "Concluida"
	TransportInvoiced   TransportStatus = "Faturada"
	TransportCancelled  TransportStatus = "Cancelada"
)

type PaymentStatus string

const (
	PaymentReceivable PaymentStatus = "A Receber"
	PaymentReceived   PaymentStatus = "Recebido"
)

type QuoteStatus string

const (
	QuoteOpen     QuoteStatus = "Aberto"
	QuoteApproved QuoteStatus = "Aprovado"
	QuoteInvoiced QuoteStatus = "Faturado"
)

// transportFlow lists the manual moves out of each state. Faturada is
// reached only through invoicing and is final, as is Cancelada.
var transportFlow = map[TransportStatus][]TransportStatus{
	TransportOpen:       {TransportInProgress, TransportCancelled},
	TransportInProgress: {TransportCompleted, TransportCancelled},
	TransportCompleted:  {TransportCancelled},
}

func (s TransportStatus) canMoveTo(next TransportStatus) bool {
	for _, allowed := range transportFlow[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

var quoteFlow = map[QuoteStatus]QuoteStatus{
	QuoteOpen:     QuoteApproved,
	QuoteApproved: QuoteInvoiced,
}

func (s QuoteStatus) canMoveTo(next QuoteStatus) bool {
	return quoteFlow[s] == next && next != ""
}

// Transport is a patient removal. The amount fields are written only by
// invoicing.
type Transport struct {
	ID             int64           `json:"id"`
	Patient        string          `json:"patient"`
	Origin         string          `json:"origin"`
	Destination    string          `json:"destination"`
	ClientName     string          `json:"client_name"`
	Category       tariff.Category `json:"category"`
	TripMode       tariff.TripMode `json:"trip_mode"`
	Status         TransportStatus `json:"status"`
	Distance       decimal.Decimal `json:"distance"`
	WaitMinutes    decimal.Decimal `json:"wait_minutes"`
	DispatchFee    decimal.Decimal `json:"dispatch_fee"`
	DistanceCharge decimal.Decimal `json:"distance_charge"`
	WaitCharge     decimal.Decimal `json:"wait_charge"`
	Total          decimal.Decimal `json:"total"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	CreatedAt      time.Time       `json:"created_at"`
	InvoicedAt     *time.Time      `json:"invoiced_at,omitempty"`
}

func (t *Transport) applyCharge(r tariff.Result) {
	t.DispatchFee = r.DispatchFee
	t.DistanceCharge = r.DistanceCharge
	t.WaitCharge = r.WaitCharge
	t.Total = r.Total
}

// Quote is a price estimate given to a client before the transport exists.
type Quote struct {
	ID                int64           `json:"id"`
	Patient           string          `json:"patient"`
	Origin            string          `json:"origin"`
	Destination       string          `json:"destination"`
	ClientName        string          `json:"client_name"`
	Category          tariff.Category `json:"category"`
	TripMode          tariff.TripMode `json:"trip_mode"`
	EstimatedDistance decimal.Decimal `json:"estimated_distance"`
	Total             decimal.Decimal `json:"total"`
	Status            QuoteStatus     `json:"status"`
	Notes             string          `json:"notes,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

type Store interface {
	CreateTransport(ctx context.Context, t *Transport) error
	GetTransport(ctx context.Context, id int64) (*Transport, error)
	// UpdateTransportStatus and the other Update methods only apply when the
	// row is still in the from state, otherwise ErrInvalidTransition.
	UpdateTransportStatus(ctx context.Context, id int64, from, to TransportStatus) error
	UpdatePaymentStatus(ctx context.Context, id int64, from, to PaymentStatus) error
	SaveInvoice(ctx context.Context, t *Transport) error
	CreateQuote(ctx context.Context, q *Quote) error
	GetQuote(ctx context.Context, id int64) (*Quote, error)
	UpdateQuoteStatus(ctx context.Context, id int64, from, to QuoteStatus) error
	// GetReceivableByClient and GetReceivableTotalByClient cover invoiced
	// transports whose payment is still A Receber.
	GetReceivableByClient(ctx context.Context, client string, from, to time.Time) ([]*Transport, error)
	GetReceivableTotalByClient(ctx context.Context, client string, from, to time.Time) (decimal.Decimal, error)
}
