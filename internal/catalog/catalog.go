package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/vnmchuo/tariff-engine/internal/tariff"
)

var (
	ErrClientNotFound   = errors.New("client not found")
	ErrProviderNotFound = errors.New("provider not found")
)

// Provider is a contracted professional (driver, nurse, physician) whose
// cost table has the same shape as a client price table.
type Provider struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	Role      string            `json:"role"`
	Phone     string            `json:"phone"`
	CostTable tariff.PriceTable `json:"cost_table"`
	CreatedAt time.Time         `json:"created_at"`
}

// AsCatalog wraps the provider cost table in a one-entry catalog so the
// same calculator prices provider costs.
func (p *Provider) AsCatalog() tariff.Catalog {
	return tariff.Catalog{{ID: p.ID, Name: p.Name, Active: true, Table: p.CostTable}}
}

type Store interface {
	// ListClients returns every client in catalog order (by id).
	ListClients(ctx context.Context) (tariff.Catalog, error)
	CreateClient(ctx context.Context, entry *tariff.CatalogEntry) error
	UpdateClientTable(ctx context.Context, id int64, table tariff.PriceTable) error
	SetClientActive(ctx context.Context, id int64, active bool) error

	GetProvider(ctx context.Context, id int64) (*Provider, error)
	CreateProvider(ctx context.Context, p *Provider) error
}
