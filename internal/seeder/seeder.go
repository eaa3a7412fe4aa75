package seeder

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vnmchuo/tariff-engine/internal/auth"
	"github.com/vnmchuo/tariff-engine/internal/catalog"
	"github.com/vnmchuo/tariff-engine/internal/tariff"
)

const (
	TestOperatorKey = "test-operator-key-12345"
	TestOperatorID  = "00000000-0000-0000-0000-000000000001"
)

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fees(oneWithKm, oneWithoutKm, roundWithKm, roundWithoutKm string) tariff.DispatchFees {
	return tariff.DispatchFees{
		tariff.OneWay:    {WithDistance: money(oneWithKm), WithoutDistance: money(oneWithoutKm)},
		tariff.RoundTrip: {WithDistance: money(roundWithKm), WithoutDistance: money(roundWithoutKm)},
	}
}

// DefaultTable is the template used for new clients and providers.
func DefaultTable() tariff.PriceTable {
	return tariff.PriceTable{
		MinGraceMinutes: 0,
		DistanceRate: map[tariff.Category]decimal.Decimal{
			tariff.CategoryBasic:        money("3.50"),
			tariff.CategoryICUAdult:     money("7.00"),
			tariff.CategoryICUPediatric: money("7.00"),
			tariff.CategorySIV:          money("3.50"),
		},
		WaitRate: map[tariff.Category]decimal.Decimal{
			tariff.CategoryBasic:        money("80.00"),
			tariff.CategoryICUAdult:     money("150.00"),
			tariff.CategoryICUPediatric: money("150.00"),
		},
		DispatchFee: map[tariff.Category]tariff.DispatchFees{
			tariff.CategoryBasic:        fees("150.00", "150.00", "250.00", "250.00"),
			tariff.CategoryICUAdult:     fees("350.00", "350.00", "550.00", "550.00"),
			tariff.CategoryICUPediatric: fees("350.00", "350.00", "550.00", "550.00"),
			tariff.CategorySIV:          fees("150.00", "150.00", "250.00", "250.00"),
		},
	}
}

// Clients returns the contracted clients seeded in a fresh database.
func Clients() []tariff.CatalogEntry {
	return []tariff.CatalogEntry{
		{
			Name:   "ANERY",
			Active: true,
			Table: tariff.PriceTable{
				DistanceRate: map[tariff.Category]decimal.Decimal{
					tariff.CategoryBasic:        money("3.50"),
					tariff.CategoryICUAdult:     money("7.38"),
					tariff.CategoryICUPediatric: money("8.29"),
					tariff.CategorySIV:          money("3.50"),
				},
				WaitRate: map[tariff.Category]decimal.Decimal{
					tariff.CategoryBasic:        money("85.00"),
					tariff.CategoryICUAdult:     money("143.00"),
					tariff.CategoryICUPediatric: money("165.90"),
				},
				DispatchFee: map[tariff.Category]tariff.DispatchFees{
					tariff.CategoryBasic:        fees("250.00", "250.00", "250.00", "430.00"),
					tariff.CategoryICUAdult:     fees("376.70", "750.00", "376.70", "750.00"),
					tariff.CategoryICUPediatric: fees("376.70", "750.00", "376.70", "750.00"),
					tariff.CategorySIV:          fees("250.00", "250.00", "430.00", "430.00"),
				},
			},
		},
		{
			Name:   "HELP LAR",
			Active: true,
			Table: tariff.PriceTable{
				DistanceRate: map[tariff.Category]decimal.Decimal{
					tariff.CategoryBasic:        money("3.50"),
					tariff.CategoryICUAdult:     money("8.38"),
					tariff.CategoryICUPediatric: money("9.29"),
					tariff.CategorySIV:          money("3.50"),
				},
				WaitRate: map[tariff.Category]decimal.Decimal{
					tariff.CategoryBasic:        money("95.00"),
					tariff.CategoryICUAdult:     money("183.00"),
					tariff.CategoryICUPediatric: money("195.90"),
				},
				DispatchFee: map[tariff.Category]tariff.DispatchFees{
					tariff.CategoryBasic:        fees("250.00", "260.00", "250.00", "480.00"),
					tariff.CategoryICUAdult:     fees("476.70", "900.00", "476.70", "900.00"),
					tariff.CategoryICUPediatric: fees("476.70", "900.00", "476.70", "900.00"),
					tariff.CategorySIV:          fees("250.00", "260.00", "480.00", "480.00"),
				},
			},
		},
	}
}

func Providers() []catalog.Provider {
	driver := DefaultTable()
	driver.DistanceRate[tariff.CategoryBasic] = money("1.50")

	return []catalog.Provider{
		{Name: "João Motorista", Role: "Motorista", Phone: "(11) 91234-5678", CostTable: driver},
		{Name: "Maria Enfermeira", Role: "Enfermeiro", Phone: "(11) 98765-4321", CostTable: DefaultTable()},
	}
}

// SeedCatalog inserts the default clients and providers. Names are unique
// case-insensitively, so rows already present fail to insert and are skipped.
func SeedCatalog(ctx context.Context, store catalog.Store, log *zap.Logger) {
	for _, c := range Clients() {
		entry := c
		if err := store.CreateClient(ctx, &entry); err != nil {
			log.Info("client may already exist, skipping", zap.String("client", entry.Name), zap.Error(err))
			continue
		}
		log.Info("client seeded", zap.String("client", entry.Name), zap.Int64("id", entry.ID))
	}

	for _, p := range Providers() {
		provider := p
		if err := store.CreateProvider(ctx, &provider); err != nil {
			log.Info("provider may already exist, skipping", zap.String("provider", provider.Name), zap.Error(err))
			continue
		}
		log.Info("provider seeded", zap.String("provider", provider.Name), zap.Int64("id", provider.ID))
	}
}

func SeedTestOperatorKey(ctx context.Context, store auth.Store, log *zap.Logger) {
	k := &auth.OperatorKey{
		OperatorID: TestOperatorID,
		Name:       "Administrador",
		Profile:    auth.ProfileAdmin,
		KeyHash:    auth.HashKey(TestOperatorKey),
		Active:     true,
	}

	if err := store.Create(ctx, k); err != nil {
		log.Info("operator key may already exist, skipping", zap.Error(err))
		return
	}
	log.Info("test operator key created",
		zap.String("key", TestOperatorKey),
		zap.String("operator_id", TestOperatorID),
	)
}
