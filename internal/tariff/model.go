package tariff

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidTable = errors.New("invalid price table")

// Category classifies the transport tier. Two-level names separate the
// family from the sub-tier with " - ", e.g. "UTI - Adulto".
type Category string

const (
	CategoryBasic        Category = "Básica"
	CategoryICUAdult     Category = "UTI - Adulto"
	CategoryICUPediatric Category = "UTI - Pediátrica"
	CategorySIV          Category = "SIV"
)

const categorySeparator = " - "

// Base returns the family part of a two-level category, or the category
// itself when it has no sub-tier.
func (c Category) Base() Category {
	if i := strings.Index(string(c), categorySeparator); i >= 0 {
		return c[:i]
	}
	return c
}

// fallbackChain is the lookup order used for every rate map.
func (c Category) fallbackChain() [3]Category {
	return [3]Category{c, c.Base(), CategoryBasic}
}

type TripMode string

const (
	OneWay    TripMode = "Ida"
	RoundTrip TripMode = "Ida e Volta"
)

type FeePair struct {
	WithDistance    decimal.Decimal `json:"with_distance"`
	WithoutDistance decimal.Decimal `json:"without_distance"`
}

type DispatchFees map[TripMode]FeePair

// PriceTable is the contracted rate card of one client, or the cost card of
// one provider.
type PriceTable struct {
	MinGraceMinutes int                          `json:"min_grace_minutes"`
	DistanceRate    map[Category]decimal.Decimal `json:"distance_rate"`
	WaitRate        map[Category]decimal.Decimal `json:"wait_rate"` // per hour
	DispatchFee     map[Category]DispatchFees    `json:"dispatch_fee"`
}

// Validate reports every configuration defect of the table. The calculator
// tolerates invalid tables; Validate is for the code that saves them.
func (t PriceTable) Validate() error {
	var problems []string

	if t.MinGraceMinutes < 0 {
		problems = append(problems, "min_grace_minutes is negative")
	}
	if _, ok := t.DistanceRate[CategoryBasic]; !ok {
		problems = append(problems, fmt.Sprintf("distance_rate has no %q entry", CategoryBasic))
	}
	if _, ok := t.WaitRate[CategoryBasic]; !ok {
		problems = append(problems, fmt.Sprintf("wait_rate has no %q entry", CategoryBasic))
	}
	if _, ok := t.DispatchFee[CategoryBasic]; !ok {
		problems = append(problems, fmt.Sprintf("dispatch_fee has no %q entry", CategoryBasic))
	}

	for cat, rate := range t.DistanceRate {
		if rate.IsNegative() {
			problems = append(problems, fmt.Sprintf("distance_rate[%s] is negative", cat))
		}
	}
	for cat, rate := range t.WaitRate {
		if rate.IsNegative() {
			problems = append(problems, fmt.Sprintf("wait_rate[%s] is negative", cat))
		}
	}
	for cat, fees := range t.DispatchFee {
		for mode, pair := range fees {
			if mode != OneWay && mode != RoundTrip {
				problems = append(problems, fmt.Sprintf("dispatch_fee[%s] has unknown trip mode %q", cat, mode))
			}
			if pair.WithDistance.IsNegative() || pair.WithoutDistance.IsNegative() {
				problems = append(problems, fmt.Sprintf("dispatch_fee[%s][%s] is negative", cat, mode))
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrInvalidTable, strings.Join(problems, "; "))
}

// CatalogEntry binds a client (or provider) name to its table.
type CatalogEntry struct {
	ID     int64      `json:"id"`
	Name   string     `json:"name"`
	Active bool       `json:"active"`
	Table  PriceTable `json:"price_table"`
}

// Catalog is an ordered, read-only snapshot of catalog entries. Order
// matters: the first entry wins ties and serves as the default table.
type Catalog []CatalogEntry

// Input is built by the caller for a single calculation.
type Input struct {
	ClientName  string          `json:"client_name"`
	Category    Category        `json:"category"`
	TripMode    TripMode        `json:"trip_mode"`
	Distance    decimal.Decimal `json:"distance"`
	WaitMinutes decimal.Decimal `json:"wait_minutes"`
}

// Result amounts are rounded to cents and Total is their exact sum.
type Result struct {
	DispatchFee    decimal.Decimal `json:"dispatch_fee"`
	DistanceCharge decimal.Decimal `json:"distance_charge"`
	WaitCharge     decimal.Decimal `json:"wait_charge"`
	Total          decimal.Decimal `json:"total"`
}

func (r Result) IsZero() bool {
	return r.DispatchFee.IsZero() && r.DistanceCharge.IsZero() && r.WaitCharge.IsZero() && r.Total.IsZero()
}

func zeroResult() Result {
	return Result{
		DispatchFee:    decimal.Zero,
		DistanceCharge: decimal.Zero,
		WaitCharge:     decimal.Zero,
		Total:          decimal.Zero,
	}
}
