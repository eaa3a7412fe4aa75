package tariff

import (
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var minutesPerHour = decimal.NewFromInt(60)

// Calculator derives billing amounts from a catalog snapshot. It holds no
// state besides its logger and is safe for concurrent use.
type Calculator struct {
	log *zap.Logger
}

func NewCalculator(log *zap.Logger) *Calculator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Calculator{log: log}
}

// ComputeCharge runs Compute with the global zap logger.
func ComputeCharge(in Input, catalog []CatalogEntry) Result {
	return NewCalculator(zap.L()).Compute(in, catalog)
}

// Compute never fails. Incomplete input or an empty catalog yield an
// all-zero result; missing categories fall back to the family rate, then to
// the Básica rate, then to zero.
func (c *Calculator) Compute(in Input, catalog []CatalogEntry) Result {
	if strings.TrimSpace(in.ClientName) == "" || strings.TrimSpace(string(in.Category)) == "" || strings.TrimSpace(string(in.TripMode)) == "" {
		return zeroResult()
	}

	res, ok := Resolve(in.ClientName, catalog)
	if !ok {
		c.log.Warn("no price table for client", zap.String("client", in.ClientName))
		return zeroResult()
	}
	if res.Kind == MatchDefault {
		c.log.Warn("client not in catalog, using default price table",
			zap.String("client", in.ClientName),
			zap.String("table", res.Entry.Name),
		)
	}

	return res.Entry.Table.charge(in)
}

func (t *PriceTable) charge(in Input) Result {
	distance := clampNonNegative(in.Distance)
	waitMinutes := clampNonNegative(in.WaitMinutes)

	distanceCharge := lookupRate(t.DistanceRate, in.Category).Mul(distance).Round(2)

	grace := decimal.NewFromInt(int64(max(0, t.MinGraceMinutes)))
	billable := waitMinutes.Sub(grace)
	billable = clampNonNegative(billable)
	waitCharge := lookupRate(t.WaitRate, in.Category).Mul(billable).Div(minutesPerHour).Round(2)

	dispatchFee := t.dispatchFee(in.Category, in.TripMode, distance.IsPositive()).Round(2)

	return Result{
		DispatchFee:    dispatchFee,
		DistanceCharge: distanceCharge,
		WaitCharge:     waitCharge,
		Total:          dispatchFee.Add(distanceCharge).Add(waitCharge),
	}
}

// dispatchFee picks the first fee entry along the category chain. An entry
// without the requested trip mode falls back to its one-way fees; an entry
// without either yields zero.
func (t *PriceTable) dispatchFee(cat Category, mode TripMode, withDistance bool) decimal.Decimal {
	for _, key := range cat.fallbackChain() {
		fees, ok := t.DispatchFee[key]
		if !ok {
			continue
		}
		pair, ok := fees[mode]
		if !ok {
			if pair, ok = fees[OneWay]; !ok {
				return decimal.Zero
			}
		}
		if withDistance {
			return clampNonNegative(pair.WithDistance)
		}
		return clampNonNegative(pair.WithoutDistance)
	}
	return decimal.Zero
}

// lookupRate walks the category chain and returns the first positive rate.
// Zero or negative rates count as unpriced and fall through to the next key.
func lookupRate(rates map[Category]decimal.Decimal, cat Category) decimal.Decimal {
	for _, key := range cat.fallbackChain() {
		if rate, ok := rates[key]; ok && rate.IsPositive() {
			return rate
		}
	}
	return decimal.Zero
}

func clampNonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
