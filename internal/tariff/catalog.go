package tariff

import "strings"

type MatchKind string

const (
	MatchExact   MatchKind = "exact"
	MatchPartial MatchKind = "partial"
	// MatchDefault means nothing matched and the first entry was used.
	MatchDefault MatchKind = "default"
)

type Resolution struct {
	Entry *CatalogEntry
	Kind  MatchKind
}

// Resolve finds the catalog entry for a free-text client name: exact
// case-insensitive match first, then a substring match in either direction,
// then the first entry of the catalog. It reports false only when the
// catalog is empty. The returned entry points into catalog and must not be
// modified.
func Resolve(clientName string, catalog []CatalogEntry) (Resolution, bool) {
	if len(catalog) == 0 {
		return Resolution{}, false
	}

	query := strings.TrimSpace(clientName)
	for i := range catalog {
		if strings.EqualFold(strings.TrimSpace(catalog[i].Name), query) {
			return Resolution{Entry: &catalog[i], Kind: MatchExact}, true
		}
	}

	if query != "" {
		q := strings.ToUpper(query)
		for i := range catalog {
			name := strings.ToUpper(strings.TrimSpace(catalog[i].Name))
			if name == "" {
				continue
			}
			if strings.Contains(q, name) || strings.Contains(name, q) {
				return Resolution{Entry: &catalog[i], Kind: MatchPartial}, true
			}
		}
	}

	return Resolution{Entry: &catalog[0], Kind: MatchDefault}, true
}

// FindTable returns the price table for clientName, or nil when the catalog
// is empty. See Resolve for the matching rules.
func FindTable(clientName string, catalog []CatalogEntry) *PriceTable {
	res, ok := Resolve(clientName, catalog)
	if !ok {
		return nil
	}
	return &res.Entry.Table
}

// Active returns the entries flagged active, preserving order.
func (c Catalog) Active() Catalog {
	out := make(Catalog, 0, len(c))
	for _, e := range c {
		if e.Active {
			out = append(out, e)
		}
	}
	return out
}

// ByID returns the entry with the given id.
func (c Catalog) ByID(id int64) (CatalogEntry, bool) {
	for _, e := range c {
		if e.ID == id {
			return e, true
		}
	}
	return CatalogEntry{}, false
}
