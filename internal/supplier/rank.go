package supplier

import (
	"sort"
	"strings"
)

// Display tiers. Lower sorts first.
const (
	tierPaint    = 0
	tierReadyMix = 1
	tierOther    = 2
)

var paintBrand = Brand{Name: BrandPaint, Aliases: []string{"sherwin williams"}}

// Tier classifies a supplier for ranking: the flagged paint brand first,
// ready-mix second, everything else last.
func Tier(s Supplier) int {
	if MatchesBrand(s, paintBrand) {
		return tierPaint
	}
	if s.Type == TypeReadyMix {
		return tierReadyMix
	}
	n := NormalizeName(s.Name + " " + s.Brand)
	if strings.Contains(n, "ready mix") || strings.Contains(n, "readymix") {
		return tierReadyMix
	}
	return tierOther
}

// Rank sorts suppliers by tier, then ascending distance within a tier.
// Suppliers without a distance sort after those with one. The sort is
// stable so equally-placed entries keep provider order.
func Rank(suppliers []Supplier) []Supplier {
	out := make([]Supplier, len(suppliers))
	copy(out, suppliers)
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := Tier(out[i]), Tier(out[j])
		if ti != tj {
			return ti < tj
		}
		di, dj := out[i].DistanceMi, out[j].DistanceMi
		switch {
		case di == nil && dj == nil:
			return false
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return *di < *dj
		}
	})
	return out
}

// DisplayName returns the supplier's name decorated with the tier marker
// distinguishing the flagged entries.
func DisplayName(s Supplier) string {
	switch Tier(s) {
	case tierPaint:
		return "🎨 " + s.Name
	case tierReadyMix:
		return "🧱 " + s.Name
	default:
		return s.Name
	}
}

// TopUniqueHardware returns up to n of the nearest suppliers with distinct
// normalized names. Two listings that normalize to the same display name
// ("The Home Depot #512" / "Home Depot") count as one; the nearer wins.
// Entries without coordinates are skipped.
func TopUniqueHardware(places []Supplier, n int, lat, lng float64) []Supplier {
	type withDist struct {
		s Supplier
		d float64
	}
	var pool []withDist
	for _, p := range places {
		if p.Lat == nil || p.Lng == nil {
			continue
		}
		pool = append(pool, withDist{p, HaversineMi(lat, lng, *p.Lat, *p.Lng)})
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].d < pool[j].d })

	seen := make(map[string]bool)
	var out []Supplier
	for _, wd := range pool {
		key := StripLeadingThe(NormalizeName(wd.s.Name))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, wd.s)
		if len(out) >= n {
			break
		}
	}
	return out
}

// PickNearestByBrand returns the nearest supplier matching the brand, or
// nil when none match. When no candidate matches the brand the whole pool
// is considered, mirroring the lenient fallback both backends need for
// sparsely-tagged data.
func PickNearestByBrand(places []Supplier, b Brand, lat, lng float64) *Supplier {
	if len(places) == 0 {
		return nil
	}
	var matches []Supplier
	for _, p := range places {
		if MatchesBrand(p, b) {
			matches = append(matches, p)
		}
	}
	pool := matches
	if len(pool) == 0 {
		pool = places
	}

	var best *Supplier
	bestDist := 0.0
	for i := range pool {
		p := pool[i]
		if p.Lat == nil || p.Lng == nil {
			continue
		}
		d := HaversineMi(lat, lng, *p.Lat, *p.Lng)
		if best == nil || d < bestDist {
			best = &pool[i]
			bestDist = d
		}
	}
	return best
}

// DedupeByName removes suppliers whose normalized names repeat, keeping
// first occurrences (callers pass lists already in priority order).
func DedupeByName(suppliers []Supplier) []Supplier {
	seen := make(map[string]bool)
	var out []Supplier
	for _, s := range suppliers {
		key := StripLeadingThe(NormalizeName(s.Name))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
