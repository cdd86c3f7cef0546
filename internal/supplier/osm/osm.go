// Package osm implements the fallback supplier Provider using OpenStreetMap:
// Nominatim for geocoding and the Overpass API for POI search.
package osm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/uhcops/changebot/internal/supplier"
)

const (
	defaultNominatimURL = "https://nominatim.openstreetmap.org/search"
	defaultOverpassURL  = "https://overpass-api.de/api/interpreter"

	metersPerMile = 1609.34

	// retryAttempts bounds Overpass retries on 429/5xx responses.
	retryAttempts = 3
	// retryBaseDelay is the initial backoff, doubled per attempt.
	retryBaseDelay = 1500 * time.Millisecond

	// hardwareLimit is how many uniquely-named hardware stores to keep.
	hardwareLimit = 10
	// resultCap bounds the combined result set.
	resultCap = 12
)

// Provider implements supplier.Provider against OSM public services.
// It needs no credentials, only a contact email for the User-Agent
// required by the Nominatim usage policy.
type Provider struct {
	contactEmail string
	client       *http.Client
	nominatimURL string
	overpassURL  string
	out          io.Writer
	sleep        func(time.Duration) // test seam for backoff
}

// Opts holds parameters for creating a Provider.
type Opts struct {
	ContactEmail string
	Client       *http.Client
	NominatimURL string
	OverpassURL  string
	Out          io.Writer
}

// New creates an OSM Provider.
func New(opts Opts) *Provider {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	nominatim := opts.NominatimURL
	if nominatim == "" {
		nominatim = defaultNominatimURL
	}
	overpass := opts.OverpassURL
	if overpass == "" {
		overpass = defaultOverpassURL
	}
	email := opts.ContactEmail
	if email == "" {
		email = "ops@example.com"
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Provider{
		contactEmail: email,
		client:       client,
		nominatimURL: nominatim,
		overpassURL:  overpass,
		out:          out,
		sleep:        time.Sleep,
	}
}

// Name identifies this provider in logs and cache rows.
func (p *Provider) Name() string { return "osm" }

// Configured always reports true: OSM needs no credentials.
func (p *Provider) Configured() bool { return true }

func (p *Provider) userAgent() string {
	return "ChangeBot/1.0 (" + p.contactEmail + ")"
}

// Search geocodes via Nominatim, pulls hardware and ready-mix candidates
// once via Overpass, and composes chains + top hardware + coverage picks.
func (p *Provider) Search(ctx context.Context, q supplier.Query) (*supplier.Result, error) {
	fmt.Fprintf(p.out, "osm: geocoding %s, %s\n", q.City, q.State)
	lat, lng, err := p.geocode(ctx, q.City, q.State)
	if err != nil {
		return nil, err
	}

	radiusMi := q.RadiusMi
	if radiusMi <= 0 {
		radiusMi = 50
	}

	hw, err := p.queryHardware(ctx, lat, lng, radiusMi)
	if err != nil {
		return nil, err
	}
	rm, err := p.queryReadyMix(ctx, lat, lng, radiusMi)
	if err != nil {
		return nil, err
	}

	// One nearest pick per chain, from the shared hardware pool.
	var picked []supplier.Supplier
	for _, b := range supplier.ChainBrands {
		if b.Name == supplier.BrandReadyMix {
			continue
		}
		if best := supplier.PickNearestByBrand(hw, b, lat, lng); best != nil {
			s := *best
			s.Brand = b.Name
			s.Type = supplier.TypeChain
			picked = append(picked, s)
		}
	}

	topHardware := supplier.TopUniqueHardware(hw, hardwareLimit, lat, lng)

	// Coverage guarantee: ≥1 paint chain and ≥1 ready-mix entry.
	if !hasBrand(picked, topHardware, supplier.BrandPaint) {
		b := supplier.Brand{Name: supplier.BrandPaint, Aliases: []string{"sherwin williams"}}
		if sw := supplier.PickNearestByBrand(hw, b, lat, lng); sw != nil {
			s := *sw
			s.Brand = supplier.BrandPaint
			s.Type = supplier.TypeChain
			picked = append(picked, s)
		}
	}

	results := append(picked, topHardware...)
	if !containsType(results, supplier.TypeReadyMix) {
		if best := supplier.TopUniqueHardware(rm, 1, lat, lng); len(best) > 0 {
			s := best[0]
			s.Type = supplier.TypeReadyMix
			results = append(results, s)
		}
	}

	results = supplier.DedupeByName(results)
	results = capByPriority(results)

	fmt.Fprintf(p.out, "osm: total suppliers: %d\n", len(results))
	if len(results) == 0 {
		return nil, supplier.ErrEmptyResult
	}
	return &supplier.Result{Lat: lat, Lng: lng, Suppliers: results}, nil
}

func hasBrand(picked, hardware []supplier.Supplier, brand string) bool {
	for _, s := range picked {
		if s.Brand == brand {
			return true
		}
	}
	b := supplier.Brand{Name: brand}
	for _, s := range hardware {
		if supplier.MatchesBrand(s, b) {
			return true
		}
	}
	return false
}

func containsType(list []supplier.Supplier, typ string) bool {
	for _, s := range list {
		if s.Type == typ {
			return true
		}
	}
	return false
}

// capByPriority sorts ready-mix first, then the paint chain, then other
// chains, then hardware, and trims to the result cap.
func capByPriority(list []supplier.Supplier) []supplier.Supplier {
	priority := func(s supplier.Supplier) int {
		switch {
		case s.Type == supplier.TypeReadyMix:
			return 0
		case s.Brand == supplier.BrandPaint:
			return 1
		case s.Type == supplier.TypeChain:
			return 2
		default:
			return 3
		}
	}
	out := make([]supplier.Supplier, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool { return priority(out[i]) < priority(out[j]) })
	if len(out) > resultCap {
		out = out[:resultCap]
	}
	return out
}

/* ---------------- Nominatim geocoding ---------------- */

type nominatimHit struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (p *Provider) geocode(ctx context.Context, city, state string) (float64, float64, error) {
	u, err := url.Parse(p.nominatimURL)
	if err != nil {
		return 0, 0, fmt.Errorf("osm: nominatim url: %w", err)
	}
	qs := u.Query()
	qs.Set("q", city+", "+state+", USA")
	qs.Set("format", "jsonv2")
	qs.Set("limit", "1")
	u.RawQuery = qs.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, 0, fmt.Errorf("osm: geocode request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent())
	req.Header.Set("Accept-Language", "en")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("osm: geocode: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("osm: geocode status %d", resp.StatusCode)
	}

	var hits []nominatimHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return 0, 0, fmt.Errorf("osm: geocode decode: %w", err)
	}
	if len(hits) == 0 {
		return 0, 0, fmt.Errorf("osm: geocode empty for %s, %s", city, state)
	}
	lat, err := strconv.ParseFloat(hits[0].Lat, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("osm: geocode lat: %w", err)
	}
	lng, err := strconv.ParseFloat(hits[0].Lon, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("osm: geocode lon: %w", err)
	}
	return lat, lng, nil
}

/* ---------------- Overpass with retries ---------------- */

type overpassElement struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    *float64          `json:"lat"`
	Lon    *float64          `json:"lon"`
	Center *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"center"`
	Tags map[string]string `json:"tags"`
}

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

// overpass POSTs a query, retrying rate-limit and server errors with
// exponential backoff before surfacing a hard failure.
func (p *Provider) overpass(ctx context.Context, query string) ([]overpassElement, error) {
	delay := retryBaseDelay
	for attempt := 0; attempt < retryAttempts; attempt++ {
		form := url.Values{"data": {query}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.overpassURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("osm: overpass request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
		req.Header.Set("User-Agent", p.userAgent())

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("osm: overpass: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			var body overpassResponse
			err := json.NewDecoder(resp.Body).Decode(&body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("osm: overpass decode: %w", err)
			}
			return body.Elements, nil
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			p.sleep(delay)
			delay *= 2
			continue
		}
		return nil, fmt.Errorf("osm: overpass status %d", resp.StatusCode)
	}
	return nil, fmt.Errorf("osm: overpass retries exhausted")
}

// around builds an Overpass radius clause in meters.
func around(lat, lng float64, radiusMeters float64) string {
	return fmt.Sprintf("around:%d,%f,%f", int(radiusMeters), lat, lng)
}

func (p *Provider) queryHardware(ctx context.Context, lat, lng float64, radiusMi int) ([]supplier.Supplier, error) {
	r := float64(radiusMi) * metersPerMile
	a := around(lat, lng, r)
	q := fmt.Sprintf(`
[out:json][timeout:25];
(
  node[shop=hardware](%[1]s);
  way[shop=hardware](%[1]s);
  node[shop=doityourself](%[1]s);
  way[shop=doityourself](%[1]s);
  node[shop=building_materials](%[1]s);
  way[shop=building_materials](%[1]s);
  node[shop=paint](%[1]s);
  way[shop=paint](%[1]s);
);
out center 60;
`, a)
	els, err := p.overpass(ctx, q)
	if err != nil {
		return nil, err
	}
	return mapPlaces(els, supplier.TypeHardware), nil
}

func (p *Provider) queryReadyMix(ctx context.Context, lat, lng float64, radiusMi int) ([]supplier.Supplier, error) {
	r := float64(radiusMi) * metersPerMile
	a := around(lat, lng, r)
	q := fmt.Sprintf(`
[out:json][timeout:25];
(
  node["industrial"~"concrete|cement"](%[1]s);
  way["industrial"~"concrete|cement"](%[1]s);
  node[shop=building_materials](%[1]s);
  way[shop=building_materials](%[1]s);
  node["name"~"ready ?mix|readymix",i](%[1]s);
  way["name"~"ready ?mix|readymix",i](%[1]s);
);
out center 40;
`, a)
	els, err := p.overpass(ctx, q)
	if err != nil {
		return nil, err
	}
	return mapPlaces(els, supplier.TypeReadyMix), nil
}

/* ---------------- mapping ---------------- */

// mapPlaces converts Overpass elements to suppliers, dropping anything
// without a usable coordinate.
func mapPlaces(els []overpassElement, typ string) []supplier.Supplier {
	var out []supplier.Supplier
	for _, el := range els {
		s := mapPlace(el)
		if s.Lat == nil || s.Lng == nil {
			continue
		}
		s.Type = typ
		out = append(out, s)
	}
	return out
}

func mapPlace(el overpassElement) supplier.Supplier {
	t := el.Tags
	name := t["name"]
	if name == "" {
		name = t["brand"]
	}
	if name == "" {
		name = t["operator"]
	}
	if name == "" {
		name = "Unknown"
	}
	phone := t["phone"]
	if phone == "" {
		phone = t["contact:phone"]
	}

	var addrParts []string
	for _, k := range []string{"addr:housenumber", "addr:street", "addr:city", "addr:state", "addr:postcode"} {
		if v := t[k]; v != "" {
			addrParts = append(addrParts, v)
		}
	}

	s := supplier.Supplier{
		Source:  "osm",
		PlaceID: fmt.Sprintf("%s/%d", el.Type, el.ID),
		Brand:   t["brand"],
		Name:    name,
		Address: strings.Join(addrParts, ", "),
		Phone:   phone,
	}
	if el.Lat != nil && el.Lon != nil {
		s.Lat, s.Lng = el.Lat, el.Lon
	} else if el.Center != nil {
		lat, lng := el.Center.Lat, el.Center.Lon
		s.Lat, s.Lng = &lat, &lng
	}
	return s
}
