// Package googleplaces implements the primary supplier Provider using the
// Google Geocoding API and Places API (New) text search.
package googleplaces

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/uhcops/changebot/internal/supplier"
)

const (
	defaultGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"
	defaultPlacesURL  = "https://places.googleapis.com/v1"

	// metersPerMile converts the radius config into Places bias radii.
	metersPerMile = 1609.34
	// maxBiasMeters is the Places API cap on locationBias circles.
	maxBiasMeters = 50000
	// hardwareLimit is how many uniquely-named hardware stores to return.
	hardwareLimit = 10
	// chainRadiusFloorMi widens chain searches so big-box stores on the
	// edge of the requested radius are not missed.
	chainRadiusFloorMi = 60

	searchFieldMask = "places.id,places.name,places.displayName,places.formattedAddress,places.location"
	detailFields    = "id,name,displayName,formattedAddress,internationalPhoneNumber,location"
)

// Provider implements supplier.Provider against Google's APIs.
type Provider struct {
	apiKey     string
	client     *http.Client
	geocodeURL string
	placesURL  string
	out        io.Writer
}

// Opts holds parameters for creating a Provider. The URL overrides exist
// for tests pointing at httptest servers.
type Opts struct {
	APIKey     string
	Client     *http.Client
	GeocodeURL string
	PlacesURL  string
	Out        io.Writer
}

// New creates a Google Places Provider.
func New(opts Opts) *Provider {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	geocodeURL := opts.GeocodeURL
	if geocodeURL == "" {
		geocodeURL = defaultGeocodeURL
	}
	placesURL := opts.PlacesURL
	if placesURL == "" {
		placesURL = defaultPlacesURL
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Provider{
		apiKey:     opts.APIKey,
		client:     client,
		geocodeURL: geocodeURL,
		placesURL:  placesURL,
		out:        out,
	}
}

// Name identifies this provider in logs and cache rows.
func (p *Provider) Name() string { return "google" }

// Configured reports whether an API key is present.
func (p *Provider) Configured() bool { return p.apiKey != "" }

// Search geocodes (city, state) and runs the chain, hardware, and
// coverage searches around the resulting coordinate.
func (p *Provider) Search(ctx context.Context, q supplier.Query) (*supplier.Result, error) {
	if !p.Configured() {
		return nil, supplier.ErrNotConfigured
	}

	fmt.Fprintf(p.out, "google: geocoding %s, %s\n", q.City, q.State)
	lat, lng, err := p.geocode(ctx, q.City, q.State)
	if err != nil {
		return nil, err
	}

	radiusMi := q.RadiusMi
	if radiusMi <= 0 {
		radiusMi = 50
	}
	chainRadiusMi := radiusMi
	if chainRadiusMi < chainRadiusFloorMi {
		chainRadiusMi = chainRadiusFloorMi
	}

	var chains []supplier.Supplier
	for _, b := range supplier.ChainBrands {
		s, err := p.pickFirstOfBrand(ctx, b, q.City, q.State, lat, lng, chainRadiusMi)
		if err != nil {
			log.Printf("google: brand %s: %v", b.Name, err)
			continue
		}
		chains = append(chains, *s)
	}

	hardware, err := p.topHardwareStores(ctx, lat, lng, radiusMi, hardwareLimit)
	if err != nil {
		log.Printf("google: hardware search: %v", err)
	}

	// Coverage guarantee: at least one paint-chain and one ready-mix
	// entry, with one extra targeted search each if the chain pass
	// came up short.
	chains = p.ensureBrand(ctx, chains, supplier.BrandPaint, q.City, q.State, lat, lng, chainRadiusMi)
	chains = p.ensureBrand(ctx, chains, supplier.BrandReadyMix, q.City, q.State, lat, lng, chainRadiusMi)

	all := append(chains, hardware...)
	fmt.Fprintf(p.out, "google: total suppliers: %d\n", len(all))
	if len(all) == 0 {
		return nil, supplier.ErrEmptyResult
	}
	return &supplier.Result{Lat: lat, Lng: lng, Suppliers: all}, nil
}

// ensureBrand appends one targeted search result for the named brand if
// the list has no entry for it yet.
func (p *Provider) ensureBrand(ctx context.Context, list []supplier.Supplier, brand, city, state string, lat, lng float64, radiusMi int) []supplier.Supplier {
	for _, s := range list {
		if s.Brand == brand {
			return list
		}
	}
	var b supplier.Brand
	for _, cb := range supplier.ChainBrands {
		if cb.Name == brand {
			b = cb
			break
		}
	}
	s, err := p.pickFirstOfBrand(ctx, b, city, state, lat, lng, radiusMi)
	if err != nil {
		log.Printf("google: ensure %s: %v", brand, err)
		return list
	}
	return append(list, *s)
}

/* ---------------- Google API wrappers ---------------- */

type geocodeResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// geocode resolves "City, ST" to a coordinate. Any failure here is a hard
// failure for the whole provider.
func (p *Provider) geocode(ctx context.Context, city, state string) (float64, float64, error) {
	u, err := url.Parse(p.geocodeURL)
	if err != nil {
		return 0, 0, fmt.Errorf("google: geocode url: %w", err)
	}
	qs := u.Query()
	qs.Set("address", city+", "+state)
	qs.Set("key", p.apiKey)
	u.RawQuery = qs.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, 0, fmt.Errorf("google: geocode request: %w", err)
	}
	var body geocodeResponse
	if err := p.doJSON(req, &body); err != nil {
		return 0, 0, fmt.Errorf("google: geocode: %w", err)
	}
	if body.Status != "OK" || len(body.Results) == 0 {
		return 0, 0, fmt.Errorf("google: geocode %s: %s", body.Status, body.ErrorMessage)
	}
	loc := body.Results[0].Geometry.Location
	return loc.Lat, loc.Lng, nil
}

type place struct {
	ID          string `json:"id"`
	Name        string `json:"name"` // resource name, "places/ChIJ..."
	DisplayName struct {
		Text string `json:"text"`
	} `json:"displayName"`
	FormattedAddress         string `json:"formattedAddress"`
	InternationalPhoneNumber string `json:"internationalPhoneNumber"`
	Location                 *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"location"`
}

type searchTextResponse struct {
	Places []place `json:"places"`
}

// searchText runs a Places v1 text search biased around the coordinate.
func (p *Provider) searchText(ctx context.Context, query string, lat, lng float64, radiusMi int) ([]place, error) {
	radiusMeters := float64(radiusMi) * metersPerMile
	if radiusMeters > maxBiasMeters {
		radiusMeters = maxBiasMeters
	}
	payload := map[string]interface{}{
		"textQuery": query,
		"locationBias": map[string]interface{}{
			"circle": map[string]interface{}{
				"center": map[string]float64{"latitude": lat, "longitude": lng},
				"radius": radiusMeters,
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("google: marshal search: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.placesURL+"/places:searchText", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("google: search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", p.apiKey)
	req.Header.Set("X-Goog-FieldMask", searchFieldMask)

	var resp searchTextResponse
	if err := p.doJSON(req, &resp); err != nil {
		return nil, fmt.Errorf("google: search %q: %w", query, err)
	}
	return resp.Places, nil
}

// placeDetails fetches the full record for a place resource. Accepts both
// bare IDs and "places/<id>" resource names.
func (p *Provider) placeDetails(ctx context.Context, resource string) (*place, error) {
	if !strings.HasPrefix(resource, "places/") {
		resource = "places/" + resource
	}
	// The path part must not be escaped: it would break the slash in
	// "places/<id>".
	u := p.placesURL + "/" + resource + "?fields=" + url.QueryEscape(detailFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("google: details request: %w", err)
	}
	req.Header.Set("X-Goog-Api-Key", p.apiKey)

	var det place
	if err := p.doJSON(req, &det); err != nil {
		return nil, fmt.Errorf("google: details %s: %w", resource, err)
	}
	return &det, nil
}

// doJSON executes the request and decodes a JSON body, reporting the
// status and a body snippet on non-2xx or non-JSON responses.
func (p *Provider) doJSON(req *http.Request, v interface{}) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, snippet(raw))
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("non-JSON response status %d: %s", resp.StatusCode, snippet(raw))
	}
	return nil
}

func snippet(b []byte) string {
	const max = 300
	if len(b) == 0 {
		return "<empty body>"
	}
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}

/* ---------------- search strategies ---------------- */

// pickFirstOfBrand searches the brand query (plus aliases), filters
// candidates by normalized brand name, picks the geographically closest,
// and hydrates it with a details call.
func (p *Provider) pickFirstOfBrand(ctx context.Context, b supplier.Brand, city, state string, lat, lng float64, radiusMi int) (*supplier.Supplier, error) {
	queries := append([]string{b.Query}, b.Aliases...)
	var candidates []place
	for _, q := range queries {
		list, err := p.searchText(ctx, q+" near "+city+", "+state, lat, lng, radiusMi)
		if err != nil {
			return nil, err
		}
		if len(list) > 8 {
			list = list[:8]
		}
		candidates = append(candidates, list...)
	}

	brandKey := supplier.StripLeadingThe(supplier.NormalizeName(b.Name))
	var filtered []place
	for _, c := range candidates {
		name := supplier.StripLeadingThe(supplier.NormalizeName(displayName(c)))
		if brandKey != "" && strings.Contains(name, brandKey) {
			filtered = append(filtered, c)
		}
	}
	pool := filtered
	if len(pool) == 0 {
		pool = candidates
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("google: no candidates for %s", b.Name)
	}

	best := nearest(pool, lat, lng)
	resource := best.ID
	if resource == "" {
		resource = best.Name
	}
	det, err := p.placeDetails(ctx, resource)
	if err != nil {
		return nil, err
	}

	s := toSupplier(*det, *best)
	s.Brand = b.Name
	s.Type = supplier.TypeChain
	if b.Name == supplier.BrandReadyMix {
		s.Type = supplier.TypeReadyMix
	}
	return &s, nil
}

// topHardwareStores returns up to limit nearest hardware stores with
// distinct normalized names. Failed details calls skip the entry rather
// than failing the search.
func (p *Provider) topHardwareStores(ctx context.Context, lat, lng float64, radiusMi, limit int) ([]supplier.Supplier, error) {
	list, err := p.searchText(ctx, "hardware store", lat, lng, radiusMi)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []supplier.Supplier
	for _, c := range list {
		if len(out) >= limit {
			break
		}
		key := supplier.NormalizeName(displayName(c))
		if seen[key] {
			continue
		}
		seen[key] = true

		resource := c.ID
		if resource == "" {
			resource = c.Name
		}
		det, err := p.placeDetails(ctx, resource)
		if err != nil {
			log.Printf("google: hardware details skip: %v", err)
			continue
		}
		s := toSupplier(*det, c)
		s.Brand = "Hardware"
		s.Type = supplier.TypeHardware
		out = append(out, s)
	}
	return out, nil
}

/* ---------------- mapping helpers ---------------- */

func displayName(c place) string {
	if c.DisplayName.Text != "" {
		return c.DisplayName.Text
	}
	return c.Name
}

// toSupplier maps a details record (with the search hit as fallback for
// missing fields) into the common supplier shape.
func toSupplier(det place, hit place) supplier.Supplier {
	name := displayName(det)
	if name == "" {
		name = displayName(hit)
	}
	if name == "" {
		name = "Unknown"
	}
	addr := det.FormattedAddress
	if addr == "" {
		addr = hit.FormattedAddress
	}
	id := det.ID
	if id == "" {
		id = hit.ID
	}
	s := supplier.Supplier{
		Source:  "google",
		PlaceID: id,
		Name:    name,
		Address: addr,
		Phone:   det.InternationalPhoneNumber,
	}
	loc := det.Location
	if loc == nil {
		loc = hit.Location
	}
	if loc != nil {
		lat, lng := loc.Latitude, loc.Longitude
		s.Lat, s.Lng = &lat, &lng
	}
	return s
}

// nearest picks the candidate closest to the bias coordinate, scored with
// a cheap planar distance (ordering only, never displayed).
func nearest(pool []place, lat, lng float64) *place {
	best := &pool[0]
	bestScore := -1.0
	for i := range pool {
		c := &pool[i]
		if c.Location == nil {
			continue
		}
		dLat := c.Location.Latitude - lat
		dLng := c.Location.Longitude - lng
		score := dLat*dLat + dLng*dLng
		if bestScore < 0 || score < bestScore {
			best = c
			bestScore = score
		}
	}
	return best
}

