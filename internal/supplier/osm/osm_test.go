package osm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/uhcops/changebot/internal/supplier"
)

func nominatimOK(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, `[{"lat":"30.2672","lon":"-97.7431"}]`)
}

func element(id int, name string, tags map[string]string, lat, lng float64) string {
	extra := ""
	for k, v := range tags {
		extra += fmt.Sprintf(",%q:%q", k, v)
	}
	return fmt.Sprintf(`{"type":"node","id":%d,"lat":%f,"lon":%f,"tags":{"name":%q%s}}`,
		id, lat, lng, name, extra)
}

// overpassFixture answers the hardware query and the ready-mix query by
// sniffing the posted Overpass QL.
func overpassFixture(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	q := r.Form.Get("data")
	var els []string
	if strings.Contains(q, "shop=hardware") {
		els = []string{
			element(1, "The Home Depot", map[string]string{"brand": "The Home Depot"}, 30.28, -97.74),
			element(2, "Sherwin-Williams", map[string]string{"brand": "Sherwin-Williams"}, 30.30, -97.72),
			element(3, "Zinger Hardware", nil, 30.26, -97.75),
			element(4, "Zinger Hardware", nil, 30.40, -97.60), // duplicate, farther
		}
	} else {
		els = []string{
			element(10, "Capitol Ready Mix", map[string]string{"industrial": "concrete"}, 30.35, -97.70),
		}
	}
	fmt.Fprintf(w, `{"elements":[%s]}`, strings.Join(els, ","))
}

func newTestProvider(t *testing.T, overpass http.HandlerFunc) *Provider {
	t.Helper()
	nom := httptest.NewServer(http.HandlerFunc(nominatimOK))
	t.Cleanup(nom.Close)
	op := httptest.NewServer(overpass)
	t.Cleanup(op.Close)
	p := New(Opts{
		ContactEmail: "test@example.com",
		NominatimURL: nom.URL,
		OverpassURL:  op.URL,
		Out:          io.Discard,
	})
	p.sleep = func(time.Duration) {}
	return p
}

func TestSearch(t *testing.T) {
	p := newTestProvider(t, overpassFixture)

	res, err := p.Search(context.Background(), supplier.Query{City: "Austin", State: "TX", RadiusMi: 50})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Lat != 30.2672 || res.Lng != -97.7431 {
		t.Errorf("geocode = %v, %v", res.Lat, res.Lng)
	}

	byName := map[string]supplier.Supplier{}
	for _, s := range res.Suppliers {
		byName[s.Name] = s
		if s.Source != "osm" {
			t.Errorf("source = %q", s.Source)
		}
	}

	// Chain picks from the shared pool carry their brand and type.
	if hd, ok := byName["The Home Depot"]; !ok || hd.Brand != "Home Depot" || hd.Type != supplier.TypeChain {
		t.Errorf("home depot = %+v", byName["The Home Depot"])
	}
	if sw, ok := byName["Sherwin-Williams"]; !ok || sw.Type != supplier.TypeChain {
		t.Errorf("sherwin = %+v", byName["Sherwin-Williams"])
	}
	// Ready-mix coverage from the second query.
	if rm, ok := byName["Capitol Ready Mix"]; !ok || rm.Type != supplier.TypeReadyMix {
		t.Errorf("ready mix = %+v", byName["Capitol Ready Mix"])
	}
	// Duplicate hardware listings collapse to one.
	count := 0
	for _, s := range res.Suppliers {
		if s.Name == "Zinger Hardware" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Zinger Hardware appears %d times", count)
	}
	// Ready-mix sorts to the front in the capped ordering.
	if res.Suppliers[0].Type != supplier.TypeReadyMix {
		t.Errorf("first supplier = %+v", res.Suppliers[0])
	}
}

func TestSearch_EmptyResult(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"elements":[]}`)
	})
	_, err := p.Search(context.Background(), supplier.Query{City: "Austin", State: "TX"})
	if !errors.Is(err, supplier.ErrEmptyResult) {
		t.Errorf("err = %v, want ErrEmptyResult", err)
	}
}

func TestOverpass_RetriesOn429(t *testing.T) {
	var hits int
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		overpassFixture(w, r)
	})
	var slept []time.Duration
	p.sleep = func(d time.Duration) { slept = append(slept, d) }

	els, err := p.overpass(context.Background(), "[out:json];node[shop=hardware];out;")
	if err != nil {
		t.Fatalf("overpass: %v", err)
	}
	if len(els) == 0 {
		t.Error("no elements after retry")
	}
	if len(slept) != 2 {
		t.Fatalf("slept %d times, want 2", len(slept))
	}
	if slept[1] != 2*slept[0] {
		t.Errorf("backoff not doubled: %v", slept)
	}
}

func TestOverpass_RetriesExhausted(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := p.overpass(context.Background(), "[out:json];out;")
	if err == nil || !strings.Contains(err.Error(), "retries exhausted") {
		t.Errorf("err = %v", err)
	}
}

func TestOverpass_HardErrorNoRetry(t *testing.T) {
	var hits int
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadRequest)
	})
	_, err := p.overpass(context.Background(), "bogus")
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Errorf("err = %v", err)
	}
	if hits != 1 {
		t.Errorf("requests = %d, want 1", hits)
	}
}

func TestGeocode_Empty(t *testing.T) {
	nom := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	t.Cleanup(nom.Close)
	p := New(Opts{NominatimURL: nom.URL, Out: io.Discard})

	if _, _, err := p.geocode(context.Background(), "Nowhere", "ZZ"); err == nil {
		t.Fatal("expected error for empty geocode")
	}
}

func TestMapPlace(t *testing.T) {
	el := overpassElement{
		Type: "way",
		ID:   99,
		Center: &struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		}{30.1, -97.5},
		Tags: map[string]string{
			"brand":            "Ace Hardware",
			"contact:phone":    "+1 512-555-0123",
			"addr:housenumber": "500",
			"addr:street":      "Congress Ave",
			"addr:city":        "Austin",
		},
	}
	s := mapPlace(el)
	if s.Name != "Ace Hardware" {
		t.Errorf("name = %q", s.Name)
	}
	if s.PlaceID != "way/99" {
		t.Errorf("place id = %q", s.PlaceID)
	}
	if s.Phone != "+1 512-555-0123" {
		t.Errorf("phone = %q", s.Phone)
	}
	if s.Address != "500, Congress Ave, Austin" {
		t.Errorf("address = %q", s.Address)
	}
	if s.Lat == nil || *s.Lat != 30.1 {
		t.Errorf("lat = %v", s.Lat)
	}
}
