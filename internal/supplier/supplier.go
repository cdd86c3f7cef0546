// Package supplier implements the supplier lookup pipeline: a common
// provider contract, a resolver that tries providers in fallback order and
// caches what they return, and the ranking applied before display.
package supplier

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// Supplier type tags.
const (
	TypeChain    = "chain"
	TypeHardware = "hardware"
	TypeReadyMix = "ready_mix"
)

// ErrEmptyResult is returned by a provider whose combined search produced
// nothing. An empty result is a provider failure, not a success — it is
// what drives the resolver to the next provider.
var ErrEmptyResult = errors.New("supplier: provider returned no results")

// ErrNotConfigured is returned by providers missing their credentials.
var ErrNotConfigured = errors.New("supplier: provider not configured")

// Query is a supplier search request.
type Query struct {
	City     string
	State    string
	RadiusMi int
}

// Supplier is one resolved supplier record in the common shape both
// providers map into.
type Supplier struct {
	Source     string // "google" or "osm"
	PlaceID    string
	Brand      string
	Type       string // chain, hardware, ready_mix
	Name       string
	Address    string
	Phone      string
	Lat        *float64
	Lng        *float64
	DistanceMi *float64
	CacheID    uint // set by the resolver after the cache write
}

// Result is a provider's answer: the geocoded query coordinate plus the
// suppliers found around it.
type Result struct {
	Lat       float64
	Lng       float64
	Suppliers []Supplier
}

// Provider is the shared contract for supplier search backends. Two
// implementations exist (Google Places and OpenStreetMap); the resolver is
// written against this interface so a third backend needs no resolver
// changes.
type Provider interface {
	// Name identifies the provider in logs and cache rows.
	Name() string
	// Configured reports whether required credentials are present.
	Configured() bool
	// Search geocodes the query location and returns suppliers around it.
	// A geocoding failure or an empty combined result is an error.
	Search(ctx context.Context, q Query) (*Result, error)
}

// Brand is a chain the providers search for by name.
type Brand struct {
	Name    string
	Query   string
	Aliases []string
}

// ChainBrands is the fixed set of chains searched on every lookup.
// Ready-Mix is a category rather than a company but rides the same path.
var ChainBrands = []Brand{
	{Name: "Lowe's", Query: "Lowe's Home Improvement", Aliases: []string{"lowes", "lowe s"}},
	{Name: "Home Depot", Query: "The Home Depot", Aliases: []string{"home depot", "the home depot"}},
	{Name: "White Cap", Query: "White Cap", Aliases: []string{"whitecap"}},
	{Name: "L&W Supply", Query: "L&W Supply", Aliases: []string{"l and w supply", "l&w supply"}},
	{Name: "Sherwin-Williams", Query: "Sherwin-Williams Paint Store", Aliases: []string{"sherwin williams", "sherwin-williams"}},
	{Name: "Builders FirstSource", Query: "Builders FirstSource", Aliases: []string{"builders first source", "bfs"}},
	{Name: "Menards", Query: "Menards"},
	{Name: BrandReadyMix, Query: "ready mix concrete supplier"},
}

// Names of the coverage-guaranteed entries.
const (
	BrandPaint    = "Sherwin-Williams"
	BrandReadyMix = "Ready-Mix"
)

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeName lowercases a display name and collapses punctuation, so
// "Lowe's #1123" and "Lowes" compare equal. Used for dedup keys and brand
// matching.
func NormalizeName(s string) string {
	return strings.TrimSpace(nonAlnumRe.ReplaceAllString(strings.ToLower(s), " "))
}

// StripLeadingThe removes a leading "the " from a normalized name.
func StripLeadingThe(s string) string {
	return strings.TrimPrefix(s, "the ")
}

// MatchesBrand reports whether a supplier's name or brand tag matches the
// given brand (or any alias) as a normalized substring.
func MatchesBrand(s Supplier, b Brand) bool {
	name := StripLeadingThe(NormalizeName(s.Name))
	brand := StripLeadingThe(NormalizeName(s.Brand))
	keys := append([]string{b.Name}, b.Aliases...)
	for _, k := range keys {
		key := StripLeadingThe(NormalizeName(k))
		if key == "" {
			continue
		}
		if strings.Contains(name, key) || strings.Contains(brand, key) {
			return true
		}
	}
	return false
}
