// Package location extracts "City, ST" pairs from project thread titles.
package location

import (
	"regexp"
	"strings"
)

// Location is a parsed city/state pair plus its canonical display text.
type Location struct {
	City  string
	State string
	Text  string
}

// stateAbbr maps lowercase full state names to USPS abbreviations.
var stateAbbr = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR",
	"california": "CA", "colorado": "CO", "connecticut": "CT", "delaware": "DE",
	"district of columbia": "DC", "florida": "FL", "georgia": "GA",
	"hawaii": "HI", "idaho": "ID", "illinois": "IL", "indiana": "IN",
	"iowa": "IA", "kansas": "KS", "kentucky": "KY", "louisiana": "LA",
	"maine": "ME", "maryland": "MD", "massachusetts": "MA", "michigan": "MI",
	"minnesota": "MN", "mississippi": "MS", "missouri": "MO", "montana": "MT",
	"nebraska": "NE", "nevada": "NV", "new hampshire": "NH", "new jersey": "NJ",
	"new mexico": "NM", "new york": "NY", "north carolina": "NC",
	"north dakota": "ND", "ohio": "OH", "oklahoma": "OK", "oregon": "OR",
	"pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC",
	"south dakota": "SD", "tennessee": "TN", "texas": "TX", "utah": "UT",
	"vermont": "VT", "virginia": "VA", "washington": "WA",
	"west virginia": "WV", "wisconsin": "WI", "wyoming": "WY",
}

var twoLetterRe = regexp.MustCompile(`^[A-Za-z]{2}$`)

// strictPatterns match a city followed by a two-letter state token in the
// separators seen in real thread titles. First match wins.
var strictPatterns = []*regexp.Regexp{
	regexp.MustCompile(`([A-Za-z .'-]+)\s*,\s*([A-Za-z]{2})\b`),       // City, ST
	regexp.MustCompile(`([A-Za-z .'-]+)\s*\(\s*([A-Za-z]{2})\s*\)`),   // City (ST)
	regexp.MustCompile(`([A-Za-z .'-]+)\s*\|\s*([A-Za-z]{2})\b`),      // City | ST
	regexp.MustCompile(`([A-Za-z .'-]+)\s*-\s*([A-Za-z]{2})\b`),       // City - ST
}

// loosePattern accepts a full state name after a comma as a last resort.
var loosePattern = regexp.MustCompile(`([A-Za-z .'-]+)\s*,\s*([A-Za-z ]{3,})\b`)

// NormalizeState maps a state token to its two-letter abbreviation.
// Two-letter tokens are uppercased directly; full names go through the
// table; anything else returns "".
func NormalizeState(input string) string {
	s := strings.TrimSpace(input)
	if s == "" {
		return ""
	}
	if twoLetterRe.MatchString(s) {
		return strings.ToUpper(s)
	}
	return stateAbbr[strings.ToLower(s)]
}

// Parse extracts a Location from a thread title. Both city and state must
// resolve for a pattern to succeed; otherwise the next pattern is tried.
// Returns false when nothing matches.
func Parse(title string) (Location, bool) {
	if title == "" {
		return Location{}, false
	}

	for _, rx := range strictPatterns {
		m := rx.FindStringSubmatch(title)
		if m == nil {
			continue
		}
		city := strings.TrimSpace(m[1])
		state := NormalizeState(m[2])
		if city != "" && state != "" {
			return Location{City: city, State: state, Text: city + ", " + state}, true
		}
	}

	if m := loosePattern.FindStringSubmatch(title); m != nil {
		city := strings.TrimSpace(m[1])
		state := NormalizeState(m[2])
		if city != "" && state != "" {
			return Location{City: city, State: state, Text: city + ", " + state}, true
		}
	}

	return Location{}, false
}
