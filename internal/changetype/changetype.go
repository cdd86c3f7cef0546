// Package changetype defines the request types the bot can collect:
// materials, schedule, and scope changes. Each type contributes its form
// fields, a submission parser, and a reference-number prefix.
package changetype

import (
	"errors"
	"fmt"

	"github.com/uhcops/changebot/internal/models"
)

// ErrNoEntries is returned when a submission parses to zero usable lines.
var ErrNoEntries = errors.New("changetype: no entries in submission")

// Field describes one modal input.
type Field struct {
	ID          string
	Label       string
	Placeholder string
	Paragraph   bool
	Required    bool
}

// ChangeType is one request category.
type ChangeType struct {
	ID     string
	Label  string
	Prefix string // reference-number prefix, e.g. MATERIAL-0042
	Fields []Field
	// Parse turns submitted field values into order line items plus
	// order-level notes.
	Parse func(values map[string]string) ([]models.LineItem, string, error)
}

// Reference formats the human-facing reference number for an order.
func (t ChangeType) Reference(orderID uint) string {
	return fmt.Sprintf("%s-%04d", t.Prefix, orderID)
}

// All is the registry of enabled change types, in display order.
var All = []ChangeType{Materials, Schedule, Scope}

// Get returns the change type with the given ID, or false.
func Get(id string) (ChangeType, bool) {
	for _, t := range All {
		if t.ID == id {
			return t, true
		}
	}
	return ChangeType{}, false
}
