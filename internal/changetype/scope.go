package changetype

import (
	"strings"

	"github.com/uhcops/changebot/internal/models"
)

// Scope collects scope-change lines plus a cost/schedule impact note.
var Scope = ChangeType{
	ID:     "scope",
	Label:  "Scope Change",
	Prefix: "SCOPE",
	Fields: []Field{
		{
			ID:          "scope_lines",
			Label:       "Changes",
			Placeholder: "One per line. Ex: Add FRP panels to kitchen walls",
			Paragraph:   true,
			Required:    true,
		},
		{ID: "impact", Label: "Impact", Placeholder: "Cost/schedule impact if known", Paragraph: true},
	},
	Parse: parseScope,
}

func parseScope(values map[string]string) ([]models.LineItem, string, error) {
	var items []models.LineItem
	for _, line := range strings.Split(values["scope_lines"], "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		items = append(items, models.LineItem{Description: line})
	}
	if len(items) == 0 {
		return nil, "", ErrNoEntries
	}
	return items, strings.TrimSpace(values["impact"]), nil
}
