package changetype

import (
	"strconv"
	"strings"

	"github.com/uhcops/changebot/internal/models"
)

// Materials collects missing-material lines, one item per line in the
// form "description | quantity | notes" with quantity and notes optional.
var Materials = ChangeType{
	ID:     "materials",
	Label:  "Missing Materials",
	Prefix: "MATERIAL",
	Fields: []Field{
		{
			ID:          "material_lines",
			Label:       "Item | Qty | Notes",
			Placeholder: "One per line. Ex: Drywall | 10 sheets | 5/8\" type X",
			Paragraph:   true,
			Required:    true,
		},
	},
	Parse: parseMaterialLines,
}

func parseMaterialLines(values map[string]string) ([]models.LineItem, string, error) {
	var items []models.LineItem
	for _, line := range strings.Split(values["material_lines"], "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 3)
		desc := strings.TrimSpace(parts[0])
		if desc == "" {
			continue
		}
		item := models.LineItem{Description: desc}
		if len(parts) > 1 {
			if v, u, ok := ParseQuantity(strings.TrimSpace(parts[1])); ok {
				item.QuantityValue = &v
				if u != "" {
					item.QuantityUnit = &u
				}
			}
		}
		if len(parts) > 2 {
			if n := strings.TrimSpace(parts[2]); n != "" {
				item.Notes = &n
			}
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, "", ErrNoEntries
	}
	return items, "", nil
}

// ParseQuantity splits "10 sheets" into a value and a free-text unit.
// A bare number is a value with no unit; anything non-numeric fails.
func ParseQuantity(raw string) (float64, string, bool) {
	if raw == "" {
		return 0, "", false
	}
	fields := strings.Fields(raw)
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, "", false
	}
	return v, strings.Join(fields[1:], " "), true
}
