package changetype

import (
	"strings"

	"github.com/uhcops/changebot/internal/models"
)

// Schedule collects a schedule-change request: what moves, from when to
// when, and why. The dates become one line item; the reason becomes the
// order notes.
var Schedule = ChangeType{
	ID:     "schedule",
	Label:  "Schedule Change",
	Prefix: "SCHEDULE",
	Fields: []Field{
		{ID: "task", Label: "Task or phase", Placeholder: "Ex: Drywall install, Building B", Required: true},
		{ID: "old_date", Label: "Current date", Placeholder: "Ex: 2025-03-10", Required: true},
		{ID: "new_date", Label: "Requested date", Placeholder: "Ex: 2025-03-17", Required: true},
		{ID: "reason", Label: "Reason", Placeholder: "Why the change is needed", Paragraph: true},
	},
	Parse: parseSchedule,
}

func parseSchedule(values map[string]string) ([]models.LineItem, string, error) {
	task := strings.TrimSpace(values["task"])
	oldDate := strings.TrimSpace(values["old_date"])
	newDate := strings.TrimSpace(values["new_date"])
	if task == "" || oldDate == "" || newDate == "" {
		return nil, "", ErrNoEntries
	}
	move := oldDate + " → " + newDate
	item := models.LineItem{Description: task, Notes: &move}
	return []models.LineItem{item}, strings.TrimSpace(values["reason"]), nil
}
