package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/uhcops/changebot/internal/models"
	"github.com/uhcops/changebot/internal/supplier"
)

// statusEmoji maps order statuses to their display markers.
var statusEmoji = map[string]string{
	"pending":     "🟡",
	"in_progress": "🔵",
	"filled":      "✅",
	"cancelled":   "⚫",
}

// StatusLine renders the status banner kept at the top of a forum post.
func StatusLine(status string) string {
	emoji, ok := statusEmoji[status]
	if !ok {
		emoji = "⚪"
	}
	return fmt.Sprintf("**Status:** %s %s", emoji, strings.ToUpper(strings.ReplaceAll(status, "_", " ")))
}

// ReplaceStatusLine swaps the status banner inside existing message text,
// leaving the rest untouched.
func ReplaceStatusLine(content, status string) string {
	lines := strings.Split(content, "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, "**Status:**") {
			lines[i] = StatusLine(status)
			return strings.Join(lines, "\n")
		}
	}
	return content + "\n\n" + StatusLine(status)
}

// FormatLineItem renders one cart/order line for display.
func FormatLineItem(i int, it models.LineItem) string {
	s := fmt.Sprintf("**%d.** %s", i+1, it.Description)
	if it.QuantityValue != nil {
		qty := trimFloat(*it.QuantityValue)
		if it.QuantityUnit != nil && *it.QuantityUnit != "" {
			qty += " " + *it.QuantityUnit
		}
		s += " (" + qty + ")"
	}
	if it.Notes != nil && *it.Notes != "" {
		s += " — " + *it.Notes
	}
	return s
}

// OrderSummaryEmbed builds the summary posted when an order is submitted.
func OrderSummaryEmbed(title, reference, requesterMention string, items []models.LineItem, needBy *string, notes, locationText string, now time.Time) *Embed {
	var lines []string
	for i, it := range items {
		lines = append(lines, FormatLineItem(i, it))
	}
	if notes != "" {
		lines = append(lines, "", "**Order Notes:** "+notes)
	}
	if needBy != nil && *needBy != "" {
		lines = append(lines, "**Need by:** "+*needBy)
	}
	if locationText != "" {
		lines = append(lines, "**Location:** "+locationText)
	}
	return &Embed{
		Title:       title,
		Description: strings.Join(lines, "\n"),
		Fields: []EmbedField{
			{Name: "Reference", Value: reference, Inline: true},
			{Name: "Requested By", Value: requesterMention, Inline: true},
		},
		Timestamp: now,
	}
}

// CartSummary renders the draft cart shown between modal steps.
func CartSummary(items []models.LineItem) string {
	if len(items) == 0 {
		return "Cart is empty. Add at least one item."
	}
	var lines []string
	for i, it := range items {
		lines = append(lines, FormatLineItem(i, it))
	}
	return strings.Join(lines, "\n")
}

// SuppliersEmbed builds the nearby-suppliers block appended to a forum
// post after resolution. Suppliers are expected pre-ranked.
func SuppliersEmbed(city, state, providerUsed string, suppliers []supplier.Supplier, now time.Time) *Embed {
	var lines []string
	for _, s := range suppliers {
		line := "**" + supplier.DisplayName(s) + "**"
		if s.Address != "" {
			line += " — " + s.Address
		}
		if s.DistanceMi != nil {
			line += fmt.Sprintf(" • ~%.1f mi", *s.DistanceMi)
		}
		if s.Phone != "" {
			line += " • " + s.Phone
		}
		lines = append(lines, line)
	}
	desc := "_No suppliers found_"
	if len(lines) > 0 {
		desc = strings.Join(lines, "\n")
	}
	return &Embed{
		Title:       fmt.Sprintf("Nearby Suppliers (%s, %s)", city, state),
		Description: desc,
		Footer:      "source: " + providerUsed,
		Timestamp:   now,
	}
}

// StatusButtons are the operator controls attached to every forum post.
func StatusButtons(orderID uint) []Button {
	id := func(to string) string { return fmt.Sprintf("status:%s:%d", to, orderID) }
	return []Button{
		{CustomID: id("in_progress"), Label: "Mark In Progress", Style: StylePrimary},
		{CustomID: id("filled"), Label: "Mark Filled", Style: StyleSuccess},
		{CustomID: id("cancelled"), Label: "Cancel", Style: StyleDanger},
	}
}

// CartButtons are the draft-cart controls shown to the requester.
func CartButtons() []Button {
	return []Button{
		{CustomID: "cart:add", Label: "Add Item", Style: StylePrimary},
		{CustomID: "cart:review", Label: "Review & Send", Style: StyleSecondary},
		{CustomID: "cart:confirm", Label: "Confirm & Send", Style: StyleSuccess},
		{CustomID: "cart:startover", Label: "Start Over", Style: StyleDanger},
	}
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

// roleMention renders a role ping for the destination platform.
func roleMention(roleID string) string {
	if roleID == "" {
		return ""
	}
	return "<@&" + roleID + ">"
}

// userMention renders a user ping.
func userMention(userID string) string {
	return "<@" + userID + ">"
}
