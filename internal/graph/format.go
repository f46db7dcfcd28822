// Package graph assembles network views over fetched canonical rows:
// the role/funding graph, timelines, toplists, board co-occurrence, and
// person drilldowns. Everything here is pure computation over snapshots;
// fetching stays in the store.
package graph

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var amountPrinter = message.NewPrinter(language.English)

// FormatAmount renders a funding amount for edge labels: USD as $N or
// $N.NM, everything else in NOK style with mrd/mill abbreviations.
func FormatAmount(amount *float64, currency string) string {
	if amount == nil {
		return "?"
	}
	v := *amount
	if strings.ToUpper(currency) == "USD" {
		if math.Abs(v) >= 1_000_000 {
			return fmt.Sprintf("$%.1fM", v/1_000_000)
		}
		return amountPrinter.Sprintf("$%.0f", v)
	}
	if math.Abs(v) >= 1_000_000_000 {
		return fmt.Sprintf("%.2f mrd", v/1_000_000_000)
	}
	if math.Abs(v) >= 1_000_000 {
		return fmt.Sprintf("%.1f mill", v/1_000_000)
	}
	return amountPrinter.Sprintf("%.0f", v)
}

// ShortLabel trims a label to limit runes, ending in an ellipsis.
func ShortLabel(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit-1]) + "…"
}

// DefaultLabelLimit is the edge-label width used by the graph views.
const DefaultLabelLimit = 28
