package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jmorrill/itemflow/internal/model"
	"github.com/jmorrill/itemflow/internal/service"
)

// buildPrompt renders the taxonomy and the numbered batch of rows. Row
// numbers are 1-based positions within this batch; the caller maps the
// answers back to row keys.
func buildPrompt(requests []service.FallbackRequest, taxonomy []model.Category) string {
	var b strings.Builder

	b.WriteString(formatTaxonomy(taxonomy))
	b.WriteString("\n\n")
	b.WriteString(formatRequests(requests))
	b.WriteString("\n\nRespond with JSON array only. No explanation needed.")

	return b.String()
}

// formatTaxonomy groups categories under their parents so the model
// sees the hierarchy, not a flat ID dump.
func formatTaxonomy(taxonomy []model.Category) string {
	byParent := make(map[string][]model.Category)
	for _, c := range taxonomy {
		parent := c.ParentID
		if parent == "" {
			parent = "other"
		}
		byParent[parent] = append(byParent[parent], c)
	}

	parents := make([]string, 0, len(byParent))
	for p := range byParent {
		parents = append(parents, p)
	}
	sort.Strings(parents)

	var b strings.Builder
	b.WriteString("CATEGORY TAXONOMY:\n")
	b.WriteString(strings.Repeat("=", 50))

	for _, parent := range parents {
		fmt.Fprintf(&b, "\n\n%s:", parent)
		for _, c := range byParent[parent] {
			fmt.Fprintf(&b, "\n  - %s: %s", c.ID, c.Name)
			if c.Description != "" {
				fmt.Fprintf(&b, "\n    (%s)", c.Description)
			}
		}
	}

	return b.String()
}

func formatRequests(requests []service.FallbackRequest) string {
	var b strings.Builder
	b.WriteString("TRANSACTIONS TO CATEGORIZE:\n")
	b.WriteString(strings.Repeat("=", 50))

	for i, r := range requests {
		fmt.Fprintf(&b, "\n[Row %d] %s | %s", i+1, r.Description, r.Amount.StringFixed(2))
	}

	return b.String()
}
