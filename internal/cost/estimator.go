// Package cost estimates maintenance plan costs by matching plan text
// against the materials catalog.
package cost

import (
	"strings"

	"github.com/sisdrone/field-controller/internal/storage"
)

// laborFactor covers labor and incidental costs on top of materials
const laborFactor = 1.4

// EstimatePlan sums the unit price of every catalog material whose match
// keys appear in the plan text, counting each material at most once, then
// applies the labor factor. Matching is case-insensitive substring search;
// quantities are not extracted from the text.
func EstimatePlan(planText string, materials []*storage.Material) float64 {
	normalized := strings.ToLower(planText)

	total := 0.0
	for _, m := range materials {
		for _, key := range strings.Split(m.MatchKeys, ",") {
			key = strings.ToLower(strings.TrimSpace(key))
			if key != "" && strings.Contains(normalized, key) {
				total += m.UnitPrice
				break
			}
		}
	}

	return total * laborFactor
}
