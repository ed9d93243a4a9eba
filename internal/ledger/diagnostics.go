package ledger

import (
	"github.com/bobmcallan/tally/internal/models"
)

// Collector accumulates one diagnostic per problematic transfer group.
type Collector struct {
	seen  map[models.TransferKey]bool
	items []models.TransferDiagnostic
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{seen: make(map[models.TransferKey]bool)}
}

func (c *Collector) add(g *transferGroup, issue models.TransferIssue) {
	if c.seen[g.key] {
		return
	}
	c.seen[g.key] = true

	ids := make([]int64, 0, len(g.legs))
	for _, leg := range g.legs {
		ids = append(ids, leg.ID)
	}
	c.items = append(c.items, models.TransferDiagnostic{
		Key:      g.key.String(),
		AssetID:  g.key.AssetID,
		DateTime: g.legs[0].DateTime.UTC(),
		Issue:    issue,
		LegIDs:   ids,
	})
}

// Diagnostics returns a copy of the diagnostics in discovery order.
func (c *Collector) Diagnostics() []models.TransferDiagnostic {
	out := make([]models.TransferDiagnostic, len(c.items))
	copy(out, c.items)
	return out
}

// CountByIssue tallies diagnostics per issue kind.
func CountByIssue(diags []models.TransferDiagnostic) map[models.TransferIssue]int {
	counts := make(map[models.TransferIssue]int)
	for _, d := range diags {
		counts[d.Issue]++
	}
	return counts
}
