// Package history computes score change audit entries.
package history

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// entryNamespace scopes deterministic history entry IDs.
var entryNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://kestrel.opensource.finance/score-history"))

// Record returns the audit entry for a scoring event, or false when the
// composite did not change. Without a previous score the previous value is 0.
// The result depends only on its inputs: retries produce the same entry ID.
func Record(leadID string, previousScore float64, hasPrevious bool, breakdown domain.ScoreBreakdown, prior *domain.ScoreBreakdown, at time.Time) (*domain.ScoreHistoryEntry, bool) {
	previous := 0.0
	if hasPrevious {
		previous = previousScore
	}
	delta := round2(breakdown.Composite - previous)
	if delta == 0 {
		return nil, false
	}

	return &domain.ScoreHistoryEntry{
		ID:             EntryID(leadID, previous, breakdown.Composite, breakdown.RulesetVersion),
		LeadID:         leadID,
		PreviousScore:  previous,
		NewScore:       breakdown.Composite,
		Delta:          delta,
		Reason:         Reason(breakdown, prior),
		RulesetVersion: breakdown.RulesetVersion,
		CreatedAt:      at.UTC(),
	}, true
}

// Reason names the factor that moved most since prior.
func Reason(breakdown domain.ScoreBreakdown, prior *domain.ScoreBreakdown) string {
	if prior == nil {
		return "initial scoring"
	}
	best, bestDelta := "", 0.0
	for _, name := range domain.Factors {
		d := round2(breakdown.Factor(name) - prior.Factor(name))
		if math.Abs(d) > math.Abs(bestDelta) {
			best, bestDelta = name, d
		}
	}
	if best == "" {
		return "score recalculated"
	}
	direction := "increased"
	if bestDelta < 0 {
		direction = "decreased"
	}
	return fmt.Sprintf("%s score %s by %.2f", best, direction, math.Abs(bestDelta))
}

// EntryID derives a stable UUIDv5 from the identifying fields of an entry.
func EntryID(leadID string, previous, next float64, version string) string {
	name := leadID + "|" +
		strconv.FormatFloat(previous, 'f', 2, 64) + "|" +
		strconv.FormatFloat(next, 'f', 2, 64) + "|" +
		version
	return uuid.NewSHA1(entryNamespace, []byte(name)).String()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
