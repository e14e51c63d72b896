package delay

import (
	"math"
	"strconv"
	"strings"

	"github.com/joescharf/opsdesk/internal/models"
)

// Classification is the derived state of a tracking row.
type Classification struct {
	IsDelayed bool            `json:"is_delayed"`
	Priority  models.Priority `json:"priority"`
}

// Classify derives delay state from the elapsed hours and the threshold.
// An absent delay is never delayed and always Low.
func Classify(delay *float64, threshold float64) Classification {
	if delay == nil {
		return Classification{Priority: models.PriorityLow}
	}
	d := *delay
	switch {
	case d > threshold*2:
		return Classification{IsDelayed: true, Priority: models.PriorityHigh}
	case d > threshold:
		return Classification{IsDelayed: true, Priority: models.PriorityMedium}
	default:
		return Classification{Priority: models.PriorityLow}
	}
}

// ParseHours parses a delay cell. Blank, non-numeric and non-finite values are absent.
func ParseHours(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// NormalizeTasks forward-fills blank task cells with the last non-blank value.
// Leading blanks have nothing to inherit and stay blank.
func NormalizeTasks(raw []string) []string {
	out := make([]string, len(raw))
	current := ""
	for i, v := range raw {
		if t := strings.TrimSpace(v); t != "" {
			current = t
		}
		out[i] = current
	}
	return out
}
