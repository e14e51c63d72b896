package delay

import (
	"math"
	"sort"
)

// DefaultThresholdHours applies to any task without a configured threshold.
const DefaultThresholdHours = 24.0

var defaultThresholds = map[string]float64{
	"Apply for entry Visa":                                         24,
	"Apply for Work Permit - Stage 1":                              10000,
	"Check Entry Visa Immigration Approval":                        24,
	"Check ID application type":                                    24,
	"Collect Documents (with missing documents)":                   10000,
	"Fill Information":                                             10000,
	"Fix the problem of entry visa (MV)":                           48,
	"Modify EID Application":                                       240,
	"Pending medical certificate approval from DHA":                72,
	"Prepare EID Application (Receival Automated)":                 48,
	"Prepare EID application (Receival Automated)":                 48,
	"Prepare EID Application for Modification":                     48,
	"Prepare folder containing E-visa medical application and EID": 72,
	"Receipt of EID Card (Card is not printed)":                    168,
	"Receipt of EID Card (Card is printed)":                        168,
	"Repeat Medical":                                               72,
	"Upload Contract to Tasheel (Tawjeeh is done)":                 10000,
	"Waiting for Personal Photo":                                   10000,
	"Waiting for the maid to go to medical test(CC)":               72,
	"Waiting for the maid to go to medical test(MV)":               72,
}

// Thresholds maps a task name to its delay limit in hours.
// Task names match exactly; no case folding or trimming.
type Thresholds struct {
	hours map[string]float64
}

// TaskThreshold is one entry of a Thresholds snapshot.
type TaskThreshold struct {
	Task  string  `json:"task"`
	Hours float64 `json:"hours"`
}

// DefaultThresholds returns a fresh copy of the known visa-processing thresholds.
func DefaultThresholds() *Thresholds {
	t := &Thresholds{hours: make(map[string]float64, len(defaultThresholds))}
	for k, v := range defaultThresholds {
		t.hours[k] = v
	}
	return t
}

// Lookup returns the threshold for task, or DefaultThresholdHours when unknown.
func (t *Thresholds) Lookup(task string) float64 {
	if h, ok := t.hours[task]; ok {
		return h
	}
	return DefaultThresholdHours
}

// Update overwrites entries whose new value is a positive finite number and
// silently skips the rest. It returns the tasks that were applied, sorted.
func (t *Thresholds) Update(changes map[string]float64) []string {
	var applied []string
	for task, h := range changes {
		if !validHours(h) {
			continue
		}
		t.hours[task] = h
		applied = append(applied, task)
	}
	sort.Strings(applied)
	return applied
}

// Snapshot returns every configured threshold sorted by task name.
func (t *Thresholds) Snapshot() []TaskThreshold {
	out := make([]TaskThreshold, 0, len(t.hours))
	for k, v := range t.hours {
		out = append(out, TaskThreshold{Task: k, Hours: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Task < out[j].Task })
	return out
}

// Clone returns an independent copy.
func (t *Thresholds) Clone() *Thresholds {
	c := &Thresholds{hours: make(map[string]float64, len(t.hours))}
	for k, v := range t.hours {
		c.hours[k] = v
	}
	return c
}

func validHours(h float64) bool {
	return h > 0 && !math.IsInf(h, 0) && !math.IsNaN(h)
}
