// Package health implements the Asset Health Index (AHI) scoring model and
// the remaining-service-life projection for pole assets.
//
// Both are deliberately simple linear models: maintenance planners need
// scores an engineer can recompute by hand, so auditability wins over
// predictive sophistication.
package health

import (
	"math"
	"strings"
	"time"

	"github.com/sisdrone/field-controller/internal/storage"
)

// FailureThreshold is the AHI value below which an asset is considered
// end-of-life for projection purposes.
const FailureThreshold = 30

// FallbackInstallYear is assumed when a pole has no installation date.
// Treating missing data as an old asset keeps the age penalty conservative.
const FallbackInstallYear = 2000

// Assessment is a condition classification produced by the vision
// collaborator. Condition is free text from the upstream model, matched
// against keyword sets rather than an enum, because the classifier
// vocabulary is not contractually fixed.
type Assessment struct {
	Condition  string  `json:"condition"`
	Confidence float64 `json:"confidence"`
}

// Keyword sets for condition penalties. Checked in order: critical first.
var (
	criticalKeywords = []string{"crítica", "critical", "trinca", "corrosão"}
	warningKeywords  = []string{"atenção", "warning", "desgaste"}
)

// ComputeHealthIndex derives a 0-100 AHI score for a pole from its age, an
// optional condition assessment, and an environmental modifier. The result
// is clamped to [0,100]. The caller is responsible for persisting the score.
func ComputeHealthIndex(pole *storage.Pole, assessment *Assessment, now time.Time) int {
	score := 100

	// Age factor: one point per full year of service.
	installYear := FallbackInstallYear
	if !pole.InstalledAt.IsZero() {
		installYear = pole.InstalledAt.Year()
	}
	age := now.Year() - installYear
	if age > 0 {
		score -= age
	}

	// AI condition factor.
	if assessment != nil {
		condition := strings.ToLower(assessment.Condition)
		if containsAny(condition, criticalKeywords) {
			score -= 40
		} else if containsAny(condition, warningKeywords) {
			score -= 15
		}
	}

	// Environmental factor. Even ids stand in for coastal exposure; this is
	// a placeholder until a real geospatial exposure input is available.
	if pole.ID != 0 && pole.ID%2 == 0 {
		score -= 5
	}

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// HistoryPoint is one point of the projected health trend
type HistoryPoint struct {
	Year  int `json:"year"`
	Score int `json:"score"`
}

// Prediction is a remaining-service-life projection for a pole. It is
// derived on demand and never persisted.
type Prediction struct {
	EstimatedEOLDate time.Time      `json:"estimated_eol_date"`
	YearsRemaining   float64        `json:"years_remaining"`
	DecayRate        float64        `json:"decay_rate"` // AHI points lost per year
	Confidence       float64        `json:"confidence"`
	HealthHistory    []HistoryPoint `json:"health_history"`
}

// materialLifespans maps a normalized material name to its expected total
// service life in years.
var materialLifespans = map[string]int{
	"concreto": 40,
	"concrete": 40,
	"madeira":  25,
	"wood":     25,
	"metal":    35,
	"steel":    35,
	"ferro":    35,
}

const defaultLifespanYears = 30

// PredictLifespan extrapolates when a pole's AHI will cross the failure
// threshold, using the material's baseline decay rate or, once there is
// enough history to measure it, the observed historical rate.
func PredictLifespan(pole *storage.Pole, now time.Time) *Prediction {
	currentYear := now.Year()

	installDate := pole.InstalledAt
	if installDate.IsZero() {
		// No install data: treat the asset as already mature.
		installDate = time.Date(currentYear-10, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	installYear := installDate.Year()
	age := currentYear - installYear

	currentScore := pole.AHIScore

	lifespan, ok := materialLifespans[strings.ToLower(pole.Material)]
	if !ok {
		lifespan = defaultLifespanYears
	}

	// Baseline decay from the material class; the observed rate supersedes
	// it once the asset has measurable history.
	decayRate := 100.0 / float64(lifespan)
	if age > 2 && currentScore < 100 {
		decayRate = float64(100-currentScore) / float64(age)
	}
	if decayRate < 0.5 {
		decayRate = 0.5
	}

	pointsToLose := float64(currentScore - FailureThreshold)
	yearsRemaining := pointsToLose / decayRate
	if yearsRemaining < 0 {
		yearsRemaining = 0
	}

	eolYear := currentYear + int(math.Round(yearsRemaining))
	// Reuse the installation month/day so the projected date is stable
	// across recomputations within a year.
	eolDate := time.Date(eolYear, installDate.Month(), installDate.Day(), 0, 0, 0, 0, time.UTC)

	confidence := 0.5
	if age > 5 {
		confidence = 0.85
	}

	return &Prediction{
		EstimatedEOLDate: eolDate,
		YearsRemaining:   math.Round(yearsRemaining*10) / 10,
		DecayRate:        math.Round(decayRate*100) / 100,
		Confidence:       confidence,
		HealthHistory: []HistoryPoint{
			{Year: installYear, Score: 100},
			{Year: currentYear, Score: currentScore},
			{Year: eolYear, Score: FailureThreshold},
		},
	}
}
