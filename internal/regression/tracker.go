// Package regression tracks recurring failure patterns per test script.
// Detections are deduplicated to one active regression per (script,
// category); regressions resolve either manually or automatically when the
// script passes cleanly again.
package regression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/atparisi/revq/internal/models"
	"github.com/atparisi/revq/internal/store"
)

// Detection is one observed failure for a script.
type Detection struct {
	ScriptID string
	Category models.RegressionCategory
	Details  models.RegressionDetails
}

// Tracker maintains regression records over a store.
type Tracker struct {
	store  store.Store
	logger *slog.Logger
}

// NewTracker creates a tracker. A nil logger uses slog's default.
func NewTracker(s store.Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: s, logger: logger}
}

// SeverityFor assigns a severity to a new detection. Status flips are
// always high; LLM decision changes medium. Metric drift scales with the
// magnitude of the change. Unknown categories default to medium.
func SeverityFor(category models.RegressionCategory, details models.RegressionDetails) models.RegressionSeverity {
	switch category {
	case models.RegressionCategoryStatus:
		return models.SeverityHigh
	case models.RegressionCategoryLLM:
		return models.SeverityMedium
	case models.RegressionCategoryMetric:
		change := math.Abs(details.ChangePct)
		switch {
		case change > 20:
			return models.SeverityHigh
		case change > 10:
			return models.SeverityMedium
		default:
			return models.SeverityLow
		}
	default:
		return models.SeverityMedium
	}
}

// Record registers a detection. A repeat of an active regression updates
// it in place (occurrence count, last seen, latest details); a first
// detection creates a new active regression. Overlapping detections are
// never an error. The returned bool is true when a new regression was
// created.
func (t *Tracker) Record(ctx context.Context, d Detection) (*models.Regression, bool, error) {
	if d.ScriptID == "" {
		return nil, false, fmt.Errorf("detection script id is required")
	}
	now := time.Now().UTC()

	existing, err := t.store.FindActiveRegression(ctx, d.ScriptID, d.Category)
	if err == nil {
		if err := t.store.TouchRegression(ctx, existing.ID, d.Details, now); err != nil {
			return nil, false, err
		}
		updated, err := t.store.GetRegression(ctx, existing.ID)
		if err != nil {
			return nil, false, err
		}
		t.logger.Debug("regression repeat detection",
			"regression_id", updated.ID,
			"script_id", d.ScriptID,
			"category", d.Category,
			"occurrence_count", updated.OccurrenceCount)
		return updated, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	reg := &models.Regression{
		ScriptID:      d.ScriptID,
		Category:      d.Category,
		Severity:      SeverityFor(d.Category, d.Details),
		Status:        models.RegressionStatusActive,
		DetectionDate: now,
		LastSeenDate:  now,
		Details:       d.Details,
	}
	if err := t.store.CreateRegression(ctx, reg); err != nil {
		return nil, false, err
	}
	t.logger.Info("regression detected",
		"regression_id", reg.ID,
		"script_id", d.ScriptID,
		"category", d.Category,
		"severity", reg.Severity)
	return reg, true, nil
}

// Resolve marks a regression resolved with a note from the resolver.
func (t *Tracker) Resolve(ctx context.Context, id, resolvedBy, note string) error {
	return t.store.ResolveRegression(ctx, id, resolvedBy, note, time.Now().UTC())
}

// AutoResolvePassingTests resolves every active regression for a script
// after one of its runs passes cleanly. The bar is deliberately coarse:
// script-level, all categories at once. Returns the resolved regressions;
// empty when none were active.
func (t *Tracker) AutoResolvePassingTests(ctx context.Context, scriptID string) ([]*models.Regression, error) {
	active, err := t.store.ListRegressions(ctx, store.RegressionFilter{
		ScriptID: scriptID,
		Status:   models.RegressionStatusActive,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	resolved := make([]*models.Regression, 0, len(active))
	for _, r := range active {
		err := t.store.ResolveRegression(ctx, r.ID, "auto", "script passed on subsequent run", now)
		if errors.Is(err, store.ErrNotFound) {
			// resolved concurrently
			continue
		}
		if err != nil {
			return resolved, err
		}
		t.logger.Info("regression auto-resolved",
			"regression_id", r.ID,
			"script_id", scriptID,
			"category", r.Category)
		updated, err := t.store.GetRegression(ctx, r.ID)
		if err != nil {
			return resolved, err
		}
		resolved = append(resolved, updated)
	}
	return resolved, nil
}

// CreateDefectFromRegression spawns a defect carrying a snapshot of the
// regression's category-specific details. The defect id is linked back
// onto the regression.
func (t *Tracker) CreateDefectFromRegression(ctx context.Context, regressionID, createdBy string, severityOverride models.RegressionSeverity, additionalNotes string) (*models.Defect, error) {
	reg, err := t.store.GetRegression(ctx, regressionID)
	if err != nil {
		return nil, err
	}

	severity := reg.Severity
	if severityOverride != "" {
		severity = severityOverride
	}

	description := describeRegression(reg)
	if additionalNotes != "" {
		description += "\n\n" + additionalNotes
	}

	defect := &models.Defect{
		RegressionID: reg.ID,
		Title:        defectTitle(reg),
		Description:  description,
		Severity:     severity,
		CreatedBy:    createdBy,
	}
	if err := t.store.CreateDefect(ctx, defect); err != nil {
		return nil, err
	}
	if err := t.store.LinkDefect(ctx, reg.ID, defect.ID); err != nil {
		return nil, err
	}
	return defect, nil
}

func defectTitle(r *models.Regression) string {
	switch r.Category {
	case models.RegressionCategoryStatus:
		return fmt.Sprintf("Status regression: %s", r.ScriptID)
	case models.RegressionCategoryLLM:
		return fmt.Sprintf("LLM decision regression: %s", r.ScriptID)
	case models.RegressionCategoryMetric:
		return fmt.Sprintf("Metric regression: %s (%s)", r.ScriptID, r.Details.MetricName)
	default:
		return fmt.Sprintf("Regression: %s", r.ScriptID)
	}
}

func describeRegression(r *models.Regression) string {
	header := fmt.Sprintf("Script %s, seen %d time(s) since %s.",
		r.ScriptID, r.OccurrenceCount, r.DetectionDate.Format("2006-01-02"))

	switch r.Category {
	case models.RegressionCategoryStatus:
		return fmt.Sprintf("%s\nStatus changed: %s → %s",
			header, r.Details.BaselineStatus, r.Details.CurrentStatus)
	case models.RegressionCategoryLLM:
		return fmt.Sprintf("%s\nLLM decision changed: %s → %s",
			header, r.Details.BaselineDecision, r.Details.CurrentDecision)
	case models.RegressionCategoryMetric:
		return fmt.Sprintf("%s\nMetric %s: baseline %.4f, current %.4f (%.1f%% change)",
			header, r.Details.MetricName, r.Details.BaselineValue,
			r.Details.CurrentValue, r.Details.ChangePct)
	default:
		return header
	}
}
