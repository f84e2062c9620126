package pipeline

import (
	"fmt"
	"time"

	"github.com/joseph-ayodele/receipts-worker/constants"
	"github.com/joseph-ayodele/receipts-worker/internal/entity"
)

// RunMetrics aggregates the file results of one store pass.
type RunMetrics struct {
	Store         string
	Seen          int
	OK            int
	Warn          int
	Failed        int
	Duplicates    int
	Remaining     int
	Items         int
	TotalValue    float64
	TotalDiscount float64
	Duration      time.Duration
}

// Add folds one file result into the metrics.
func (m *RunMetrics) Add(r FileResult) {
	m.Seen++
	switch r.Outcome {
	case constants.OutcomeProcessedOK:
		m.OK++
	case constants.OutcomeProcessedWarn:
		m.Warn++
	default:
		m.Failed++
	}
	if r.Duplicate {
		m.Duplicates++
	}
	if r.Outcome.Succeeded() {
		m.Items += r.Items
		m.TotalValue = entity.RoundMoney(m.TotalValue + r.Total)
		m.TotalDiscount = entity.RoundMoney(m.TotalDiscount + r.Discount)
	}
}

// Merge adds other's counters into m. Store is left alone.
func (m *RunMetrics) Merge(other RunMetrics) {
	m.Seen += other.Seen
	m.OK += other.OK
	m.Warn += other.Warn
	m.Failed += other.Failed
	m.Duplicates += other.Duplicates
	m.Remaining += other.Remaining
	m.Items += other.Items
	m.TotalValue = entity.RoundMoney(m.TotalValue + other.TotalValue)
	m.TotalDiscount = entity.RoundMoney(m.TotalDiscount + other.TotalDiscount)
	m.Duration += other.Duration
}

// AppStatus maps the pass onto the apps.status value.
func (m RunMetrics) AppStatus(passErr error) constants.AppStatus {
	switch {
	case passErr != nil || m.Failed > 0:
		return constants.AppStatusFail
	case m.Warn > 0:
		return constants.AppStatusWarn
	default:
		return constants.AppStatusOK
	}
}

// Description is the one-line summary stored on the apps row.
func (m RunMetrics) Description() string {
	return fmt.Sprintf("seen=%d ok=%d warn=%d fail=%d dup=%d items=%d total=%.2f",
		m.Seen, m.OK, m.Warn, m.Failed, m.Duplicates, m.Items, m.TotalValue)
}

// LogAttrs returns the metrics as slog key/value pairs.
func (m RunMetrics) LogAttrs() []any {
	return []any{
		"store", m.Store,
		"seen", m.Seen,
		"ok", m.OK,
		"warn", m.Warn,
		"fail", m.Failed,
		"duplicates", m.Duplicates,
		"remaining", m.Remaining,
		"items", m.Items,
		"total_value", m.TotalValue,
		"total_discount", m.TotalDiscount,
		"duration_ms", m.Duration.Milliseconds(),
	}
}
