package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/clawguard/clawguard/internal/domain/policy"
	"github.com/clawguard/clawguard/internal/domain/redact"
)

const (
	// maxEntries bounds the in-memory ring (newest first).
	maxEntries = 10_000
	// maxSummaries bounds the run summary index (oldest evicted).
	maxSummaries = 1000
	// defaultListLimit applies when a filter has no limit.
	defaultListLimit = 50
)

// Trail is the append-only audit log. Entries are stored newest first;
// run-scoped reads return chronological order. Logging never fails: an
// internal problem is written to stderr and the caller proceeds.
type Trail struct {
	mu        sync.Mutex
	entries   []Entry // newest first
	summaries map[string]*RunSummary
	runOrder  []string // creation order, for oldest-first eviction
	nextID    uint64
	redactor  *redact.Redactor
	logger    *slog.Logger
}

// NewTrail creates an empty audit trail.
func NewTrail(redactor *redact.Redactor, logger *slog.Logger) *Trail {
	if redactor == nil {
		redactor = redact.NewRedactor()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Trail{
		summaries: make(map[string]*RunSummary),
		redactor:  redactor,
		logger:    logger,
	}
}

// Log assigns the entry an id and timestamp, redacts its free-text
// fields, prepends it to the ring, and folds it into the run summary.
// The stored entry is returned.
func (t *Trail) Log(entry Entry) Entry {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "audit log failure: %v\n", r)
		}
	}()

	entry.Input = t.redactor.Redact(entry.Input).Redacted
	entry.Output = t.redactor.Redact(entry.Output).Redacted
	entry.Error = t.redactor.Redact(entry.Error).Redacted
	entry.Reason = t.redactor.Redact(entry.Reason).Redacted

	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	entry.ID = t.nextID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	t.entries = append([]Entry{entry}, t.entries...)
	if len(t.entries) > maxEntries {
		t.entries = t.entries[:maxEntries]
	}

	t.updateSummaryLocked(&entry)
	return entry
}

// updateSummaryLocked folds one entry into its run summary, creating the
// summary lazily. Caller holds the lock.
func (t *Trail) updateSummaryLocked(entry *Entry) {
	if entry.RunID == "" {
		return
	}
	summary, ok := t.summaries[entry.RunID]
	if !ok {
		summary = &RunSummary{
			RunID:     entry.RunID,
			UserID:    entry.UserID,
			OrgID:     entry.OrgID,
			StartedAt: entry.Timestamp,
			Status:    RunRunning,
		}
		t.summaries[entry.RunID] = summary
		t.runOrder = append(t.runOrder, entry.RunID)
		if len(t.runOrder) > maxSummaries {
			oldest := t.runOrder[0]
			t.runOrder = t.runOrder[1:]
			delete(t.summaries, oldest)
		}
	}
	if summary.UserID == "" {
		summary.UserID = entry.UserID
	}
	if summary.OrgID == "" {
		summary.OrgID = entry.OrgID
	}

	switch entry.EventType {
	case EventRunStart:
		summary.StartedAt = entry.Timestamp
	case EventToolCall:
		summary.ToolCalls++
	case EventLLMCall:
		summary.LLMCalls++
		summary.TotalTokens += entry.Tokens
		summary.TotalCostUSD += entry.CostUSD
	case EventPolicyDecision:
		if entry.Decision == policy.KindDeny {
			summary.PolicyDenials++
		}
	case EventRunComplete:
		if summary.Status == RunRunning {
			summary.Status = RunCompleted
		}
		summary.CompletedAt = entry.Timestamp
	case EventError:
		if summary.Status == RunRunning {
			summary.Status = RunFailed
		}
		summary.CompletedAt = entry.Timestamp
	}

	summary.MaxRiskLevelSeen = summary.MaxRiskLevelSeen.Max(entry.RiskLevel)
}

// MarkRunDenied sets a run's terminal status to denied. Used when policy
// blocked the run before any other outcome.
func (t *Trail) MarkRunDenied(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if summary, ok := t.summaries[runID]; ok && summary.Status == RunRunning {
		summary.Status = RunDenied
		summary.CompletedAt = time.Now().UTC()
	}
}

// RunTrail returns the run's entries in chronological order.
func (t *Trail) RunTrail(runID string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Entry
	// Ring is newest first; walk backwards for chronological order.
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].RunID == runID {
			out = append(out, t.entries[i])
		}
	}
	return out
}

// Recent returns up to limit entries, newest first.
func (t *Trail) Recent(limit int) []Entry {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit > len(t.entries) {
		limit = len(t.entries)
	}
	return append([]Entry(nil), t.entries[:limit]...)
}

// RunSummaryFor returns the run's summary, or false if unknown.
func (t *Trail) RunSummaryFor(runID string) (RunSummary, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	summary, ok := t.summaries[runID]
	if !ok {
		return RunSummary{}, false
	}
	return *summary, true
}

// ListRuns returns run summaries matching the filter, ordered by
// descending start time, plus the total match count before paging.
func (t *Trail) ListRuns(filter ListFilter) ([]RunSummary, int) {
	t.mu.Lock()
	var matched []RunSummary
	for _, summary := range t.summaries {
		if filter.UserID != "" && summary.UserID != filter.UserID {
			continue
		}
		if filter.OrgID != "" && summary.OrgID != filter.OrgID {
			continue
		}
		if filter.Status != "" && summary.Status != filter.Status {
			continue
		}
		if filter.RiskLevel != "" && summary.MaxRiskLevelSeen != filter.RiskLevel {
			continue
		}
		matched = append(matched, *summary)
	}
	t.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	total := len(matched)
	offset := filter.Offset
	if offset > total {
		offset = total
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total
}

// ExportRun serializes one run as a self-contained JSON document with the
// redaction notice. Entries are chronological.
func (t *Trail) ExportRun(runID string) (string, error) {
	entries := t.RunTrail(runID)
	summary, ok := t.RunSummaryFor(runID)

	export := Export{
		RunID:      runID,
		Entries:    entries,
		ExportedAt: time.Now().UTC(),
		Notice:     ExportNotice,
	}
	if ok {
		export.Summary = &summary
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return "", fmt.Errorf("export run %s: %w", runID, err)
	}
	return string(data), nil
}

// StatsSnapshot returns trail-wide counts.
func (t *Trail) StatsSnapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := Stats{
		TotalRuns:    len(t.summaries),
		TotalEntries: len(t.entries),
		RunsByStatus: make(map[RunStatus]int),
		RunsByRisk:   make(map[policy.RiskLevel]int),
	}
	for _, summary := range t.summaries {
		stats.RunsByStatus[summary.Status]++
		if summary.MaxRiskLevelSeen != "" {
			stats.RunsByRisk[summary.MaxRiskLevelSeen]++
		}
	}
	return stats
}
