package policy

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultPreviewTimeout is how long a preview stays approvable.
const DefaultPreviewTimeout = 5 * time.Minute

// expiredRetention keeps expired previews visible for audit before the
// sweep removes them.
const expiredRetention = time.Hour

// irreversibleTools cannot be undone once executed.
var irreversibleTools = toolSet("message", "send", "email", "exec", "shell")

// irreversibleActions cannot be undone regardless of tool.
var irreversibleActions = toolSet("delete", "remove", "drop", "send")

// DeriveRiskLevel maps risk flags to a preview risk level.
func DeriveRiskLevel(risk Risk) RiskLevel {
	switch {
	case risk.AccessesSecrets:
		return RiskCritical
	case risk.IsDestructive:
		return RiskHigh
	case risk.IsExternal || risk.SendsData:
		return RiskMedium
	default:
		return RiskLow
	}
}

// DefaultReversible reports whether an action of this shape is assumed
// reversible.
func DefaultReversible(tool, action string) bool {
	if toolIn(irreversibleTools, tool) {
		return false
	}
	return !irreversibleActions[strings.ToLower(action)]
}

// PreviewRequest asks for a new pending action preview.
type PreviewRequest struct {
	Tool        string
	Action      string
	Description string
	Context     *Context
	Timeout     time.Duration
}

// PreviewStore holds pending action previews. Previews are terminal at
// the first of approve, deny, or expire; expired previews are retained
// for an hour for audit, then swept.
type PreviewStore struct {
	mu       sync.Mutex
	previews map[string]*ActionPreview
	logger   *slog.Logger
}

// NewPreviewStore creates an empty preview store.
func NewPreviewStore(logger *slog.Logger) *PreviewStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PreviewStore{
		previews: make(map[string]*ActionPreview),
		logger:   logger,
	}
}

// Create allocates a pending preview from the request.
func (s *PreviewStore) Create(req PreviewRequest) *ActionPreview {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultPreviewTimeout
	}

	var risk Risk
	if req.Context != nil {
		risk = req.Context.Risk
	}
	now := time.Now().UTC()
	preview := &ActionPreview{
		ID:          uuid.NewString(),
		Tool:        req.Tool,
		Action:      req.Action,
		Description: req.Description,
		RiskLevel:   DeriveRiskLevel(risk),
		Impacts:     deriveImpacts(risk, req.Context),
		Reversible:  DefaultReversible(req.Tool, req.Action),
		Timeout:     timeout,
		CreatedAt:   now,
		ExpiresAt:   now.Add(timeout),
		Status:      PreviewPending,
	}

	s.mu.Lock()
	s.previews[preview.ID] = preview
	s.mu.Unlock()

	s.logger.Info("action preview created",
		"preview_id", preview.ID,
		"tool", preview.Tool,
		"risk_level", preview.RiskLevel,
	)
	copied := *preview
	return &copied
}

// Approve marks a pending preview approved. Approval after expiry fails
// and marks the preview expired.
func (s *PreviewStore) Approve(id, approvedBy string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	preview, ok := s.previews[id]
	if !ok || preview.Status != PreviewPending {
		return false
	}
	if time.Now().UTC().After(preview.ExpiresAt) {
		preview.Status = PreviewExpired
		return false
	}
	preview.Status = PreviewApproved
	preview.ApprovedBy = approvedBy
	preview.ApprovedAt = time.Now().UTC()
	return true
}

// Deny marks a pending preview denied.
func (s *PreviewStore) Deny(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	preview, ok := s.previews[id]
	if !ok || preview.Status != PreviewPending {
		return false
	}
	if time.Now().UTC().After(preview.ExpiresAt) {
		preview.Status = PreviewExpired
		return false
	}
	preview.Status = PreviewDenied
	return true
}

// IsApproved reports whether the preview reached the approved state.
// A pending preview past its expiry is marked expired here.
func (s *PreviewStore) IsApproved(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	preview, ok := s.previews[id]
	if !ok {
		return false
	}
	if preview.Status == PreviewPending && time.Now().UTC().After(preview.ExpiresAt) {
		preview.Status = PreviewExpired
	}
	return preview.Status == PreviewApproved
}

// Get returns a copy of the preview, with lazy expiry applied.
func (s *PreviewStore) Get(id string) (ActionPreview, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	preview, ok := s.previews[id]
	if !ok {
		return ActionPreview{}, false
	}
	if preview.Status == PreviewPending && time.Now().UTC().After(preview.ExpiresAt) {
		preview.Status = PreviewExpired
	}
	return *preview, true
}

// ListPending returns copies of all still-pending previews.
func (s *PreviewStore) ListPending() []ActionPreview {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var pending []ActionPreview
	for _, preview := range s.previews {
		if preview.Status == PreviewPending && now.After(preview.ExpiresAt) {
			preview.Status = PreviewExpired
		}
		if preview.Status == PreviewPending {
			pending = append(pending, *preview)
		}
	}
	return pending
}

// Sweep expires overdue pending previews and removes terminal previews
// older than the retention window. Returns how many were removed.
func (s *PreviewStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	removed := 0
	for id, preview := range s.previews {
		if preview.Status == PreviewPending && now.After(preview.ExpiresAt) {
			preview.Status = PreviewExpired
		}
		if preview.Status != PreviewPending && now.After(preview.ExpiresAt.Add(expiredRetention)) {
			delete(s.previews, id)
			removed++
		}
	}
	return removed
}

// deriveImpacts builds the human-readable impact list for a preview.
func deriveImpacts(risk Risk, ctx *Context) []string {
	var impacts []string
	if risk.IsDestructive {
		impacts = append(impacts, "destroys or modifies data")
	}
	if risk.SendsData || risk.IsExternal {
		impacts = append(impacts, "sends data outside this machine")
	}
	if risk.AccessesSecrets {
		impacts = append(impacts, "touches secret material")
	}
	if risk.ModifiesConfig {
		impacts = append(impacts, "changes configuration")
	}
	if ctx != nil && ctx.Where.FilePath != "" {
		impacts = append(impacts, fmt.Sprintf("touches %s", ctx.Where.FilePath))
	}
	return impacts
}
