package trust

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clawguard/clawguard/internal/domain/redact"
	"github.com/clawguard/clawguard/internal/domain/sanitize"
)

// DefaultQuarantineTTL is how long quarantine entries live before the
// periodic sweep removes them.
const DefaultQuarantineTTL = time.Hour

// PrepareRequest asks for a reasoning bundle built from a quarantine entry.
type PrepareRequest struct {
	QuarantineID  string
	UserCommand   string
	ToolSchemas   []string
	SystemContext string
}

// Store quarantines external content and tracks memory provenance.
// All access is mutex-guarded; entries are immutable once created.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]*QuarantineEntry
	provenance map[string]*MemoryProvenance

	sanitizer *sanitize.Sanitizer
	redactor  *redact.Redactor
	logger    *slog.Logger
	ttl       time.Duration
}

// NewStore creates a quarantine/provenance store with the default TTL.
func NewStore(sanitizer *sanitize.Sanitizer, redactor *redact.Redactor, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		entries:    make(map[string]*QuarantineEntry),
		provenance: make(map[string]*MemoryProvenance),
		sanitizer:  sanitizer,
		redactor:   redactor,
		logger:     logger,
		ttl:        DefaultQuarantineTTL,
	}
}

// SetTTL overrides the quarantine TTL. Zero or negative keeps the default.
func (s *Store) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		s.ttl = ttl
	}
}

// HashContent returns the hex SHA-256 of content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Quarantine sanitizes content from an external source and stores it in
// the untrusted zone. The assigned trust level is fixed for the entry's
// lifetime.
func (s *Store) Quarantine(content string, source Source, metadata map[string]string) *QuarantineEntry {
	detail := s.sanitizer.SanitizeDetailed(content, sanitize.DefaultOptions())

	entry := &QuarantineEntry{
		ID:               uuid.NewString(),
		RawContent:       content,
		SanitizedContent: detail.Sanitized,
		Source:           source,
		TrustLevel:       LevelForSource(source),
		ContentHash:      HashContent(content),
		QuarantinedAt:    time.Now().UTC(),
		Metadata:         metadata,
		Detections:       len(detail.Detections),
		MaxSeverity:      string(detail.MaxSeverity()),
	}

	s.mu.Lock()
	s.entries[entry.ID] = entry
	s.mu.Unlock()

	if entry.Detections > 0 {
		s.logger.Warn("injection patterns detected in quarantined content",
			"quarantine_id", entry.ID,
			"source", source,
			"detections", entry.Detections,
			"max_severity", entry.MaxSeverity,
		)
	}
	return entry
}

// GetEntry returns a copy of the quarantine entry, or false if unknown.
// The raw content is not included in the copy.
func (s *Store) GetEntry(id string) (QuarantineEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return QuarantineEntry{}, false
	}
	copied := *entry
	copied.RawContent = ""
	return copied, true
}

// ListEntries returns copies of all quarantine entries, raw content elided.
func (s *Store) ListEntries() []QuarantineEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]QuarantineEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		copied := *entry
		copied.RawContent = ""
		out = append(out, copied)
	}
	return out
}

// PrepareForReasoning builds the bundle handed to the reasoning layer.
// Returns false when the quarantine id is unknown. Raw content never
// leaves this function: the bundle carries the sanitized form wrapped in
// the external-content notice, and tool schemas plus system context are
// passed through the redactor.
func (s *Store) PrepareForReasoning(req PrepareRequest) (ReasoningInput, bool) {
	s.mu.RLock()
	entry, ok := s.entries[req.QuarantineID]
	s.mu.RUnlock()
	if !ok {
		return ReasoningInput{}, false
	}

	sender := entry.Metadata["sender"]
	subject := entry.Metadata["subject"]
	wrapped := s.sanitizer.WrapExternal(entry.SanitizedContent, string(entry.Source), sender, subject)

	schemas := make([]string, 0, len(req.ToolSchemas))
	for _, schema := range req.ToolSchemas {
		schemas = append(schemas, s.redactor.Redact(schema).Redacted)
	}

	return ReasoningInput{
		WrappedContent: wrapped,
		UserCommand:    req.UserCommand,
		ToolSchemas:    schemas,
		SystemContext:  s.redactor.Redact(req.SystemContext).Redacted,
		TrustLevel:     entry.TrustLevel,
		QuarantineID:   entry.ID,
	}, true
}

// ValidateToolCallOrigin rejects tool calls originating in the untrusted
// zone. Reasoning and execution origins are accepted; the latter permits
// tool chaining.
func (s *Store) ValidateToolCallOrigin(sourceZone Zone, tool string) OriginCheck {
	switch sourceZone {
	case ZoneReasoning, ZoneExecution:
		return OriginCheck{Valid: true}
	case ZoneUntrusted:
		return OriginCheck{
			Valid:  false,
			Reason: fmt.Sprintf("tool call %q originates in the untrusted zone and cannot execute", tool),
		}
	default:
		return OriginCheck{
			Valid:  false,
			Reason: fmt.Sprintf("tool call %q has unknown source zone %q", tool, sourceZone),
		}
	}
}

// CleanupQuarantine removes entries older than maxAge and returns how many
// were removed. maxAge zero wipes the store (the dashboard's delete-all).
func (s *Store) CleanupQuarantine(maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.entries {
		if maxAge <= 0 || entry.QuarantinedAt.Before(cutoff) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs periodic quarantine and provenance cleanup until the
// stop channel closes.
func (s *Store) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				removedQ := s.CleanupQuarantine(s.ttl)
				removedP := s.CleanupMemoryProvenance()
				if removedQ > 0 || removedP > 0 {
					s.logger.Debug("trust store sweep",
						"quarantine_removed", removedQ,
						"provenance_removed", removedP,
					)
				}
			}
		}
	}()
}
