package trust

import (
	"time"

	"github.com/google/uuid"
)

// CreateMemoryProvenance records provenance for a new memory entry and
// returns the stored record. The trust level is derived from the source
// and never changes afterwards. expiresIn <= 0 means the record does not
// expire.
func (s *Store) CreateMemoryProvenance(sourceType Source, contentHash string, expiresIn time.Duration, metadata map[string]string) MemoryProvenance {
	now := time.Now().UTC()
	prov := MemoryProvenance{
		ID:          uuid.NewString(),
		SourceType:  sourceType,
		TrustLevel:  LevelForSource(sourceType),
		CreatedAt:   now,
		ContentHash: contentHash,
		Metadata:    metadata,
	}
	if expiresIn > 0 {
		prov.ExpiresAt = now.Add(expiresIn)
	}

	s.mu.Lock()
	s.provenance[prov.ID] = &prov
	s.mu.Unlock()
	return prov
}

// GetMemoryProvenance returns a copy of the provenance record, or false
// if unknown.
func (s *Store) GetMemoryProvenance(id string) (MemoryProvenance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prov, ok := s.provenance[id]
	if !ok {
		return MemoryProvenance{}, false
	}
	return *prov, true
}

// IsMemoryTrustedForPlanning reports whether the memory behind id may
// influence planning: its provenance must be present, unexpired, and at
// least medium trust.
func (s *Store) IsMemoryTrustedForPlanning(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prov, ok := s.provenance[id]
	if !ok {
		return false
	}
	if !prov.ExpiresAt.IsZero() && time.Now().UTC().After(prov.ExpiresAt) {
		return false
	}
	return prov.TrustLevel.AtLeast(LevelMedium)
}

// CleanupMemoryProvenance removes expired provenance records and returns
// how many were removed.
func (s *Store) CleanupMemoryProvenance() int {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, prov := range s.provenance {
		if !prov.ExpiresAt.IsZero() && now.After(prov.ExpiresAt) {
			delete(s.provenance, id)
			removed++
		}
	}
	return removed
}
