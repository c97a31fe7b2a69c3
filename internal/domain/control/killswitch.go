// Package control holds the process-wide security controls: the kill
// switch and the lockdown posture. Both are singletons owned by the
// security core, initialised once from the environment.
package control

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alexedwards/argon2id"
)

// DefaultConfirmCode deactivates the kill switch when no override is
// configured.
const DefaultConfirmCode = "CONFIRM_DEACTIVATE"

// KillSwitchState is a snapshot of the kill switch.
type KillSwitchState struct {
	Enabled     bool      `json:"enabled"`
	ActivatedAt time.Time `json:"activated_at,omitzero"`
	ActivatedBy string    `json:"activated_by,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// KillSwitch is the master deny. Activation is unconditional; deactivation
// requires the configured confirm code. The code is held as an argon2id
// hash so the plaintext does not live in process memory after init.
type KillSwitch struct {
	mu       sync.RWMutex
	state    KillSwitchState
	codeHash string
	logger   *slog.Logger
}

// NewKillSwitch creates a kill switch guarded by confirmCode (empty means
// DefaultConfirmCode).
func NewKillSwitch(confirmCode string, logger *slog.Logger) (*KillSwitch, error) {
	if confirmCode == "" {
		confirmCode = DefaultConfirmCode
	}
	if logger == nil {
		logger = slog.Default()
	}
	hash, err := argon2id.CreateHash(confirmCode, argon2id.DefaultParams)
	if err != nil {
		return nil, err
	}
	return &KillSwitch{codeHash: hash, logger: logger}, nil
}

// Activate turns the kill switch on. Always succeeds.
func (k *KillSwitch) Activate(reason, activatedBy string) {
	k.mu.Lock()
	k.state = KillSwitchState{
		Enabled:     true,
		ActivatedAt: time.Now().UTC(),
		ActivatedBy: activatedBy,
		Reason:      reason,
	}
	k.mu.Unlock()

	k.logger.Error("kill switch activated",
		"reason", reason,
		"activated_by", activatedBy,
	)
}

// Deactivate turns the kill switch off iff confirmCode matches the
// configured code. A wrong code leaves the state unchanged, logs the
// incident, and returns false.
func (k *KillSwitch) Deactivate(deactivatedBy, confirmCode string) bool {
	match, err := argon2id.ComparePasswordAndHash(confirmCode, k.codeHash)
	if err != nil || !match {
		k.logger.Warn("kill switch deactivation rejected: wrong confirm code",
			"deactivated_by", deactivatedBy,
		)
		return false
	}

	k.mu.Lock()
	k.state = KillSwitchState{}
	k.mu.Unlock()

	k.logger.Info("kill switch deactivated", "deactivated_by", deactivatedBy)
	return true
}

// IsActive reports whether the kill switch is on.
func (k *KillSwitch) IsActive() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state.Enabled
}

// State returns a snapshot of the kill switch.
func (k *KillSwitch) State() KillSwitchState {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state
}
