package risk

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// HaltLatch persists the halted flag so a restart stays halted until an
// operator explicitly resets it.
type HaltLatch struct {
	mu          sync.RWMutex
	active      bool
	reason      string
	activatedAt time.Time
	filePath    string
	logger      *slog.Logger
}

type haltLatchState struct {
	Active      bool      `json:"active"`
	Reason      string    `json:"reason"`
	ActivatedAt time.Time `json:"activated_at"`
}

func NewHaltLatch(filePath string, logger *slog.Logger) *HaltLatch {
	hl := &HaltLatch{
		filePath: filePath,
		logger:   logger,
	}
	hl.loadState()
	return hl
}

func (hl *HaltLatch) loadState() {
	data, err := os.ReadFile(hl.filePath)
	if err != nil {
		return
	}

	var state haltLatchState
	if err := json.Unmarshal(data, &state); err != nil {
		hl.logger.Warn("failed to parse halt latch state", "error", err)
		return
	}

	hl.active = state.Active
	hl.reason = state.Reason
	hl.activatedAt = state.ActivatedAt

	if hl.active {
		hl.logger.Warn("halt latch is ACTIVE from previous session",
			"reason", hl.reason,
			"activated_at", hl.activatedAt)
	}
}

func (hl *HaltLatch) persistState() {
	state := haltLatchState{
		Active:      hl.active,
		Reason:      hl.reason,
		ActivatedAt: hl.activatedAt,
	}

	data, err := json.Marshal(state)
	if err != nil {
		hl.logger.Error("failed to marshal halt latch state", "error", err)
		return
	}

	if err := os.WriteFile(hl.filePath, data, 0644); err != nil {
		hl.logger.Error("failed to persist halt latch state", "error", err)
	}
}

func (hl *HaltLatch) Activate(reason string) {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	hl.active = true
	hl.reason = reason
	hl.activatedAt = time.Now()
	hl.persistState()
}

func (hl *HaltLatch) Deactivate() {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	hl.active = false
	hl.reason = ""
	hl.persistState()
}

func (hl *HaltLatch) IsActive() bool {
	hl.mu.RLock()
	defer hl.mu.RUnlock()
	return hl.active
}

func (hl *HaltLatch) Reason() string {
	hl.mu.RLock()
	defer hl.mu.RUnlock()
	return hl.reason
}
