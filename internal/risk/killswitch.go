package risk

import (
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

var ErrResetNeedsOverride = errors.New("kill switch reset requires admin override")

// KillSwitch is the process-wide emergency stop. It is an injectable
// service rather than package state so visibility and reset rules stay
// explicit and testable.
type KillSwitch struct {
	mu        sync.RWMutex
	active    bool
	reason    string
	triggered time.Time
}

// NewKillSwitch creates an inactive kill switch.
func NewKillSwitch() *KillSwitch {
	return &KillSwitch{}
}

// Active reports whether the switch is engaged.
func (k *KillSwitch) Active() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active
}

// State returns the engaged flag with its reason and trigger time.
func (k *KillSwitch) State() (bool, string, time.Time) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active, k.reason, k.triggered
}

// Trigger engages the switch. The first reason wins; later triggers while
// engaged are ignored.
func (k *KillSwitch) Trigger(reason string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.active {
		return
	}
	k.active = true
	k.reason = reason
	k.triggered = time.Now().UTC()
	logs.Errorf("kill switch triggered: %s", reason)
}

// Reset disengages the switch. It must never succeed as a side effect of a
// normal validation call; callers pass override only on an explicit
// administrative action.
func (k *KillSwitch) Reset(override bool) error {
	if !override {
		return ErrResetNeedsOverride
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.active {
		return nil
	}
	k.active = false
	k.reason = ""
	k.triggered = time.Time{}
	logs.Warn("kill switch reset by admin override")
	return nil
}
