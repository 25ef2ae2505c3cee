package handler

import (
	"net/http"
)

// SweepTrigger requests an out-of-schedule lifecycle sweep.
type SweepTrigger interface {
	Trigger() bool
}

// LifecycleHandler serves POST /api/lifecycle/sweep.
type LifecycleHandler struct {
	sweeper SweepTrigger
}

// NewLifecycleHandler creates a LifecycleHandler.
func NewLifecycleHandler(sweeper SweepTrigger) *LifecycleHandler {
	return &LifecycleHandler{sweeper: sweeper}
}

// TriggerSweep queues one sweep. "queued" is false when a sweep request was
// already pending.
func (h *LifecycleHandler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": h.sweeper.Trigger()})
}
