package handlers

import "github.com/noetl/noetl/internal/model"

// computeProgress implements spec.md §6's progress formula: a terminal
// execution is always 100%, a running one is the fraction of its events
// that have reached a terminal status, and anything else (not yet
// started) is 0%.
func computeProgress(status model.Status, events []model.Event) float64 {
	switch status {
	case model.StatusCompleted, model.StatusFailed:
		return 100
	case model.StatusRunning:
		if len(events) == 0 {
			return 0
		}
		done := 0
		for _, e := range events {
			if e.Status == model.StatusCompleted || e.Status == model.StatusFailed {
				done++
			}
		}
		return 100 * float64(done) / float64(len(events))
	default:
		return 0
	}
}
