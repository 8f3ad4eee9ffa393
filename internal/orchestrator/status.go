package orchestrator

import (
	"time"

	"github.com/JakeFAU/company-profile-crawler/internal/crawler"
)

// Phase names the state machine position.
type Phase string

// Orchestrator phases.
const (
	PhaseIdle       Phase = "idle"
	PhasePreparing  Phase = "preparing"
	PhaseRefreshing Phase = "refreshing"
	PhaseSearching  Phase = "searching"
	PhaseCompleted  Phase = "completed"
	PhaseWaiting    Phase = "waiting"
)

// Status is a point-in-time view of the orchestrator.
type Status struct {
	Phase        Phase                `json:"phase"`
	RunID        string               `json:"run_id,omitempty"`
	RunStartedAt time.Time            `json:"run_started_at,omitzero"`
	TaskIndex    int                  `json:"task_index"`
	TaskTotal    int                  `json:"task_total"`
	Keyword      string               `json:"keyword,omitempty"`
	Processed    int                  `json:"processed"`
	TaskFailures int                  `json:"task_failures"`
	NextRunAt    time.Time            `json:"next_run_at,omitzero"`
	LastRun      *crawler.HistoryMark `json:"last_run,omitempty"`
}

// Status returns a copy of the current status.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s := o.status
	if s.LastRun != nil {
		mark := *s.LastRun
		s.LastRun = &mark
	}
	return s
}

func (o *Orchestrator) update(fn func(s *Status)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.status)
}

func (o *Orchestrator) setPhase(p Phase) {
	o.update(func(s *Status) { s.Phase = p })
}
