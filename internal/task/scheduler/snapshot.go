package scheduler

import "time"

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Timezone     string        `json:"timezone"`
	TickInterval time.Duration `json:"tick_interval"`
	Active       int           `json:"active"`
	Running      int           `json:"running"`
	Idle         time.Duration `json:"idle"`
}

// ListActiveJobs returns copies of every active job ordered by next run.
func (s *Service) ListActiveJobs() []Job {
	return s.FindJobs()
}

// Get returns one active job.
func (s *Service) Get(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return Job{}, notFound(id)
	}
	return e.job.clone(), nil
}

// Len is the number of active jobs.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// IdleDuration is the time until the soonest job fires, zero if one is due.
func (s *Service) IdleDuration() time.Duration {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleLocked(now)
}

func (s *Service) Snapshot() Snapshot {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Timezone:     s.loc.String(),
		TickInterval: s.cfg.TickInterval,
		Active:       len(s.jobs),
		Idle:         s.idleLocked(now),
	}
	for _, e := range s.jobs {
		if e.running {
			snap.Running++
		}
	}
	return snap
}
