package scheduler

import "sort"

// hasTags reports whether have contains every tag in want.
func hasTags(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// Find returns the ids of active jobs whose tags include all of tags,
// ordered by next run.
func (s *Service) Find(tags ...string) []string {
	jobs := s.FindJobs(tags...)
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids
}

// FindJobs is Find returning job copies instead of ids.
func (s *Service) FindJobs(tags ...string) []Job {
	s.mu.Lock()
	var out []*entry
	for _, e := range s.jobs {
		if hasTags(e.job.Tags, tags) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	jobs := make([]Job, len(out))
	for i, e := range out {
		jobs[i] = e.job.clone()
	}
	s.mu.Unlock()
	return jobs
}

func sortEntries(es []*entry) {
	sort.Slice(es, func(a, b int) bool {
		if !es[a].job.NextRun.Equal(es[b].job.NextRun) {
			return es[a].job.NextRun.Before(es[b].job.NextRun)
		}
		return es[a].seq < es[b].seq
	})
}
