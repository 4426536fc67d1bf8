package scheduler

import (
	"strings"
	"time"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		tz = s.loc.String()
	}
	out := Snapshot{Enabled: s.cfg.Enabled, Running: s.c != nil, Timezone: tz}
	for _, e := range s.entries {
		it := EntryInfo{Key: e.key, DefinitionID: e.defID, Job: e.job, Spec: e.spec}
		if s.c != nil && e.entryID != 0 {
			ce := s.c.Entry(e.entryID)
			it.Next, it.Prev = ce.Next, ce.Prev
		}
		out.Entries = append(out.Entries, it)
	}
	return out
}

// NextRun reports when the entry of definition id fires next. ok is false
// when the definition has no live entry.
func (s *Service) NextRun(id int64) (next time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}, false
	}
	for _, e := range s.entries {
		if e.defID == id && e.key != sweepKey && e.entryID != 0 {
			return s.c.Entry(e.entryID).Next, true
		}
	}
	return time.Time{}, false
}
