package nyxdb

import "sync"

// stats.go adapts the teacher's opt-in Stats block to the counters
// relevant to a change-stream subsystem: how many documents were
// delivered, how many times a stream resumed (and why), how many empty
// polls happened, how many killCursors were sent. A Client only
// collects these when ClientOptions.Stats points at one — nil by
// default, same "costs nothing unless a caller opts in" shape as the
// teacher's own Stats, scoped per-Client instead of per-process since
// nothing here needs process-wide aggregation.
type Stats struct {
	mu sync.Mutex

	StreamsOpened      int
	DocumentsDelivered int
	EmptyPolls         int
	ResumesKillCursor  int
	ResumesNoKill      int
	ResumeFailures     int
	FatalErrors        int
	KillCursorsSent    int
}

// Snapshot returns a copy of the current counters safe to read
// concurrently with further increments.
func (s *Stats) Snapshot() Stats {
	if s == nil {
		return Stats{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		StreamsOpened:      s.StreamsOpened,
		DocumentsDelivered: s.DocumentsDelivered,
		EmptyPolls:         s.EmptyPolls,
		ResumesKillCursor:  s.ResumesKillCursor,
		ResumesNoKill:      s.ResumesNoKill,
		ResumeFailures:     s.ResumeFailures,
		FatalErrors:        s.FatalErrors,
		KillCursorsSent:    s.KillCursorsSent,
	}
}

func (s *Stats) streamOpened() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.StreamsOpened++
	s.mu.Unlock()
}

func (s *Stats) documentDelivered() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.DocumentsDelivered++
	s.mu.Unlock()
}

func (s *Stats) emptyPoll() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.EmptyPolls++
	s.mu.Unlock()
}

func (s *Stats) resumed(kind classifiedErrorKind) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if kind == classResumableKillCursor {
		s.ResumesKillCursor++
	} else {
		s.ResumesNoKill++
	}
	s.mu.Unlock()
}

func (s *Stats) resumeFailed() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.ResumeFailures++
	s.mu.Unlock()
}

func (s *Stats) fatal() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.FatalErrors++
	s.mu.Unlock()
}

func (s *Stats) killCursorsSent() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.KillCursorsSent++
	s.mu.Unlock()
}
