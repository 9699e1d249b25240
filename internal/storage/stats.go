package storage

import (
	"sync/atomic"

	"github.com/yourorg/scancache/internal/model"
)

// Stats counts read traffic for the lifetime of the process.
type Stats struct {
	reads atomic.Int64
	hits  atomic.Int64
}

// Record counts one read; hit reports whether it returned results.
func (s *Stats) Record(hit bool) {
	s.reads.Add(1)
	if hit {
		s.hits.Add(1)
	}
}

func (s *Stats) Snapshot() model.AccessStatistics {
	return model.AccessStatistics{
		Reads: s.reads.Load(),
		Hits:  s.hits.Load(),
	}
}
