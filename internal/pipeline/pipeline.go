package pipeline

import (
	"context"
	"time"

	"github.com/shopsync/shopsync/internal/api"
	"github.com/shopsync/shopsync/internal/entity"
	"github.com/shopsync/shopsync/internal/profile"
	"github.com/shopsync/shopsync/internal/script"
)

// Searcher is the read side of the admin API as the export pipeline
// consumes it.
type Searcher interface {
	SearchTotal(ctx context.Context, ent string, filter []api.Filter) (int64, error)
	Search(ctx context.Context, ent string, criteria *api.Criteria) (*api.SearchResult, error)
}

// BulkWriter is the write side as the import pipeline consumes it.
type BulkWriter interface {
	SyncUpsert(ctx context.Context, ent string, records []entity.Entity) error
}

// Context carries everything a single sync run needs. The command layer
// assembles it once and hands it to Export or Import.
type Context struct {
	Profile *profile.Profile
	Env     *script.Environment

	// File is the CSV path to write (export) or read (import).
	File string

	// Limit caps the number of exported records; zero means all.
	Limit int64

	// InFlight bounds concurrent page fetches and batch submissions.
	InFlight int

	PageLimit int
	BatchSize int
}

// Stats summarizes a finished run. Export fills Fetched and Written,
// import fills Sent, Succeeded and Failed; Skipped counts records dropped
// by per-record errors on either side.
type Stats struct {
	Total     int64
	Fetched   int64
	Written   int64
	Sent      int64
	Succeeded int64
	Failed    int64
	Skipped   int64
	Elapsed   time.Duration
}

// Throughput returns processed records per second, zero for an instant run.
func (s *Stats) Throughput() float64 {
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	done := s.Written + s.Succeeded
	return float64(done) / secs
}
