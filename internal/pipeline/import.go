package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shopsync/shopsync/internal/api"
	"github.com/shopsync/shopsync/internal/entity"
)

// batch is one slice of deserialized records headed for a bulk write,
// keeping the CSV line of every record for error reporting.
type batch struct {
	records []entity.Entity
	lines   []int
}

// Import streams c.File into the shop. Rows are parsed and deserialized
// in file order, grouped into batches of c.BatchSize and submitted with
// up to c.InFlight writes on the wire; batch launch order follows row
// order. A rejected batch is bisected down to the single failing records
// so one bad row never sinks its batchmates.
func Import(ctx context.Context, sink BulkWriter, c *Context) (*Stats, error) {
	f, err := os.Open(c.File)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", c.File, err)
	}
	defer f.Close()
	return importFrom(ctx, sink, c, f)
}

func importFrom(ctx context.Context, sink BulkWriter, c *Context, r io.Reader) (*Stats, error) {
	start := time.Now()

	in := csv.NewReader(r)
	header, err := in.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	index, unknown, err := columnIndex(c.Profile, header)
	if err != nil {
		return nil, err
	}
	for _, name := range unknown {
		slog.Warn("ignoring unmapped column", "column", name)
	}

	var succeeded, failed atomic.Int64
	stats := &Stats{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.InFlight)

	submit := func(b batch) {
		stats.Sent += int64(len(b.records))
		// Go blocks while c.InFlight writes are pending, which both
		// bounds memory and makes launch order follow row order.
		g.Go(func() error {
			return submitBatch(gctx, sink, c.Profile.Entity, b, &succeeded, &failed)
		})
	}

	runner := c.Env.NewRunner()
	var pending batch
	for {
		cells, err := in.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", c.File, err)
		}
		if gctx.Err() != nil {
			break
		}
		line, _ := in.FieldPos(0)
		stats.Total++

		record, err := DeserializeRow(runner, c.Profile, index, cells)
		if err != nil {
			slog.Warn("skipping row", "line", line, "error", err)
			stats.Skipped++
			continue
		}
		pending.records = append(pending.records, record)
		pending.lines = append(pending.lines, line)

		if len(pending.records) == c.BatchSize {
			submit(pending)
			pending = batch{}
		}
	}
	if len(pending.records) > 0 && gctx.Err() == nil {
		submit(pending)
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.Succeeded = succeeded.Load()
	stats.Failed = failed.Load()
	stats.Elapsed = time.Since(start)
	slog.Info("import finished",
		"sent", stats.Sent, "succeeded", stats.Succeeded,
		"failed", stats.Failed, "skipped", stats.Skipped,
		"elapsed", stats.Elapsed.Round(time.Millisecond))
	return stats, nil
}

// submitBatch writes one batch, bisecting on rejection. The client has
// already retried transient failures, so a transport or 5xx error here is
// fatal for the whole run; a 4xx write rejection narrows down to the
// offending records, which are logged with their CSV line and dropped.
func submitBatch(ctx context.Context, sink BulkWriter, ent string, b batch, succeeded, failed *atomic.Int64) error {
	err := sink.SyncUpsert(ctx, ent, b.records)
	if err == nil {
		succeeded.Add(int64(len(b.records)))
		slog.Info("batch written", "entity", ent, "records", len(b.records))
		return nil
	}

	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Transient() {
		return fmt.Errorf("writing %s batch: %w", ent, err)
	}

	if len(b.records) == 1 {
		line := b.lines[0]
		failures := apiErr.Body.WriteFailures()
		if len(failures) == 0 {
			slog.Warn("record rejected", "line", line, "error", apiErr)
		}
		for _, wf := range failures {
			slog.Warn("record rejected",
				"line", line, "pointer", wf.Pointer, "detail", wf.Detail)
		}
		failed.Add(1)
		return nil
	}

	mid := len(b.records) / 2
	left := batch{records: b.records[:mid], lines: b.lines[:mid]}
	right := batch{records: b.records[mid:], lines: b.lines[mid:]}
	if err := submitBatch(ctx, sink, ent, left, succeeded, failed); err != nil {
		return err
	}
	return submitBatch(ctx, sink, ent, right, succeeded, failed)
}
