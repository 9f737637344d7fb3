package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

// exportPage is one fetched and transformed page on its way to the writer.
type exportPage struct {
	page    int64
	cells   [][]string
	skipped int64
}

// Export streams every matching record from the shop into c.File. Pages
// are fetched and transformed concurrently but written strictly in page
// order, so the file order matches the profile's sort order. The header
// row is always written, even for an empty result.
func Export(ctx context.Context, src Searcher, c *Context) (*Stats, error) {
	f, err := os.Create(c.File)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", c.File, err)
	}
	defer f.Close()

	stats, err := exportTo(ctx, src, c, f)
	if err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("flushing %s: %w", c.File, err)
	}
	return stats, nil
}

func exportTo(ctx context.Context, src Searcher, c *Context, w io.Writer) (*Stats, error) {
	start := time.Now()

	total, err := src.SearchTotal(ctx, c.Profile.Entity, c.Profile.Filter)
	if err != nil {
		return nil, fmt.Errorf("counting %s records: %w", c.Profile.Entity, err)
	}
	if c.Limit > 0 && total > c.Limit {
		total = c.Limit
	}

	out := csv.NewWriter(w)
	if err := out.Write(c.Profile.Columns()); err != nil {
		return nil, err
	}

	pageLimit := int64(c.PageLimit)
	pages := (total + pageLimit - 1) / pageLimit
	slog.Info("starting export",
		"entity", c.Profile.Entity, "total", total, "pages", pages)

	results := make(chan exportPage, c.InFlight)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fetchers, fctx := errgroup.WithContext(gctx)
		fetchers.SetLimit(c.InFlight)
		for page := int64(1); page <= pages; page++ {
			// the last page may be partial under --limit
			want := min(pageLimit, total-(page-1)*pageLimit)
			fetchers.Go(func() error {
				return fetchPage(fctx, src, c, page, want, results)
			})
		}
		err := fetchers.Wait()
		close(results)
		return err
	})

	stats := &Stats{Total: total}
	g.Go(func() error {
		return writePages(gctx, out, results, stats)
	})

	err = g.Wait()
	// flush even on failure or cancellation, rows already handed to the
	// writer belong in the partial file
	out.Flush()
	if err != nil {
		return nil, err
	}
	if err := out.Error(); err != nil {
		return nil, err
	}

	stats.Elapsed = time.Since(start)
	slog.Info("export finished",
		"written", stats.Written, "skipped", stats.Skipped,
		"elapsed", stats.Elapsed.Round(time.Millisecond))
	return stats, nil
}

// fetchPage pulls one page and serializes its records. A failed page
// aborts the run; a failed record is logged, counted and skipped.
func fetchPage(ctx context.Context, src Searcher, c *Context, page, want int64, results chan<- exportPage) error {
	criteria := c.Profile.Criteria(int(page), c.PageLimit)
	result, err := src.Search(ctx, c.Profile.Entity, criteria)
	if err != nil {
		return fmt.Errorf("fetching page %d: %w", page, err)
	}

	records := result.Data
	if int64(len(records)) > want {
		records = records[:want]
	}

	runner := c.Env.NewRunner()
	pg := exportPage{page: page, cells: make([][]string, 0, len(records))}
	for i, record := range records {
		cells, err := SerializeRecord(runner, c.Profile, record)
		if err != nil {
			slog.Warn("skipping record",
				"page", page, "record", i, "error", err)
			pg.skipped++
			continue
		}
		pg.cells = append(pg.cells, cells)
	}

	select {
	case results <- pg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writePages drains the results channel, reordering pages so rows land in
// fetch order no matter which fetcher finished first.
func writePages(ctx context.Context, out *csv.Writer, results <-chan exportPage, stats *Stats) error {
	pending := make(map[int64]exportPage)
	next := int64(1)

	flush := func(pg exportPage) error {
		for _, cells := range pg.cells {
			if err := out.Write(cells); err != nil {
				return err
			}
			stats.Written++
		}
		stats.Fetched += int64(len(pg.cells)) + pg.skipped
		stats.Skipped += pg.skipped
		return nil
	}

	for {
		select {
		case pg, ok := <-results:
			if !ok {
				if len(pending) > 0 {
					return fmt.Errorf("export lost page %d", next)
				}
				return nil
			}
			pending[pg.page] = pg
			for {
				pg, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				if err := flush(pg); err != nil {
					return err
				}
				next++
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
