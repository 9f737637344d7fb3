package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/shopsync/shopsync/internal/api"
	"github.com/shopsync/shopsync/internal/config"
	"github.com/shopsync/shopsync/internal/lookup"
	"github.com/shopsync/shopsync/internal/pipeline"
	"github.com/shopsync/shopsync/internal/profile"
	"github.com/shopsync/shopsync/internal/script"
	"github.com/shopsync/shopsync/internal/ui"
)

var (
	syncMode         string
	syncProfilePath  string
	syncFile         string
	syncInFlight     int
	syncTries        int
	syncLimit        int64
	syncDisableIndex bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Export shop data to CSV or import CSV into the shop",
	Long: `Run one synchronization between the shop and a CSV file.

In export mode every record matching the profile's filter is fetched
page by page and written to the file in sort order. In import mode the
file is streamed row by row and written to the shop in batches; after a
successful import the data indexers are triggered unless disabled.`,
	Run: func(cmd *cobra.Command, args []string) {
		if syncMode != "import" && syncMode != "export" {
			fail(1, "mode must be 'import' or 'export', got %q", syncMode)
		}

		prof, err := profile.Load(syncProfilePath)
		if err != nil {
			fail(1, "loading profile: %v", err)
		}

		creds, err := config.ReadCredentials()
		if err != nil {
			fail(1, "%v", err)
		}
		settings := config.LoadSettings()

		ctx, stop := signalContext()
		defer stop()

		client, err := api.New(ctx, creds, api.Options{
			InFlightLimit: syncInFlight,
			TryCount:      syncTries,
		})
		if err != nil {
			fail(2, "%v", err)
		}
		exitHooks = append(exitHooks, func() {
			token, exp := client.TokenState()
			persistToken(token, exp, creds)
		})

		schema, err := client.EntitySchema(ctx)
		if err != nil {
			fail(2, "fetching entity schema: %v", err)
		}
		if err := prof.Validate(schema); err != nil {
			fail(1, "profile does not match the shop's schema: %v", err)
		}

		lookups, err := lookup.Prime(ctx, client)
		if err != nil {
			fail(2, "priming lookup tables: %v", err)
		}

		env, err := script.Prepare(prof.SerializeScript, prof.DeserializeScript, lookups)
		if err != nil {
			fail(1, "%v", err)
		}

		run := &pipeline.Context{
			Profile:   prof,
			Env:       env,
			File:      syncFile,
			Limit:     syncLimit,
			InFlight:  syncInFlight,
			PageLimit: settings.PageLimit,
			BatchSize: settings.BatchSize,
		}
		if run.InFlight <= 0 {
			run.InFlight = api.DefaultInFlightLimit
		}

		switch syncMode {
		case "export":
			stats, err := pipeline.Export(ctx, client, run)
			if err != nil {
				fail(2, "export failed: %v", err)
			}
			fmt.Printf("%s Exported %d of %d %s records to %s in %v (%.0f/s)\n",
				ui.RenderPass("✓"), stats.Written, stats.Total, prof.Entity,
				syncFile, stats.Elapsed.Round(time.Millisecond), stats.Throughput())
			if stats.Skipped > 0 {
				fmt.Printf("%s %d records skipped, see the detail log\n",
					ui.RenderWarn("!"), stats.Skipped)
			}

		case "import":
			stats, err := pipeline.Import(ctx, client, run)
			if err != nil {
				fail(2, "import failed: %v", err)
			}
			fmt.Printf("%s Imported %d of %d %s rows from %s in %v (%.0f/s)\n",
				ui.RenderPass("✓"), stats.Succeeded, stats.Total, prof.Entity,
				syncFile, stats.Elapsed.Round(time.Millisecond), stats.Throughput())
			if stats.Failed+stats.Skipped > 0 {
				fmt.Printf("%s %d rows rejected, %d rows skipped, see the detail log\n",
					ui.RenderWarn("!"), stats.Failed, stats.Skipped)
			}

			if syncDisableIndex {
				fmt.Printf("%s Indexing skipped, run 'shopsync index' once all imports are done\n",
					ui.RenderAccent("→"))
			} else if err := client.Index(ctx, nil); err != nil {
				fail(2, "triggering indexers: %v", err)
			} else {
				fmt.Printf("%s Indexers triggered\n", ui.RenderPass("✓"))
			}
		}
	},
}

// persistToken writes a refreshed token back so the next invocation can
// skip the oauth round trip. It runs through an exit hook, failed runs
// cache their token too.
func persistToken(token string, exp time.Time, creds config.Credentials) {
	if token == "" || token == creds.Token {
		return
	}
	creds.Token = token
	creds.TokenExpiresAt = exp
	if err := creds.Write(); err != nil {
		slog.Warn("could not cache token", "error", err)
	}
}

func init() {
	syncCmd.Flags().StringVarP(&syncMode, "mode", "m", "", "Sync direction: import or export")
	syncCmd.Flags().StringVarP(&syncProfilePath, "profile", "p", "", "Path to the sync profile (YAML)")
	syncCmd.Flags().StringVarP(&syncFile, "file", "f", "", "CSV file to write (export) or read (import)")
	syncCmd.Flags().IntVarP(&syncInFlight, "in-flight-limit", "l", api.DefaultInFlightLimit, "Maximum concurrent API requests")
	syncCmd.Flags().IntVarP(&syncTries, "try-count", "t", api.DefaultTryCount, "Total attempts per request, retries included")
	syncCmd.Flags().Int64Var(&syncLimit, "limit", 0, "Cap the number of exported records (0 = all)")
	syncCmd.Flags().BoolVarP(&syncDisableIndex, "disable-index", "d", false, "Skip triggering indexers after import")
	syncCmd.MarkFlagRequired("mode")
	syncCmd.MarkFlagRequired("profile")
	syncCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(syncCmd)
}
