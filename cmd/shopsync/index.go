package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shopsync/shopsync/internal/api"
	"github.com/shopsync/shopsync/internal/config"
	"github.com/shopsync/shopsync/internal/ui"
)

var indexSkip []string

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Trigger the shop's data indexers",
	Long: `Queue a full reindex of the shop's data.

Useful after a series of imports run with --disable-index. Individual
indexers can be excluded with --skip, e.g. --skip product.indexer.`,
	Run: func(cmd *cobra.Command, args []string) {
		creds, err := config.ReadCredentials()
		if err != nil {
			fail(1, "%v", err)
		}

		ctx, stop := signalContext()
		defer stop()

		client, err := api.New(ctx, creds, api.Options{})
		if err != nil {
			fail(2, "%v", err)
		}
		if err := client.Index(ctx, indexSkip); err != nil {
			fail(2, "triggering indexers: %v", err)
		}
		fmt.Printf("%s Indexers triggered\n", ui.RenderPass("✓"))
	},
}

func init() {
	indexCmd.Flags().StringSliceVar(&indexSkip, "skip", nil, "Indexer names to skip, repeatable")
	rootCmd.AddCommand(indexCmd)
}
