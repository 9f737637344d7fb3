package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/shopsync/shopsync/internal/api"
	"github.com/shopsync/shopsync/internal/config"
	"github.com/shopsync/shopsync/internal/ui"
)

var (
	authDomain string
	authID     string
	authSecret string
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Store and verify API credentials",
	Long: `Authenticate against a shop's admin API with an integration key pair.

Missing values are prompted for interactively. The credentials are
verified by requesting a token, then written to ` + config.CredentialsPath + `
in the current directory.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := promptMissing(); err != nil {
			fail(1, "%v", err)
		}

		creds := config.Credentials{
			BaseURL:           authDomain,
			IntegrationID:     authID,
			IntegrationSecret: authSecret,
		}

		ctx, stop := signalContext()
		defer stop()

		client, err := api.New(ctx, creds, api.Options{})
		if err != nil {
			fail(2, "verifying credentials: %v", err)
		}
		creds.Token, creds.TokenExpiresAt = client.TokenState()

		if err := creds.Write(); err != nil {
			fail(2, "writing credentials: %v", err)
		}

		fmt.Printf("%s Authenticated against %s\n", ui.RenderPass("✓"), creds.BaseURL)
		fmt.Printf("   Token valid until %s\n", creds.TokenExpiresAt.Format(time.RFC3339))
		fmt.Printf("%s Credentials are stored in plaintext at %s\n",
			ui.RenderWarn("!"), config.CredentialsPath)
	},
}

func promptMissing() error {
	var fields []huh.Field
	if authDomain == "" {
		fields = append(fields, huh.NewInput().
			Title("Shop domain").
			Placeholder("https://shop.example.com").
			Value(&authDomain))
	}
	if authID == "" {
		fields = append(fields, huh.NewInput().
			Title("Integration access key ID").
			Value(&authID))
	}
	if authSecret == "" {
		fields = append(fields, huh.NewInput().
			Title("Integration secret").
			EchoMode(huh.EchoModePassword).
			Value(&authSecret))
	}
	if len(fields) == 0 {
		return nil
	}
	return huh.NewForm(huh.NewGroup(fields...)).Run()
}

func init() {
	authCmd.Flags().StringVarP(&authDomain, "domain", "d", "", "Shop base URL, e.g. https://shop.example.com")
	authCmd.Flags().StringVarP(&authID, "access-key-id", "i", "", "Integration access key ID")
	authCmd.Flags().StringVarP(&authSecret, "secret-access-key", "s", "", "Integration secret access key")
	rootCmd.AddCommand(authCmd)
}
