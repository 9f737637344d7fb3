// Package config holds the two configuration surfaces of the tool: the
// credentials file written by `shopsync auth` and the runtime settings with
// their environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// CredentialsPath is the well-known credentials file location, relative to
// the working directory.
const CredentialsPath = ".credentials.toml"

// ErrNoCredentials is returned when the credentials file does not exist.
var ErrNoCredentials = errors.New("no " + CredentialsPath + " found, run 'shopsync auth' first")

// Credentials identify one integration against one shop, plus the last
// acquired bearer token so consecutive commands can skip a token round trip
// while it is still valid.
//
// The file is plaintext on purpose; `auth` warns about that on write.
type Credentials struct {
	BaseURL           string `toml:"domain"`
	IntegrationID     string `toml:"integration_id"`
	IntegrationSecret string `toml:"integration_secret"`

	// cached token state, managed by the API client
	Token          string    `toml:"token,omitempty"`
	TokenExpiresAt time.Time `toml:"token_expires_at,omitempty"`
}

// ReadCredentials loads the credentials file from the working directory.
func ReadCredentials() (Credentials, error) {
	var creds Credentials
	raw, err := os.ReadFile(CredentialsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return creds, ErrNoCredentials
		}
		return creds, fmt.Errorf("reading %s: %w", CredentialsPath, err)
	}

	if err := toml.Unmarshal(raw, &creds); err != nil {
		return creds, fmt.Errorf("parsing %s: %w", CredentialsPath, err)
	}

	creds.BaseURL = strings.TrimRight(creds.BaseURL, "/")
	if creds.BaseURL == "" || creds.IntegrationID == "" || creds.IntegrationSecret == "" {
		return creds, fmt.Errorf("%s is incomplete: domain, integration_id and integration_secret are required", CredentialsPath)
	}

	return creds, nil
}

// Write persists the credentials to the working directory with owner-only
// permissions.
func (c Credentials) Write() error {
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	if err := os.WriteFile(CredentialsPath, []byte(buf.String()), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", CredentialsPath, err)
	}
	return nil
}

// TokenValid reports whether the cached token can still be used. A small
// margin keeps a token that would expire mid-request from being handed out.
func (c Credentials) TokenValid(now time.Time) bool {
	return c.Token != "" && now.Add(30*time.Second).Before(c.TokenExpiresAt)
}
