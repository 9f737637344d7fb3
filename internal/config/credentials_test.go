package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialsRoundTrip(t *testing.T) {
	t.Chdir(t.TempDir())

	creds := Credentials{
		BaseURL:           "https://shop.example.com",
		IntegrationID:     "SWIAABCDEF",
		IntegrationSecret: "s3cret",
		Token:             "tok",
		TokenExpiresAt:    time.Now().Add(10 * time.Minute).UTC().Truncate(time.Second),
	}
	require.NoError(t, creds.Write())

	info, err := os.Stat(CredentialsPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := ReadCredentials()
	require.NoError(t, err)
	assert.Equal(t, creds, got)
}

func TestReadCredentialsMissing(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := ReadCredentials()
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestReadCredentialsTrimsTrailingSlash(t *testing.T) {
	t.Chdir(t.TempDir())

	require.NoError(t, os.WriteFile(CredentialsPath, []byte(
		"domain = \"https://shop.example.com/\"\n"+
			"integration_id = \"id\"\n"+
			"integration_secret = \"secret\"\n"), 0o600))

	got, err := ReadCredentials()
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com", got.BaseURL)
}

func TestReadCredentialsIncomplete(t *testing.T) {
	t.Chdir(t.TempDir())

	require.NoError(t, os.WriteFile(CredentialsPath, []byte("domain = \"https://x\"\n"), 0o600))

	_, err := ReadCredentials()
	assert.ErrorContains(t, err, "incomplete")
}

func TestTokenValid(t *testing.T) {
	now := time.Now()

	assert.False(t, Credentials{}.TokenValid(now))
	assert.False(t, Credentials{Token: "t", TokenExpiresAt: now.Add(10 * time.Second)}.TokenValid(now))
	assert.True(t, Credentials{Token: "t", TokenExpiresAt: now.Add(5 * time.Minute)}.TokenValid(now))
}

func TestLoadSettingsDefaultsAndEnv(t *testing.T) {
	s := LoadSettings()
	assert.Equal(t, 60*time.Second, s.RequestTimeout)
	assert.Equal(t, 250, s.PageLimit)
	assert.Equal(t, 100, s.BatchSize)
	assert.Equal(t, 200*time.Millisecond, s.BackoffBase)

	t.Setenv("SHOPSYNC_PAGE_LIMIT", "9999")
	s = LoadSettings()
	// capped at the server maximum
	assert.Equal(t, MaxPageLimit, s.PageLimit)
}
