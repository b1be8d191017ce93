package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/cloudctl/pkg/auth"
	"github.com/telekom/cloudctl/pkg/config"
)

type authHarness struct {
	path     string
	keychain *memKeychain
	browser  *loopbackBrowser
	grants   *[]string
}

func newAuthHarness(t *testing.T, mutate func(*config.Config)) *authHarness {
	t.Helper()
	srv, grants := newTokenServer(t)
	return &authHarness{
		path:     writeConfigForTest(t, srv.URL, mutate),
		keychain: newMemKeychain(),
		browser:  &loopbackBrowser{},
		grants:   grants,
	}
}

func (h *authHarness) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	root := NewRootCommand(Config{
		ConfigPath:   h.path,
		OutputWriter: out,
		ErrWriter:    errOut,
		AuthOptions:  []auth.Option{auth.WithKeychain(h.keychain), auth.WithBrowser(h.browser)},
	})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestAuthLoginStoresSession(t *testing.T) {
	h := newAuthHarness(t, nil)

	out, errOut, err := h.run(t, "auth", "login")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged in. Session expires at ")
	assert.Contains(t, errOut, "Waiting for authentication...")
	assert.Contains(t, errOut, "Opening browser to log in")
	require.Len(t, h.browser.urls, 1)
	assert.Contains(t, errOut, h.browser.urls[0])
	assert.Equal(t, []string{"authorization_code"}, *h.grants)

	stored, err := h.keychain.Get(config.DefaultKeychainService, config.DefaultKeychainAccount)
	require.NoError(t, err)
	assert.Contains(t, stored, "AT1")
}

func TestAuthLoginDenied(t *testing.T) {
	h := newAuthHarness(t, nil)
	h.browser.oauthError = "access_denied"

	_, _, err := h.run(t, "auth", "login")
	require.Error(t, err)
	assert.True(t, auth.IsKind(err, auth.KindUserDenied))
	assert.Equal(t, "Error: Authentication was cancelled or denied in the browser.", FormatError(err))
	assert.Empty(t, *h.grants)
	assert.Empty(t, h.keychain.entries)
}

func TestAuthLoginNoBrowserSkipsOpeningMessage(t *testing.T) {
	h := newAuthHarness(t, nil)

	_, errOut, err := h.run(t, "--no-browser", "auth", "login")
	require.NoError(t, err)
	assert.NotContains(t, errOut, "Opening browser")
	assert.Contains(t, errOut, "Waiting for authentication...")
}

func TestAuthStatusFormats(t *testing.T) {
	h := newAuthHarness(t, nil)

	out, _, err := h.run(t, "auth", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "AUTHENTICATED:")
	assert.Contains(t, out, "no")

	_, _, err = h.run(t, "auth", "login")
	require.NoError(t, err)

	out, _, err = h.run(t, "auth", "status", "-o", "json")
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, true, status["authenticated"])
	assert.Equal(t, true, status["hasRefreshToken"])
	assert.NotContains(t, out, "AT1")

	out, _, err = h.run(t, "auth", "status", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "authenticated: true")

	out, _, err = h.run(t, "auth", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "REFRESH TOKEN:")
	assert.Contains(t, out, "SCOPES:")
	assert.Contains(t, out, "openid profile")
}

func TestAuthStatusOutputFromEnv(t *testing.T) {
	h := newAuthHarness(t, nil)
	t.Setenv("CLOUDCTL_OUTPUT", "json")

	out, _, err := h.run(t, "auth", "status")
	require.NoError(t, err)
	assert.True(t, json.Valid([]byte(out)))
}

func TestAuthStatusRejectsUnknownFormat(t *testing.T) {
	h := newAuthHarness(t, nil)

	_, _, err := h.run(t, "auth", "status", "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestAuthTokenRequiresLogin(t *testing.T) {
	h := newAuthHarness(t, nil)

	_, _, err := h.run(t, "auth", "token")
	require.Error(t, err)
	assert.True(t, auth.IsKind(err, auth.KindNotAuthenticated))
	assert.Equal(t, "Error: Not logged in. Run 'cloudctl auth login' first.", FormatError(err))
}

func TestAuthTokenReturnsStoredToken(t *testing.T) {
	h := newAuthHarness(t, nil)
	_, _, err := h.run(t, "auth", "login")
	require.NoError(t, err)

	out, _, err := h.run(t, "auth", "token")
	require.NoError(t, err)
	assert.Equal(t, "AT1\n", out)
	assert.Equal(t, []string{"authorization_code"}, *h.grants)
}

func TestAuthTokenRefreshesInsideBuffer(t *testing.T) {
	// A one hour token is always inside a two hour buffer.
	h := newAuthHarness(t, func(cfg *config.Config) { cfg.Auth.ExpiryBuffer = "2h" })
	_, _, err := h.run(t, "auth", "login")
	require.NoError(t, err)

	out, _, err := h.run(t, "auth", "token")
	require.NoError(t, err)
	assert.Equal(t, "AT2\n", out)
	assert.Equal(t, []string{"authorization_code", "refresh_token"}, *h.grants)

	stored, err := h.keychain.Get(config.DefaultKeychainService, config.DefaultKeychainAccount)
	require.NoError(t, err)
	assert.Contains(t, stored, "AT2")
	assert.Contains(t, stored, "RT1")
}

func TestAuthLogout(t *testing.T) {
	h := newAuthHarness(t, nil)
	_, _, err := h.run(t, "auth", "login")
	require.NoError(t, err)

	out, _, err := h.run(t, "auth", "logout")
	require.NoError(t, err)
	assert.Equal(t, "Logged out\n", out)
	assert.Empty(t, h.keychain.entries)

	// Logging out twice is fine.
	_, _, err = h.run(t, "auth", "logout")
	require.NoError(t, err)
}

func TestAuthLoginWritesMetricsTextfile(t *testing.T) {
	h := newAuthHarness(t, nil)
	metricsPath := filepath.Join(t.TempDir(), "cloudctl.prom")

	_, _, err := h.run(t, "--metrics-textfile", metricsPath, "auth", "login")
	require.NoError(t, err)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cloudctl_auth_authorize_total")
	assert.Contains(t, string(data), "cloudctl_auth_callback_ports_attempted")
}

func TestAuthInvalidConfig(t *testing.T) {
	h := newAuthHarness(t, func(cfg *config.Config) { cfg.Auth.RedirectURI = "https://example.com/callback" })

	_, _, err := h.run(t, "auth", "status")
	require.Error(t, err)
	assert.True(t, auth.IsKind(err, auth.KindInvalidConfig))
	assert.Contains(t, FormatError(err), "Invalid authentication configuration")
}
