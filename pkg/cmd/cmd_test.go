package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telekom/cloudctl/pkg/auth"
	"github.com/telekom/cloudctl/pkg/config"
)

func configPathForTest(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.yaml")
}

type memKeychain struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMemKeychain() *memKeychain {
	return &memKeychain{entries: map[string]string{}}
}

func (k *memKeychain) Get(service, account string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.entries[service+"/"+account]
	if !ok {
		return "", auth.ErrKeychainNotFound
	}
	return v, nil
}

func (k *memKeychain) Set(service, account, secret string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.entries[service+"/"+account] = secret
	return nil
}

func (k *memKeychain) Delete(service, account string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.entries[service+"/"+account]; !ok {
		return auth.ErrKeychainNotFound
	}
	delete(k.entries, service+"/"+account)
	return nil
}

// loopbackBrowser answers the authorization URL by hitting the redirect URI
// with a code and the original state.
type loopbackBrowser struct {
	oauthError string
	urls       []string
}

func (b *loopbackBrowser) OpenURL(raw string) error {
	b.urls = append(b.urls, raw)
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	q := u.Query()
	params := url.Values{"code": {"C1"}, "state": {q.Get("state")}}
	if b.oauthError != "" {
		params = url.Values{"error": {b.oauthError}, "state": {q.Get("state")}}
	}
	resp, err := http.Get(q.Get("redirect_uri") + "?" + params.Encode())
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// newTokenServer serves /oauth/token. Each grant returns a fresh access
// token so refreshes are visible.
func newTokenServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var (
		mu     sync.Mutex
		grants []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != config.DefaultTokenPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = r.ParseForm()
		mu.Lock()
		grants = append(grants, r.PostForm.Get("grant_type"))
		n := len(grants)
		mu.Unlock()

		body := map[string]any{
			"access_token": "AT" + string(rune('0'+n)),
			"token_type":   "Bearer",
			"expires_in":   3600,
			"scope":        "openid profile",
		}
		if r.PostForm.Get("grant_type") == "authorization_code" {
			body["refresh_token"] = "RT1"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &grants
}

func writeConfigForTest(t *testing.T, baseURL string, mutate func(*config.Config)) string {
	t.Helper()
	path := configPathForTest(t)
	cfg := config.DefaultConfig()
	cfg.Auth.BaseURL = baseURL
	cfg.Auth.ClientID = "cloudctl"
	cfg.Auth.RedirectURI = "http://127.0.0.1/callback"
	cfg.Auth.Scopes = []string{"openid", "profile"}
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, config.Save(path, &cfg))
	return path
}
