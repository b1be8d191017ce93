// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// OpenIDConfiguration holds the discovery document fields cloudctl uses.
type OpenIDConfiguration struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	UserinfoEndpoint              string   `json:"userinfo_endpoint,omitempty"`
	JWKSURI                       string   `json:"jwks_uri,omitempty"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// Discovery is a fetched discovery document. It is never required: callers
// fall back to the configured endpoint paths when Discover fails.
type Discovery struct {
	OpenIDConfiguration
	provider *oidc.Provider
	client   *http.Client
	log      *zap.SugaredLogger
}

// Discover fetches {baseURL}/.well-known/openid-configuration.
func Discover(ctx context.Context, httpClient *http.Client, baseURL string) (*Discovery, error) {
	if baseURL == "" {
		return nil, newError(KindInvalidConfig, "base url is required for discovery", nil)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, newError(KindNetwork, "failed to discover OIDC provider", err)
	}
	var doc OpenIDConfiguration
	if err := provider.Claims(&doc); err != nil {
		return nil, newError(KindInvalidResponse, "failed to parse discovery document", err)
	}
	return &Discovery{OpenIDConfiguration: doc, provider: provider, client: httpClient, log: zap.NewNop().Sugar()}, nil
}

// SupportsS256 reports whether the provider accepts S256 challenges. An absent
// list is treated as support.
func (d *Discovery) SupportsS256() bool {
	if len(d.CodeChallengeMethodsSupported) == 0 {
		return true
	}
	for _, m := range d.CodeChallengeMethodsSupported {
		if m == CodeChallengeMethodS256 {
			return true
		}
	}
	return false
}

// UserInfo queries the userinfo endpoint with the given access token.
func (d *Discovery) UserInfo(ctx context.Context, tokens *TokenSet) (User, error) {
	if d.UserinfoEndpoint == "" {
		return User{}, newError(KindInvalidConfig, "provider has no userinfo endpoint", nil)
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: tokens.AccessToken,
		TokenType:   tokens.TokenType,
	})
	info, err := d.provider.UserInfo(oidc.ClientContext(ctx, d.client), src)
	if err != nil {
		return User{}, newError(KindNetwork, "userinfo request failed", err)
	}
	var extra struct {
		Name string `json:"name"`
	}
	if err := info.Claims(&extra); err != nil {
		d.log.Debugw("Failed to decode userinfo claims", "error", err)
	}
	verified := info.EmailVerified
	return User{
		ID:            info.Subject,
		Email:         info.Email,
		Name:          extra.Name,
		EmailVerified: &verified,
	}, nil
}
