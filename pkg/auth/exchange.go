// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/telekom/cloudctl/pkg/version"
)

const (
	grantTypeAuthorizationCode = "authorization_code"
	grantTypeRefreshToken      = "refresh_token"

	tokenTypeBearer        = "Bearer"
	oauthErrorAccessDenied = "access_denied"

	// maxExpiresIn caps expires_in at ten years; larger values overflow
	// time.Duration.
	maxExpiresIn int64 = 10 * 365 * 24 * 60 * 60
)

// TokenSet is the token endpoint's answer to a successful grant.
type TokenSet struct {
	AccessToken  string `json:"accessToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
	RefreshToken string `json:"refreshToken,omitempty"`
	IDToken      string `json:"idToken,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

type ExchangeRequest struct {
	TokenEndpoint string
	ClientID      string
	Code          string
	RedirectURI   string
	CodeVerifier  string
}

type RefreshRequest struct {
	TokenEndpoint string
	ClientID      string
	RefreshToken  string
	Scope         string
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	Error        string `json:"error,omitempty"`
	ErrorDesc    string `json:"error_description,omitempty"`
	ErrorURI     string `json:"error_uri,omitempty"`
}

// OAuthError is the RFC 6749 error body returned by the token endpoint. It is
// attached as the cause of the classified *Error.
type OAuthError struct {
	Code        string
	Description string
	URI         string
	StatusCode  int
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("oauth error %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("oauth error %s", e.Code)
}

// TokenClient performs the code exchange and refresh grants. Each call is a
// single POST; retrying is left to the caller.
type TokenClient struct {
	http *resty.Client
	log  *zap.SugaredLogger
}

func NewTokenClient(httpClient *http.Client, log *zap.SugaredLogger) *TokenClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	client := resty.NewWithClient(httpClient).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", version.UserAgent())
	return &TokenClient{http: client, log: log}
}

func (c *TokenClient) ExchangeCode(ctx context.Context, req ExchangeRequest) (*TokenSet, error) {
	if req.TokenEndpoint == "" || req.ClientID == "" {
		return nil, newError(KindInvalidConfig, "token endpoint and client id are required", nil)
	}
	if req.Code == "" || req.CodeVerifier == "" {
		return nil, newError(KindInvalidResponse, "authorization code and code verifier are required", nil)
	}
	return c.post(ctx, req.TokenEndpoint, map[string]string{
		"grant_type":    grantTypeAuthorizationCode,
		"client_id":     req.ClientID,
		"code":          req.Code,
		"redirect_uri":  req.RedirectURI,
		"code_verifier": req.CodeVerifier,
	})
}

func (c *TokenClient) Refresh(ctx context.Context, req RefreshRequest) (*TokenSet, error) {
	if req.TokenEndpoint == "" || req.ClientID == "" {
		return nil, newError(KindInvalidConfig, "token endpoint and client id are required", nil)
	}
	if req.RefreshToken == "" {
		return nil, newError(KindInvalidResponse, "no refresh token available", nil)
	}
	form := map[string]string{
		"grant_type":    grantTypeRefreshToken,
		"client_id":     req.ClientID,
		"refresh_token": req.RefreshToken,
	}
	if req.Scope != "" {
		form["scope"] = req.Scope
	}
	return c.post(ctx, req.TokenEndpoint, form)
}

func (c *TokenClient) post(ctx context.Context, endpoint string, form map[string]string) (*TokenSet, error) {
	grant := form["grant_type"]
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(KindCancelled, "token request cancelled", ctx.Err())
		}
		return nil, newError(KindNetwork, "token request failed", err)
	}
	c.log.Debugw("Token endpoint responded", "grantType", grant, "status", resp.StatusCode())
	return parseTokenResponse(resp.StatusCode(), resp.Body())
}

func parseTokenResponse(status int, body []byte) (*TokenSet, error) {
	var payload tokenResponse
	decodeErr := json.Unmarshal(body, &payload)

	if status < 200 || status > 299 {
		if decodeErr == nil && payload.Error != "" {
			return nil, classifyOAuthError(&OAuthError{
				Code:        payload.Error,
				Description: payload.ErrorDesc,
				URI:         payload.ErrorURI,
				StatusCode:  status,
			})
		}
		return nil, newError(KindInvalidResponse, fmt.Sprintf("token endpoint returned HTTP %d", status), nil)
	}
	if decodeErr != nil {
		return nil, newError(KindInvalidResponse, "failed to parse token response", decodeErr)
	}
	if payload.Error != "" {
		return nil, classifyOAuthError(&OAuthError{
			Code:        payload.Error,
			Description: payload.ErrorDesc,
			URI:         payload.ErrorURI,
			StatusCode:  status,
		})
	}
	if payload.AccessToken == "" {
		return nil, newError(KindInvalidResponse, "token response has no access_token", nil)
	}
	if !strings.EqualFold(payload.TokenType, tokenTypeBearer) {
		return nil, newError(KindInvalidResponse, fmt.Sprintf("unsupported token_type %q", payload.TokenType), nil)
	}
	if payload.ExpiresIn <= 0 {
		return nil, newError(KindInvalidResponse, "token response has no positive expires_in", nil)
	}
	if payload.ExpiresIn > maxExpiresIn {
		payload.ExpiresIn = maxExpiresIn
	}
	return &TokenSet{
		AccessToken:  payload.AccessToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    payload.ExpiresIn,
		RefreshToken: payload.RefreshToken,
		IDToken:      payload.IDToken,
		Scope:        payload.Scope,
	}, nil
}

func classifyOAuthError(oauthErr *OAuthError) *Error {
	if oauthErr.Code == oauthErrorAccessDenied {
		return newError(KindUserDenied, "access was denied", oauthErr)
	}
	return newError(KindInvalidResponse, "token endpoint rejected the request", oauthErr)
}
