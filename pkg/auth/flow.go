// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/telekom/cloudctl/pkg/metrics"
)

// Status is reported to the caller while Authorize runs.
type Status string

const (
	StatusOpeningBrowser           Status = "opening-browser"
	StatusWaitingForAuthentication Status = "waiting-for-authentication"
	StatusExchangingTokens         Status = "exchanging-tokens"
)

// StatusEvent carries the authorization URL so a caller can offer it for
// manual copy when the browser does not open.
type StatusEvent struct {
	Status           Status
	AuthorizationURL string
}

// FlowState is a step of one Authorize call. States are never re-entered.
type FlowState string

const (
	StateIdle               FlowState = "idle"
	StateBuildingURL        FlowState = "building-url"
	StateListening          FlowState = "listening"
	StateBrowserOpened      FlowState = "browser-opened"
	StateWaitingForRedirect FlowState = "waiting-for-redirect"
	StateCodeReceived       FlowState = "code-received"
	StateErrorReceived      FlowState = "error-received"
	StateTimedOut           FlowState = "timed-out"
	StateCancelled          FlowState = "cancelled"
	StateExchangingTokens   FlowState = "exchanging-tokens"
	StateTokensIssued       FlowState = "tokens-issued"
	StateExchangeFailed     FlowState = "exchange-failed"
	StateBrowserFailed      FlowState = "browser-failed"
	StateFailed             FlowState = "failed"
)

// Listener is the callback side of the flow. CallbackListener implements it.
type Listener interface {
	Start(opts CallbackOptions) (string, error)
	Wait(ctx context.Context) (*CallbackResult, error)
	Stop() error
}

// TokenExchanger is the token endpoint side of the flow. TokenClient implements it.
type TokenExchanger interface {
	ExchangeCode(ctx context.Context, req ExchangeRequest) (*TokenSet, error)
	Refresh(ctx context.Context, req RefreshRequest) (*TokenSet, error)
}

type AuthorizeOptions struct {
	AuthorizationEndpoint string
	TokenEndpoint         string
	ClientID              string
	RedirectURI           string
	Scopes                []string
	PortRange             *PortRange
	Timeout               time.Duration
	ExtraAuthParams       map[string]string
	OnStatus              func(StatusEvent)
}

type AuthorizeResult struct {
	Tokens           *TokenSet
	AuthorizationURL string
	// RedirectURI is the URI with the port actually bound.
	RedirectURI string
}

type RefreshOptions struct {
	TokenEndpoint string
	ClientID      string
	RefreshToken  string
	Scopes        []string
}

// Flow runs the authorization code + PKCE flow.
type Flow struct {
	pkce        *PKCEGenerator
	newListener func() Listener
	browser     BrowserLauncher
	tokens      TokenExchanger
	observer    func(FlowState)
	log         *zap.SugaredLogger
}

type FlowOption func(*Flow)

func WithPKCEGenerator(g *PKCEGenerator) FlowOption {
	return func(f *Flow) { f.pkce = g }
}

// WithListenerFactory replaces the loopback listener. The factory is called
// once per Authorize.
func WithListenerFactory(factory func() Listener) FlowOption {
	return func(f *Flow) { f.newListener = factory }
}

func WithStateObserver(observer func(FlowState)) FlowOption {
	return func(f *Flow) { f.observer = observer }
}

func WithFlowLogger(log *zap.SugaredLogger) FlowOption {
	return func(f *Flow) { f.log = log }
}

func NewFlow(browser BrowserLauncher, tokens TokenExchanger, opts ...FlowOption) *Flow {
	f := &Flow{
		pkce:    &PKCEGenerator{},
		browser: browser,
		tokens:  tokens,
		log:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.newListener == nil {
		log := f.log
		f.newListener = func() Listener { return NewCallbackListener(log) }
	}
	return f
}

// reservedAuthParams cannot be overridden through ExtraAuthParams.
var reservedAuthParams = map[string]bool{
	"response_type":         true,
	"client_id":             true,
	"redirect_uri":          true,
	"scope":                 true,
	"state":                 true,
	"code_challenge":        true,
	"code_challenge_method": true,
}

// Authorize opens the browser at the authorization endpoint and exchanges the
// returned code for tokens. The callback listener is bound before the browser
// is launched and is stopped exactly once on every return path.
func (f *Flow) Authorize(ctx context.Context, opts AuthorizeOptions) (result *AuthorizeResult, err error) {
	log := f.log.With("attempt", uuid.NewString())
	state := &flowTracker{state: StateIdle, observe: f.observer, log: log}
	defer func() {
		metrics.AuthorizeAttempts.WithLabelValues(outcomeLabel(err)).Inc()
	}()

	state.to(StateBuildingURL)
	if opts.AuthorizationEndpoint == "" || opts.TokenEndpoint == "" || opts.ClientID == "" {
		state.to(StateFailed)
		return nil, newError(KindInvalidConfig, "authorization endpoint, token endpoint and client id are required", nil)
	}
	if _, err := ValidateRedirectURI(opts.RedirectURI); err != nil {
		state.to(StateFailed)
		return nil, err
	}
	params, err := f.pkce.Generate()
	if err != nil {
		state.to(StateFailed)
		return nil, err
	}

	listener := f.newListener()
	defer func() {
		if stopErr := listener.Stop(); stopErr != nil {
			log.Debugw("Failed to stop callback listener", "error", stopErr)
		}
	}()

	redirectURI, err := listener.Start(CallbackOptions{
		RedirectURI:   opts.RedirectURI,
		ExpectedState: params.State,
		Timeout:       opts.Timeout,
		PortRange:     opts.PortRange,
	})
	if counter, ok := listener.(interface{ AttemptedPorts() int }); ok {
		metrics.CallbackPortsAttempted.Observe(float64(counter.AttemptedPorts()))
	}
	if err != nil {
		state.to(StateFailed)
		return nil, err
	}
	state.to(StateListening)

	authURL := f.buildAuthorizationURL(opts, redirectURI, params, log)
	notify(opts.OnStatus, StatusOpeningBrowser, authURL)
	if err := f.browser.OpenURL(authURL); err != nil {
		state.to(StateBrowserFailed)
		if KindOf(err) != "" {
			return nil, err
		}
		return nil, newError(KindBrowserFailed, "failed to open browser", err)
	}
	state.to(StateBrowserOpened)

	notify(opts.OnStatus, StatusWaitingForAuthentication, authURL)
	state.to(StateWaitingForRedirect)
	callback, err := listener.Wait(ctx)
	if err != nil {
		switch KindOf(err) {
		case KindTimeout:
			state.to(StateTimedOut)
		case KindCancelled:
			state.to(StateCancelled)
		default:
			state.to(StateFailed)
		}
		return nil, err
	}

	if callback.Error != "" {
		state.to(StateErrorReceived)
		oauthErr := &OAuthError{Code: callback.Error, Description: callback.ErrorDescription, URI: callback.ErrorURI}
		if callback.Error == oauthErrorAccessDenied {
			return nil, newError(KindUserDenied, "authorization was denied", oauthErr)
		}
		return nil, newError(KindInvalidResponse, "authorization server returned an error", oauthErr)
	}
	if callback.Code == "" {
		state.to(StateFailed)
		return nil, newError(KindInvalidResponse, "missing authorization code", ErrMissingCode)
	}
	state.to(StateCodeReceived)

	notify(opts.OnStatus, StatusExchangingTokens, authURL)
	state.to(StateExchangingTokens)
	tokens, err := f.tokens.ExchangeCode(ctx, ExchangeRequest{
		TokenEndpoint: opts.TokenEndpoint,
		ClientID:      opts.ClientID,
		Code:          callback.Code,
		RedirectURI:   redirectURI,
		CodeVerifier:  params.CodeVerifier,
	})
	if err != nil {
		state.to(StateExchangeFailed)
		return nil, err
	}
	state.to(StateTokensIssued)
	log.Infow("Authorization completed", "expiresIn", tokens.ExpiresIn)

	return &AuthorizeResult{Tokens: tokens, AuthorizationURL: authURL, RedirectURI: redirectURI}, nil
}

func (f *Flow) buildAuthorizationURL(opts AuthorizeOptions, redirectURI string, params *PKCEParameters, log *zap.SugaredLogger) string {
	cfg := oauth2.Config{
		ClientID: opts.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:  opts.AuthorizationEndpoint,
			TokenURL: opts.TokenEndpoint,
		},
		RedirectURL: redirectURI,
		Scopes:      opts.Scopes,
	}
	authOpts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("code_challenge", params.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", params.CodeChallengeMethod),
	}
	for k, v := range opts.ExtraAuthParams {
		if reservedAuthParams[k] {
			log.Warnw("Ignoring extra auth param that would override the flow", "param", k)
			continue
		}
		authOpts = append(authOpts, oauth2.SetAuthURLParam(k, v))
	}
	return cfg.AuthCodeURL(params.State, authOpts...)
}

// Refresh exchanges a refresh token. An INVALID_RESPONSE from the token
// endpoint is reported as REFRESH_FAILED with the same message.
func (f *Flow) Refresh(ctx context.Context, opts RefreshOptions) (tokens *TokenSet, err error) {
	defer func() {
		metrics.TokenRefreshes.WithLabelValues(outcomeLabel(err)).Inc()
	}()

	tokens, err = f.tokens.Refresh(ctx, RefreshRequest{
		TokenEndpoint: opts.TokenEndpoint,
		ClientID:      opts.ClientID,
		RefreshToken:  opts.RefreshToken,
		Scope:         strings.Join(opts.Scopes, " "),
	})
	if err != nil {
		var authErr *Error
		if errors.As(err, &authErr) && authErr.Kind == KindInvalidResponse {
			return nil, newError(KindRefreshFailed, authErr.Message, authErr.Cause)
		}
		return nil, err
	}
	return tokens, nil
}

func notify(fn func(StatusEvent), status Status, authURL string) {
	if fn != nil {
		fn(StatusEvent{Status: status, AuthorizationURL: authURL})
	}
}

func outcomeLabel(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

type flowTracker struct {
	state   FlowState
	observe func(FlowState)
	log     *zap.SugaredLogger
}

func (t *flowTracker) to(next FlowState) {
	t.log.Debugw("Authorization state changed", "from", t.state, "to", next)
	t.state = next
	if t.observe != nil {
		t.observe(next)
	}
}
