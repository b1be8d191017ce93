// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"k8s.io/utils/clock"
)

const (
	DefaultAuthorizePath = "/oauth/authorize"
	DefaultTokenPath     = "/oauth/token"
	DefaultRedirectURI   = "http://127.0.0.1:8484/callback"
	// DefaultExpiryBuffer makes a session count as expired this long before
	// its real expiry so it is refreshed ahead of time.
	DefaultExpiryBuffer = 2 * time.Minute

	discoveryTimeout = 5 * time.Second
)

// Config describes the cloud service the CLI logs in to.
type Config struct {
	BaseURL         string
	AuthorizePath   string
	TokenPath       string
	ClientID        string
	RedirectURI     string
	Scopes          []string
	PortRange       *PortRange
	CallbackTimeout time.Duration
	ExpiryBuffer    time.Duration
	StateBytes      int
	Discovery       bool
	ExtraAuthParams map[string]string
	KeychainService string
	KeychainAccount string
	TLS             TLSOptions
}

func (c *Config) applyDefaults() {
	if c.AuthorizePath == "" {
		c.AuthorizePath = DefaultAuthorizePath
	}
	if c.TokenPath == "" {
		c.TokenPath = DefaultTokenPath
	}
	if c.RedirectURI == "" {
		c.RedirectURI = DefaultRedirectURI
	}
	if c.CallbackTimeout <= 0 {
		c.CallbackTimeout = DefaultCallbackTimeout
	}
	if c.ExpiryBuffer <= 0 {
		c.ExpiryBuffer = DefaultExpiryBuffer
	}
	if c.StateBytes == 0 {
		c.StateBytes = DefaultStateBytes
	}
}

// Validate reports configuration problems as INVALID_CONFIG.
func (c Config) Validate() error {
	if c.BaseURL == "" || c.ClientID == "" {
		return newError(KindInvalidConfig, "base url and client id are required", nil)
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil || (base.Scheme != "https" && base.Scheme != "http") || base.Host == "" {
		return newError(KindInvalidConfig, fmt.Sprintf("invalid base url %q", c.BaseURL), err)
	}
	if _, err := ValidateRedirectURI(c.RedirectURI); err != nil {
		return err
	}
	if c.StateBytes != 0 && c.StateBytes < minStateBytes {
		return newError(KindInvalidConfig, fmt.Sprintf("state entropy must be at least %d bytes", minStateBytes), nil)
	}
	if c.PortRange != nil {
		if _, err := candidatePorts(&url.URL{}, c.PortRange); err != nil {
			return err
		}
	}
	return nil
}

type LoginOptions struct {
	OnStatus func(StatusEvent)
}

type LoginResult struct {
	Session          *AuthenticationSession
	AuthorizationURL string
}

// SessionStatus is the read-only view reported by "auth status".
type SessionStatus struct {
	Authenticated   bool       `json:"authenticated" yaml:"authenticated"`
	Expired         bool       `json:"expired" yaml:"expired"`
	User            *User      `json:"user,omitempty" yaml:"user,omitempty"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
	LastRefreshedAt *time.Time `json:"lastRefreshedAt,omitempty" yaml:"lastRefreshedAt,omitempty"`
	Scopes          []string   `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	HasRefreshToken bool       `json:"hasRefreshToken" yaml:"hasRefreshToken"`
}

// Authenticator is the entry point the rest of the CLI uses. Build it once per
// process and pass it to whoever needs credentials.
type Authenticator struct {
	cfg        Config
	flow       *Flow
	store      *SessionStore
	httpClient *http.Client
	clock      clock.PassiveClock
	log        *zap.SugaredLogger
}

type authenticatorOptions struct {
	keychain        Keychain
	browser         BrowserLauncher
	exchanger       TokenExchanger
	listenerFactory func() Listener
	observer        func(FlowState)
	clock           clock.PassiveClock
	httpClient      *http.Client
	log             *zap.SugaredLogger
}

type Option func(*authenticatorOptions)

func WithKeychain(k Keychain) Option {
	return func(o *authenticatorOptions) { o.keychain = k }
}

func WithBrowser(b BrowserLauncher) Option {
	return func(o *authenticatorOptions) { o.browser = b }
}

func WithTokenExchanger(e TokenExchanger) Option {
	return func(o *authenticatorOptions) { o.exchanger = e }
}

func WithListener(factory func() Listener) Option {
	return func(o *authenticatorOptions) { o.listenerFactory = factory }
}

func WithObserver(observer func(FlowState)) Option {
	return func(o *authenticatorOptions) { o.observer = observer }
}

func WithClock(c clock.PassiveClock) Option {
	return func(o *authenticatorOptions) { o.clock = c }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *authenticatorOptions) { o.httpClient = c }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *authenticatorOptions) { o.log = log }
}

func New(cfg Config, opts ...Option) (*Authenticator, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &authenticatorOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = zap.NewNop().Sugar()
	}
	if o.clock == nil {
		o.clock = clock.RealClock{}
	}
	if o.keychain == nil {
		o.keychain = SystemKeychain{}
	}
	if o.browser == nil {
		o.browser = SystemBrowser{Log: o.log}
	}
	if o.httpClient == nil {
		hc, err := NewHTTPClient(cfg.TLS)
		if err != nil {
			return nil, err
		}
		o.httpClient = hc
	}
	if o.exchanger == nil {
		o.exchanger = NewTokenClient(o.httpClient, o.log)
	}

	flowOpts := []FlowOption{
		WithPKCEGenerator(&PKCEGenerator{StateBytes: cfg.StateBytes}),
		WithFlowLogger(o.log),
	}
	if o.listenerFactory != nil {
		flowOpts = append(flowOpts, WithListenerFactory(o.listenerFactory))
	}
	if o.observer != nil {
		flowOpts = append(flowOpts, WithStateObserver(o.observer))
	}

	return &Authenticator{
		cfg:        cfg,
		flow:       NewFlow(o.browser, o.exchanger, flowOpts...),
		store:      NewSessionStore(o.keychain, cfg.KeychainService, cfg.KeychainAccount, o.clock, o.log),
		httpClient: o.httpClient,
		clock:      o.clock,
		log:        o.log,
	}, nil
}

type endpoints struct {
	authorization string
	token         string
	discovery     *Discovery
}

func (a *Authenticator) resolveEndpoints(ctx context.Context) endpoints {
	base := strings.TrimRight(a.cfg.BaseURL, "/")
	ep := endpoints{
		authorization: base + a.cfg.AuthorizePath,
		token:         base + a.cfg.TokenPath,
	}
	if !a.cfg.Discovery {
		return ep
	}
	dctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()
	d, err := Discover(dctx, a.httpClient, a.cfg.BaseURL)
	if err != nil {
		a.log.Debugw("OIDC discovery unavailable, using configured endpoints", "error", err)
		return ep
	}
	d.log = a.log
	if !d.SupportsS256() {
		a.log.Warnw("Provider does not advertise S256 PKCE support", "issuer", d.Issuer)
	}
	if d.AuthorizationEndpoint != "" {
		ep.authorization = d.AuthorizationEndpoint
	}
	if d.TokenEndpoint != "" {
		ep.token = d.TokenEndpoint
	}
	ep.discovery = d
	return ep
}

// Login runs the browser flow and stores the resulting session, replacing any
// previous one.
func (a *Authenticator) Login(ctx context.Context, opts LoginOptions) (*LoginResult, error) {
	ep := a.resolveEndpoints(ctx)
	res, err := a.flow.Authorize(ctx, AuthorizeOptions{
		AuthorizationEndpoint: ep.authorization,
		TokenEndpoint:         ep.token,
		ClientID:              a.cfg.ClientID,
		RedirectURI:           a.cfg.RedirectURI,
		Scopes:                a.cfg.Scopes,
		PortRange:             a.cfg.PortRange,
		Timeout:               a.cfg.CallbackTimeout,
		ExtraAuthParams:       a.cfg.ExtraAuthParams,
		OnStatus:              opts.OnStatus,
	})
	if err != nil {
		return nil, err
	}

	user := a.resolveUser(ctx, res.Tokens, ep.discovery)
	session := NewSession(*res.Tokens, user, a.cfg.Scopes, a.clock.Now())
	if err := a.store.Save(session); err != nil {
		return nil, err
	}
	a.log.Infow("Logged in", "user", user.Email, "expiresAt", session.Metadata.ExpiresAt)
	return &LoginResult{Session: session, AuthorizationURL: res.AuthorizationURL}, nil
}

func (a *Authenticator) resolveUser(ctx context.Context, tokens *TokenSet, d *Discovery) User {
	if user, ok := identityFromIDToken(tokens.IDToken); ok {
		return user
	}
	if d == nil || d.UserinfoEndpoint == "" {
		return User{}
	}
	user, err := d.UserInfo(ctx, tokens)
	if err != nil {
		a.log.Debugw("Userinfo lookup failed", "error", err)
		return User{}
	}
	return user
}

// Logout deletes the stored session. Logging out without a session succeeds.
func (a *Authenticator) Logout() error {
	return a.store.Delete()
}

// Status describes the stored session without refreshing it.
func (a *Authenticator) Status() (*SessionStatus, error) {
	session, err := a.store.Load()
	if err != nil {
		return nil, err
	}
	if session == nil {
		return &SessionStatus{}, nil
	}
	expired := IsSessionExpired(session, 0, a.clock.Now())
	user := session.User
	expiresAt := session.Metadata.ExpiresAt
	return &SessionStatus{
		Authenticated:   !expired || session.Tokens.RefreshToken != "",
		Expired:         expired,
		User:            &user,
		ExpiresAt:       &expiresAt,
		LastRefreshedAt: session.Metadata.LastRefreshedAt,
		Scopes:          session.Metadata.Scopes,
		HasRefreshToken: session.Tokens.RefreshToken != "",
	}, nil
}

// Session returns a session that stays valid for at least the expiry buffer,
// refreshing and persisting it first when needed.
func (a *Authenticator) Session(ctx context.Context) (*AuthenticationSession, error) {
	session, err := a.store.RequireValid(a.cfg.ExpiryBuffer)
	if err == nil {
		return session, nil
	}
	if !IsKind(err, KindNotAuthenticated) {
		return nil, err
	}
	stored, loadErr := a.store.Load()
	if loadErr != nil {
		return nil, loadErr
	}
	if stored == nil || stored.Tokens.RefreshToken == "" {
		return nil, err
	}

	ep := a.resolveEndpoints(ctx)
	tokens, err := a.flow.Refresh(ctx, RefreshOptions{
		TokenEndpoint: ep.token,
		ClientID:      a.cfg.ClientID,
		RefreshToken:  stored.Tokens.RefreshToken,
	})
	if err != nil {
		return nil, err
	}
	refreshed := stored.Refreshed(*tokens, a.clock.Now())
	if err := a.store.Save(refreshed); err != nil {
		return nil, err
	}
	a.log.Debugw("Session refreshed", "expiresAt", refreshed.Metadata.ExpiresAt)
	return refreshed, nil
}

// IsAuthenticated reports whether a usable session exists, refreshing it if needed.
func (a *Authenticator) IsAuthenticated(ctx context.Context) bool {
	_, err := a.Session(ctx)
	return err == nil
}

func (a *Authenticator) AccessToken(ctx context.Context) (string, error) {
	session, err := a.Session(ctx)
	if err != nil {
		return "", err
	}
	return session.Tokens.AccessToken, nil
}

// TokenSource adapts the session to oauth2 so other packages can build
// authenticated HTTP clients with oauth2.NewClient.
func (a *Authenticator) TokenSource(ctx context.Context) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &sessionTokenSource{ctx: ctx, auth: a})
}

type sessionTokenSource struct {
	ctx  context.Context
	auth *Authenticator
}

func (s *sessionTokenSource) Token() (*oauth2.Token, error) {
	session, err := s.auth.Session(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: session.Tokens.AccessToken,
		TokenType:   session.Tokens.TokenType,
		Expiry:      session.Metadata.ExpiresAt.Add(-s.auth.cfg.ExpiryBuffer),
	}, nil
}
