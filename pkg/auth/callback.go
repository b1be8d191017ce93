// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultCallbackTimeout = 5 * time.Minute
	// MaxPortRangeSpan caps how many ports one Start will try.
	MaxPortRangeSpan = 256

	maxCallbackParamLength = 2048
	loopbackBindHost       = "127.0.0.1"
)

// PortRange is an inclusive range of loopback ports tried in order.
type PortRange struct {
	First int
	Last  int
}

type CallbackOptions struct {
	RedirectURI   string
	ExpectedState string
	// Timeout bounds Wait. Zero means DefaultCallbackTimeout.
	Timeout   time.Duration
	PortRange *PortRange
}

// CallbackResult is what the authorization server sent back through the
// browser redirect. Either Code or Error is set.
type CallbackResult struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
	ErrorURI         string
}

type callbackOutcome struct {
	result *CallbackResult
	err    error
}

// CallbackListener serves a single loopback redirect. Use a new listener for
// every authorization attempt.
type CallbackListener struct {
	log     *zap.SugaredLogger
	limiter *rate.Limiter

	mu        sync.Mutex
	opts      CallbackOptions
	path      string
	server    *http.Server
	listener  net.Listener
	started   bool
	closed    bool
	attempted int

	outcome chan callbackOutcome
	stopped chan struct{}
}

func NewCallbackListener(log *zap.SugaredLogger) *CallbackListener {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &CallbackListener{
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		outcome: make(chan callbackOutcome, 1),
		stopped: make(chan struct{}),
	}
}

// ValidateRedirectURI accepts only plain-http loopback redirect URIs.
func ValidateRedirectURI(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, newError(KindInvalidConfig, "redirect uri is required", nil)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, newError(KindInvalidConfig, "invalid redirect uri", err)
	}
	if u.Scheme != "http" {
		return nil, newError(KindInvalidConfig, fmt.Sprintf("redirect uri scheme must be http, got %q", u.Scheme), nil)
	}
	switch u.Hostname() {
	case "localhost", loopbackBindHost:
	default:
		return nil, newError(KindInvalidConfig, fmt.Sprintf("redirect uri host must be localhost or 127.0.0.1, got %q", u.Hostname()), nil)
	}
	if p := u.Port(); p != "" {
		if _, err := strconv.ParseUint(p, 10, 16); err != nil {
			return nil, newError(KindInvalidConfig, fmt.Sprintf("invalid redirect uri port %q", p), err)
		}
	}
	return u, nil
}

// candidatePorts lists the ports Start will try, in order. Without a range the
// redirect URI's own port is used; a missing port means an ephemeral one.
func candidatePorts(redirect *url.URL, rng *PortRange) ([]int, error) {
	if rng == nil {
		if redirect.Port() == "" {
			return []int{0}, nil
		}
		port, err := strconv.Atoi(redirect.Port())
		if err != nil {
			return nil, newError(KindInvalidConfig, "invalid redirect uri port", err)
		}
		return []int{port}, nil
	}
	if rng.First < 1 || rng.Last > 65535 || rng.First > rng.Last {
		return nil, newError(KindInvalidConfig, fmt.Sprintf("invalid port range %d-%d", rng.First, rng.Last), nil)
	}
	last := rng.Last
	if last-rng.First+1 > MaxPortRangeSpan {
		last = rng.First + MaxPortRangeSpan - 1
	}
	ports := make([]int, 0, last-rng.First+1)
	for p := rng.First; p <= last; p++ {
		ports = append(ports, p)
	}
	return ports, nil
}

// Start binds the loopback socket and begins serving. It returns the redirect
// URI with the port actually bound. The socket is listening when Start returns.
func (l *CallbackListener) Start(opts CallbackOptions) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started || l.closed {
		return "", newError(KindInvalidConfig, "callback listener cannot be reused", nil)
	}
	redirect, err := ValidateRedirectURI(opts.RedirectURI)
	if err != nil {
		return "", err
	}
	if opts.ExpectedState == "" {
		return "", newError(KindInvalidConfig, "expected state is required", nil)
	}
	ports, err := candidatePorts(redirect, opts.PortRange)
	if err != nil {
		return "", err
	}

	var (
		ln      net.Listener
		bindErr error
	)
	// Only 127.0.0.1 is bound, also for localhost redirect URIs. A browser
	// that resolves localhost to ::1 first reaches the socket through its
	// IPv4 fallback.
	for i, port := range ports {
		l.attempted = i + 1
		ln, bindErr = net.Listen("tcp", net.JoinHostPort(loopbackBindHost, strconv.Itoa(port)))
		if bindErr == nil {
			break
		}
		l.log.Debugw("Callback port unavailable", "port", port, "error", bindErr)
	}
	if ln == nil {
		return "", newError(KindNetwork, fmt.Sprintf("failed to bind callback listener after %d attempt(s)", l.attempted), bindErr)
	}

	bound := *redirect
	bound.Host = net.JoinHostPort(redirect.Hostname(), strconv.Itoa(ln.Addr().(*net.TCPAddr).Port))
	path := bound.Path
	if path == "" {
		path = "/"
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleCallback)
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	l.listener = ln
	l.path = path
	l.opts = opts
	l.started = true

	server := l.server
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.deliver(callbackOutcome{err: newError(KindNetwork, "callback server failed", err)})
		}
	}()

	l.log.Debugw("Callback listener ready", "address", ln.Addr().String(), "attempts", l.attempted)
	return bound.String(), nil
}

// Wait blocks until the redirect arrives, the timeout passes, ctx is done, or
// Stop is called.
func (l *CallbackListener) Wait(ctx context.Context) (*CallbackResult, error) {
	l.mu.Lock()
	started := l.started
	timeout := l.opts.Timeout
	l.mu.Unlock()

	if !started {
		return nil, newError(KindInvalidConfig, "callback listener not started", nil)
	}
	if timeout <= 0 {
		timeout = DefaultCallbackTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-l.outcome:
		return o.result, o.err
	case <-timer.C:
		return nil, newError(KindTimeout, fmt.Sprintf("no callback received within %s", timeout), nil)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, newError(KindTimeout, "callback wait deadline exceeded", ctx.Err())
		}
		return nil, newError(KindCancelled, "callback wait cancelled", ctx.Err())
	case <-l.stopped:
		return nil, newError(KindCancelled, "callback listener stopped", nil)
	}
}

// Stop releases the socket. It is safe to call at any time and more than once.
func (l *CallbackListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	close(l.stopped)
	if !l.started {
		return nil
	}
	err := l.server.Close()
	// Serve may not have tracked the listener yet.
	_ = l.listener.Close()
	l.log.Debug("Callback listener stopped")
	return err
}

// AttemptedPorts returns how many ports the last Start tried.
func (l *CallbackListener) AttemptedPorts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempted
}

// WaitForCallback runs Start, Wait and Stop as one call.
func (l *CallbackListener) WaitForCallback(ctx context.Context, opts CallbackOptions) (*CallbackResult, error) {
	if _, err := l.Start(opts); err != nil {
		return nil, err
	}
	defer func() {
		_ = l.Stop()
	}()
	return l.Wait(ctx)
}

func (l *CallbackListener) handleCallback(w http.ResponseWriter, r *http.Request) {
	if !l.limiter.Allow() {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}
	l.mu.Lock()
	path := l.path
	l.mu.Unlock()
	if r.URL.Path != path {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	l.mu.Lock()
	expected := l.opts.ExpectedState
	l.mu.Unlock()

	result, err := parseCallback(r.URL.Query(), expected)
	switch {
	case err != nil:
		l.log.Warnw("Rejected OAuth callback", "error", err)
		renderCallbackPage(w, http.StatusBadRequest, "Authentication failed", "The login response was invalid. Return to the terminal and try again.")
		l.deliver(callbackOutcome{err: err})
	case result.Error != "":
		l.log.Debugw("OAuth callback carried an error", "oauthError", result.Error)
		renderCallbackPage(w, http.StatusOK, "Authentication failed", "The authorization server reported: "+result.Error+". Return to the terminal for details.")
		l.deliver(callbackOutcome{result: &result})
	default:
		renderCallbackPage(w, http.StatusOK, "Authentication complete", "You can close this window and return to the terminal.")
		l.deliver(callbackOutcome{result: &result})
	}
}

func (l *CallbackListener) deliver(o callbackOutcome) {
	select {
	case l.outcome <- o:
	default:
		l.log.Debug("Callback outcome already delivered, dropping")
	}
}

// parseCallback is the only place redirect parameters are inspected.
func parseCallback(query url.Values, expectedState string) (CallbackResult, error) {
	for _, key := range []string{"code", "state", "error", "error_description", "error_uri"} {
		if len(query.Get(key)) > maxCallbackParamLength {
			return CallbackResult{}, newError(KindInvalidResponse, fmt.Sprintf("callback parameter %s exceeds %d bytes", key, maxCallbackParamLength), nil)
		}
	}

	state := query.Get("state")
	if oauthErr := query.Get("error"); oauthErr != "" {
		if state != "" && !statesEqual(state, expectedState) {
			return CallbackResult{}, newError(KindInvalidResponse, "callback state does not match the request", ErrStateMismatch)
		}
		return CallbackResult{
			State:            state,
			Error:            oauthErr,
			ErrorDescription: query.Get("error_description"),
			ErrorURI:         query.Get("error_uri"),
		}, nil
	}

	code := query.Get("code")
	if code == "" {
		return CallbackResult{}, newError(KindInvalidResponse, "callback carried no authorization code", ErrMissingCode)
	}
	if state == "" {
		return CallbackResult{}, newError(KindInvalidResponse, "callback carried no state", nil)
	}
	if !statesEqual(state, expectedState) {
		return CallbackResult{}, newError(KindInvalidResponse, "callback state does not match the request", ErrStateMismatch)
	}
	return CallbackResult{Code: code, State: state}, nil
}

func statesEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>cloudctl - {{.Title}}</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em;">
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</body>
</html>
`))

func renderCallbackPage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = callbackPage.Execute(w, struct{ Title, Message string }{title, message})
}
