// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

type memKeychain struct {
	mu      sync.Mutex
	entries map[string]string
	deletes int
	getErr  error
	setErr  error
}

func newMemKeychain() *memKeychain {
	return &memKeychain{entries: map[string]string{}}
}

func (k *memKeychain) key(service, account string) string { return service + "/" + account }

func (k *memKeychain) Get(service, account string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.getErr != nil {
		return "", k.getErr
	}
	v, ok := k.entries[k.key(service, account)]
	if !ok {
		return "", ErrKeychainNotFound
	}
	return v, nil
}

func (k *memKeychain) Set(service, account, secret string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.setErr != nil {
		return k.setErr
	}
	k.entries[k.key(service, account)] = secret
	return nil
}

func (k *memKeychain) Delete(service, account string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.deletes++
	if _, ok := k.entries[k.key(service, account)]; !ok {
		return ErrKeychainNotFound
	}
	delete(k.entries, k.key(service, account))
	return nil
}

// eventLog records the order of listener and browser calls.
type eventLog struct {
	mu     sync.Mutex
	events []string
	times  map[string]time.Time
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	if l.times == nil {
		l.times = map[string]time.Time{}
	}
	l.times[event] = time.Now()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeListener struct {
	log         *eventLog
	redirectURI string
	startErr    error
	result      *CallbackResult
	waitErr     error
	// echoState makes Wait return the expected state passed to Start.
	echoState bool

	mu        sync.Mutex
	opts      CallbackOptions
	stopCalls int
}

func (l *fakeListener) Start(opts CallbackOptions) (string, error) {
	l.mu.Lock()
	l.opts = opts
	l.mu.Unlock()
	if l.log != nil {
		l.log.add("listener-ready")
	}
	if l.startErr != nil {
		return "", l.startErr
	}
	if l.redirectURI != "" {
		return l.redirectURI, nil
	}
	return opts.RedirectURI, nil
}

func (l *fakeListener) Wait(ctx context.Context) (*CallbackResult, error) {
	if l.waitErr != nil {
		return nil, l.waitErr
	}
	if l.result == nil {
		<-ctx.Done()
		return nil, newError(KindCancelled, "cancelled", ctx.Err())
	}
	res := *l.result
	if l.echoState {
		l.mu.Lock()
		res.State = l.opts.ExpectedState
		l.mu.Unlock()
	}
	return &res, nil
}

func (l *fakeListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopCalls++
	if l.log != nil {
		l.log.add("listener-stopped")
	}
	return nil
}

func (l *fakeListener) stops() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopCalls
}

type fakeBrowser struct {
	log  *eventLog
	err  error
	urls []string
}

func (b *fakeBrowser) OpenURL(url string) error {
	if b.log != nil {
		b.log.add("browser-opened")
	}
	b.urls = append(b.urls, url)
	return b.err
}

type fakeExchanger struct {
	exchangeTokens *TokenSet
	exchangeErr    error
	refreshTokens  *TokenSet
	refreshErr     error

	exchanges []ExchangeRequest
	refreshes []RefreshRequest
}

func (e *fakeExchanger) ExchangeCode(_ context.Context, req ExchangeRequest) (*TokenSet, error) {
	e.exchanges = append(e.exchanges, req)
	if e.exchangeErr != nil {
		return nil, e.exchangeErr
	}
	if e.exchangeTokens == nil {
		return nil, errors.New("no tokens configured")
	}
	tokens := *e.exchangeTokens
	return &tokens, nil
}

func (e *fakeExchanger) Refresh(_ context.Context, req RefreshRequest) (*TokenSet, error) {
	e.refreshes = append(e.refreshes, req)
	if e.refreshErr != nil {
		return nil, e.refreshErr
	}
	if e.refreshTokens == nil {
		return nil, errors.New("no tokens configured")
	}
	tokens := *e.refreshTokens
	return &tokens, nil
}
