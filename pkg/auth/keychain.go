// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"errors"

	"github.com/zalando/go-keyring"
)

// ErrKeychainNotFound is returned by Keychain.Get when no entry exists.
var ErrKeychainNotFound = errors.New("keychain entry not found")

// Keychain is the OS credential store, addressed by (service, account).
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, secret string) error
	Delete(service, account string) error
}

// SystemKeychain stores secrets in the macOS Keychain, Windows Credential
// Manager or the Secret Service on Linux.
type SystemKeychain struct{}

func (SystemKeychain) Get(service, account string) (string, error) {
	secret, err := keyring.Get(service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrKeychainNotFound
	}
	return secret, err
}

func (SystemKeychain) Set(service, account, secret string) error {
	return keyring.Set(service, account, secret)
}

func (SystemKeychain) Delete(service, account string) error {
	err := keyring.Delete(service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrKeychainNotFound
	}
	return err
}
