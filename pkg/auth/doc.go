// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package auth implements the cloudctl login flow: OAuth 2.0 authorization code
// with PKCE against a loopback redirect, token exchange and refresh, and a
// single session persisted in the OS credential store.
package auth
