// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"strconv"

	"github.com/golang-jwt/jwt/v4"
)

type User struct {
	ID            string `json:"id" yaml:"id"`
	Email         string `json:"email" yaml:"email"`
	Name          string `json:"name" yaml:"name"`
	EmailVerified *bool  `json:"emailVerified,omitempty" yaml:"emailVerified,omitempty"`
}

// identityFromIDToken reads the user claims from an ID token without verifying
// its signature. The result is for display only.
func identityFromIDToken(idToken string) (User, bool) {
	if idToken == "" {
		return User{}, false
	}
	parser := jwt.Parser{}
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return User{}, false
	}
	user := User{
		ID:    stringClaim(claims, "sub"),
		Email: stringClaim(claims, "email"),
		Name:  stringClaim(claims, "name"),
	}
	if user.Name == "" {
		user.Name = stringClaim(claims, "preferred_username")
	}
	switch v := claims["email_verified"].(type) {
	case bool:
		user.EmailVerified = &v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			user.EmailVerified = &b
		}
	}
	return user, user.ID != ""
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
