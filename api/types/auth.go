/*
 * Copyright 2025 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package types

import (
	"context"
	"errors"
)

// ErrInvalidCredentials is returned by an AuthProvider that rejects the credentials.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Credentials carries what a client presented to authenticate.
type Credentials struct {
	Username string
	Password string
}

// User is an authenticated principal.
type User interface {
	// Principal returns the user name.
	Principal() string
	// HasRole reports whether the user has role.
	HasRole(role string) bool
	// Attributes returns extra data attached by the provider.
	Attributes() map[string]interface{}
}

// AuthProvider validates credentials and returns the principal.
type AuthProvider interface {
	Authenticate(ctx context.Context, credentials Credentials) (User, error)
}

// AuthProviderFunc adapts a function to AuthProvider.
type AuthProviderFunc func(ctx context.Context, credentials Credentials) (User, error)

func (f AuthProviderFunc) Authenticate(ctx context.Context, credentials Credentials) (User, error) {
	return f(ctx, credentials)
}
