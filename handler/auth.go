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

package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/router"
)

const (
	// SessionUserKey is the session key under which UserSession keeps the user.
	SessionUserKey = "__webbus.user"
	// DefaultReturnURLParam is the session key and form field holding the page to
	// return to after login.
	DefaultReturnURLParam = "return_url"
)

// SimpleUser is the User returned by PropertiesAuth.
type SimpleUser struct {
	Username    string
	Roles       []string
	Permissions []string
}

func (u *SimpleUser) Principal() string {
	return u.Username
}

func (u *SimpleUser) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether one of the user's roles grants permission.
// A role granting "*" grants everything.
func (u *SimpleUser) HasPermission(permission string) bool {
	for _, p := range u.Permissions {
		if p == permission || p == "*" {
			return true
		}
	}
	return false
}

func (u *SimpleUser) Attributes() map[string]interface{} {
	return map[string]interface{}{
		"roles":       append([]string(nil), u.Roles...),
		"permissions": append([]string(nil), u.Permissions...),
	}
}

type propertiesUser struct {
	hash  []byte
	roles []string
}

// PropertiesAuth authenticates users declared in properties:
//
//	user.tim = <bcrypt hash>,administrator,developer
//	role.administrator = *
//	role.developer = do_actual_work
type PropertiesAuth struct {
	users map[string]propertiesUser
	roles map[string][]string
}

var _ types.AuthProvider = (*PropertiesAuth)(nil)

// NewPropertiesAuth parses users and roles from properties. Keys other than user.* and
// role.* are ignored.
func NewPropertiesAuth(properties map[string]string) (*PropertiesAuth, error) {
	a := &PropertiesAuth{users: map[string]propertiesUser{}, roles: map[string][]string{}}
	for k, v := range properties {
		switch {
		case strings.HasPrefix(k, "user."):
			name := strings.TrimPrefix(k, "user.")
			fields := splitList(v)
			if name == "" || len(fields) == 0 {
				return nil, fmt.Errorf("invalid user property %s", k)
			}
			if _, err := bcrypt.Cost([]byte(fields[0])); err != nil {
				return nil, fmt.Errorf("user %s password is not a bcrypt hash: %w", name, err)
			}
			a.users[name] = propertiesUser{hash: []byte(fields[0]), roles: fields[1:]}
		case strings.HasPrefix(k, "role."):
			a.roles[strings.TrimPrefix(k, "role.")] = splitList(v)
		}
	}
	return a, nil
}

// Authenticate checks the password against the user's bcrypt hash.
func (a *PropertiesAuth) Authenticate(ctx context.Context, credentials types.Credentials) (types.User, error) {
	u, ok := a.users[credentials.Username]
	if !ok {
		return nil, types.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(credentials.Password)); err != nil {
		return nil, types.ErrInvalidCredentials
	}
	user := &SimpleUser{Username: credentials.Username, Roles: u.roles}
	for _, role := range u.roles {
		user.Permissions = append(user.Permissions, a.roles[role]...)
	}
	return user, nil
}

// HashPassword returns the bcrypt hash to put in a user property.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

func splitList(v string) []string {
	var result []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}

// UserSession keeps the authenticated user in the session, so that it survives
// between requests. It must be routed after Session.
func UserSession() router.Handler {
	return func(ctx *router.RoutingContext) {
		session := ctx.Session()
		if session == nil {
			_ = ctx.FailWithError(http.StatusInternalServerError, errors.New("no session, register the session handler first"))
			return
		}
		if ctx.User() == nil {
			if user, ok := session.Get(SessionUserKey); ok {
				if u, ok := user.(types.User); ok {
					ctx.SetUser(u)
				}
			}
		}
		ctx.AddHeadersEndHandler(func() {
			if session.IsDestroyed() {
				return
			}
			if user := ctx.User(); user != nil {
				session.Put(SessionUserKey, user)
			} else {
				session.Remove(SessionUserKey)
			}
		})
		_ = ctx.Next()
	}
}

// RedirectAuth lets authenticated users through and redirects the others to
// loginPage, remembering the requested page in the session.
func RedirectAuth(loginPage string) router.Handler {
	return func(ctx *router.RoutingContext) {
		if ctx.User() != nil {
			_ = ctx.Next()
			return
		}
		session := ctx.Session()
		if session == nil {
			_ = ctx.FailWithError(http.StatusInternalServerError, errors.New("no session, register the session handler first"))
			return
		}
		session.Put(DefaultReturnURLParam, ctx.Request().URL.RequestURI())
		_ = ctx.Response().Redirect(loginPage)
	}
}

// BasicAuth authenticates every request with the Authorization header. Requests
// without valid credentials fail with 401 and a WWW-Authenticate challenge.
func BasicAuth(provider types.AuthProvider, realm string) router.Handler {
	challenge := fmt.Sprintf("Basic realm=%q", realm)
	return func(ctx *router.RoutingContext) {
		if ctx.User() != nil {
			_ = ctx.Next()
			return
		}
		credentials, ok := parseBasic(ctx.Header("Authorization"))
		if !ok {
			ctx.Response().PutHeader("WWW-Authenticate", challenge)
			_ = ctx.Fail(http.StatusUnauthorized)
			return
		}
		user, err := provider.Authenticate(ctx.Context(), credentials)
		if err != nil {
			ctx.Response().PutHeader("WWW-Authenticate", challenge)
			_ = ctx.FailWithError(http.StatusUnauthorized, err)
			return
		}
		ctx.SetUser(user)
		_ = ctx.Next()
	}
}

func parseBasic(header string) (types.Credentials, bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return types.Credentials{}, false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return types.Credentials{}, false
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return types.Credentials{}, false
	}
	return types.Credentials{Username: username, Password: password}, true
}

// FormLoginOptions configure the form login handler.
type FormLoginOptions struct {
	UsernameParam string
	PasswordParam string
	// ReturnURLParam is the session key of the page to go back to.
	ReturnURLParam string
	// DirectLoggedInOKURL is where to go after a login that did not come from a redirect.
	// When empty, a plain 200 response is sent.
	DirectLoggedInOKURL string
}

// FormLogin authenticates a POSTed login form. On success the user is set and the
// client is redirected to the page that required the login.
func FormLogin(provider types.AuthProvider, opts FormLoginOptions) router.Handler {
	if opts.UsernameParam == "" {
		opts.UsernameParam = "username"
	}
	if opts.PasswordParam == "" {
		opts.PasswordParam = "password"
	}
	if opts.ReturnURLParam == "" {
		opts.ReturnURLParam = DefaultReturnURLParam
	}
	return func(ctx *router.RoutingContext) {
		req := ctx.Request()
		if req.Method != http.MethodPost {
			_ = ctx.Fail(http.StatusMethodNotAllowed)
			return
		}
		if err := req.ParseForm(); err != nil {
			_ = ctx.FailWithError(http.StatusBadRequest, err)
			return
		}
		username, password := req.PostForm.Get(opts.UsernameParam), req.PostForm.Get(opts.PasswordParam)
		if username == "" || password == "" {
			_ = ctx.Fail(http.StatusBadRequest)
			return
		}
		user, err := provider.Authenticate(ctx.Context(), types.Credentials{Username: username, Password: password})
		if err != nil {
			_ = ctx.FailWithError(http.StatusForbidden, err)
			return
		}
		ctx.SetUser(user)
		if session := ctx.Session(); session != nil {
			if v, ok := session.Get(opts.ReturnURLParam); ok {
				session.Remove(opts.ReturnURLParam)
				if returnURL, ok := v.(string); ok && returnURL != "" {
					_ = ctx.Response().Redirect(returnURL)
					return
				}
			}
		}
		if opts.DirectLoggedInOKURL != "" {
			_ = ctx.Response().Redirect(opts.DirectLoggedInOKURL)
			return
		}
		_ = ctx.Response().EndString("Login successful")
	}
}

// Logout clears the user and redirects to location.
func Logout(location string) router.Handler {
	return func(ctx *router.RoutingContext) {
		ctx.ClearUser()
		_ = ctx.Response().Redirect(location)
	}
}
