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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rulego/webbus/api/types"
	endpointApi "github.com/rulego/webbus/api/types/endpoint"
	"github.com/rulego/webbus/config"
	"github.com/rulego/webbus/endpoint"
	"github.com/rulego/webbus/endpoint/mqtt"
	"github.com/rulego/webbus/endpoint/rest"
	"github.com/rulego/webbus/endpoint/schedule"
	"github.com/rulego/webbus/endpoint/websocket"
	"github.com/rulego/webbus/eventbus"
	"github.com/rulego/webbus/handler"
	"github.com/rulego/webbus/router"
)

const (
	// EventAddress is where the worker consumer listens and the acceptor route sends.
	EventAddress = "MSG://EVENT/BUS"
	// LoginPage is served to unauthenticated users of the private area.
	LoginPage = "/login.html"
)

// Settings is the application configuration, merged from the built-in defaults,
// the configuration file and the WEBBUS_* environment variables, where
// WEBBUS_REQUEST_TIMEOUT sets requestTimeout.
type Settings struct {
	Server      string `mapstructure:"server"`
	CertFile    string `mapstructure:"certFile"`
	CertKeyFile string `mapstructure:"certKeyFile"`
	H2C         bool   `mapstructure:"h2c"`
	WebRoot     string `mapstructure:"webRoot"`
	// RequestTimeout fails requests still running after it, zero disables it.
	RequestTimeout   time.Duration `mapstructure:"requestTimeout"`
	ReplyTimeout     time.Duration `mapstructure:"replyTimeout"`
	BlockingPoolSize int           `mapstructure:"blockingPoolSize"`
	BodyLimit        int64         `mapstructure:"bodyLimit"`
	UploadsDirectory string        `mapstructure:"uploadsDirectory"`
	SessionTimeout   time.Duration `mapstructure:"sessionTimeout"`
	// Auth holds user.<name> and role.<name> properties. The private area and the
	// login routes are only mounted when it is not empty.
	Auth     map[string]string   `mapstructure:"auth"`
	Bridge   types.Configuration `mapstructure:"bridge"`
	Mqtt     types.Configuration `mapstructure:"mqtt"`
	Schedule types.Configuration `mapstructure:"schedule"`
}

// defaultConfiguration is the lowest priority configuration store.
func defaultConfiguration() types.Configuration {
	return types.Configuration{
		"server":           ":8080",
		"webRoot":          handler.DefaultWebRoot,
		"requestTimeout":   "30s",
		"replyTimeout":     types.DefaultReplyTimeout.String(),
		"blockingPoolSize": types.DefaultBlockingPoolSize,
		"bodyLimit":        handler.DefaultBodyLimit,
		"uploadsDirectory": handler.DefaultUploadsDirectory,
		"sessionTimeout":   handler.DefaultSessionTimeout.String(),
		"bridge": map[string]interface{}{
			"path":     websocket.DefaultPath,
			"inbound":  []interface{}{map[string]interface{}{"address": EventAddress}},
			"outbound": []interface{}{map[string]interface{}{"addressRegex": `news\..+`}},
		},
	}
}

// newRetriever reads the defaults, then configFile when set, then the environment.
func newRetriever(configFile string, scanPeriod time.Duration, logger types.Logger) (*config.Retriever, error) {
	stores := []config.StoreOptions{{Type: config.TypeJSON, Config: defaultConfiguration()}}
	if configFile != "" {
		stores = append(stores, config.StoreOptions{Type: config.TypeFile, Config: types.Configuration{"path": configFile}})
	}
	stores = append(stores, config.StoreOptions{
		Type:   config.TypeEnv,
		Config: types.Configuration{"prefix": EnvPrefix + "_", "stripPrefix": true, "camelCase": true},
	})
	return config.NewRetriever(config.RetrieverOptions{Stores: stores, ScanPeriod: scanPeriod, Logger: logger})
}

// loadSettings retrieves the configuration once and decodes it.
func loadSettings(ctx context.Context, r *config.Retriever) (Settings, error) {
	var s Settings
	if _, err := r.GetConfig(ctx); err != nil {
		return s, err
	}
	if err := r.Unmarshal(&s); err != nil {
		return s, err
	}
	return s, nil
}

// app wires the router, the bus and the endpoints of one server.
type app struct {
	settings  Settings
	logger    types.Logger
	config    types.Config
	router    *router.Router
	bus       *eventbus.EventBus
	sessions  *handler.LocalSessionStore
	endpoints *endpoint.Group
	worker    *eventbus.Subscription
}

func newApp(settings Settings, logger types.Logger) (*app, error) {
	a := &app{settings: settings, logger: logger}
	a.config = types.NewConfig(
		types.WithLogger(logger),
		types.WithRequestTimeout(settings.RequestTimeout),
		types.WithReplyTimeout(settings.ReplyTimeout),
		types.WithBlockingPoolSize(settings.BlockingPoolSize),
	)
	a.router = router.NewWithConfig(a.config)
	a.bus = eventbus.NewWithConfig(a.config)
	a.sessions = handler.NewLocalSessionStore(time.Minute)

	if err := a.mountRoutes(); err != nil {
		a.close()
		return nil, err
	}
	a.worker = a.bus.Consumer(EventAddress, a.work)

	a.endpoints = endpoint.NewGroup(endpointApi.Env{Config: a.config, Router: a.router, Bus: a.bus})
	if err := a.addEndpoints(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) mountRoutes() error {
	s := a.settings
	a.router.Route().Handler(handler.Logger(a.logger))
	a.router.Route().Handler(handler.Session(a.sessions, handler.SessionOptions{
		Timeout:        s.SessionTimeout,
		CookieHTTPOnly: true,
		SameSite:       http.SameSiteLaxMode,
	}))
	a.router.Route().Handler(handler.UserSession())
	a.router.Route().Path("/api/*").Handler(handler.Body(handler.BodyOptions{
		Limit:                    s.BodyLimit,
		UploadsDirectory:         s.UploadsDirectory,
		HandleFileUploads:        true,
		DeleteUploadedFilesOnEnd: true,
	}))
	a.router.Route().Path("/api/*").Handler(handler.ResponseContentType())

	a.router.Get("/api/event").Produces("application/json").Handler(a.accept)
	a.router.Post("/api/event/:address").Consumes("application/json").BlockingHandler(a.publish)

	if len(s.Auth) > 0 {
		auth, err := handler.NewPropertiesAuth(s.Auth)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		a.router.Post("/login").Handler(handler.FormLogin(auth, handler.FormLoginOptions{DirectLoggedInOKURL: "/private/"}))
		a.router.Get("/logout").Handler(handler.Logout("/"))
		a.router.Route().Path("/private/*").Handler(handler.RedirectAuth(LoginPage))
		a.router.Get("/private/whoami").Handler(func(ctx *router.RoutingContext) {
			user := ctx.User()
			_ = ctx.Response().EndJSON(map[string]interface{}{"principal": user.Principal(), "attributes": user.Attributes()})
		})
	}

	a.router.Get("/*").Handler(handler.Static(handler.StaticOptions{WebRoot: s.WebRoot, CachingEnabled: true}))
	return nil
}

func (a *app) addEndpoints() error {
	s := a.settings
	if _, err := a.endpoints.Add(rest.Type, types.Configuration{
		"server":      s.Server,
		"certFile":    s.CertFile,
		"certKeyFile": s.CertKeyFile,
		"allowH2C":    s.H2C,
	}); err != nil {
		return err
	}
	if s.Bridge != nil {
		if _, err := a.endpoints.Add(websocket.Type, s.Bridge); err != nil {
			return err
		}
	}
	if len(s.Mqtt) > 0 {
		if _, err := a.endpoints.Add(mqtt.Type, s.Mqtt); err != nil {
			return err
		}
	}
	if len(s.Schedule) > 0 {
		if _, err := a.endpoints.Add(schedule.Type, s.Schedule); err != nil {
			return err
		}
	}
	return nil
}

// work answers the acceptor.
func (a *app) work(msg *eventbus.Message) {
	a.logger.Printf("worker received %v", msg.Body())
	if err := msg.Reply(map[string]interface{}{"worker": "worker message"}); err != nil {
		a.logger.Printf("worker reply err :%v", err)
	}
}

// accept sends a message to the worker and ends the response from the reply handler.
func (a *app) accept(ctx *router.RoutingContext) {
	a.request(ctx, EventAddress, map[string]interface{}{"message": "Event Communication"})
}

// publish forwards a JSON body to the bus. It asks for a reply when the
// X-Reply header is "true".
func (a *app) publish(ctx *router.RoutingContext) {
	var body interface{}
	if err := ctx.BodyAsJSON(&body); err != nil {
		_ = ctx.FailWithError(http.StatusBadRequest, err)
		return
	}
	address := ctx.PathParam("address")
	if ctx.Header("X-Reply") == "true" {
		a.request(ctx, address, body)
		return
	}
	if err := a.bus.Publish(address, body); err != nil {
		_ = ctx.FailWithError(busStatus(err), err)
		return
	}
	_ = ctx.Response().SetStatusCode(http.StatusAccepted).End()
}

// request returns without resuming the chain; the reply handler ends the response
// or fails the request.
func (a *app) request(ctx *router.RoutingContext, address string, body interface{}) {
	err := a.bus.Request(address, body, func(reply *eventbus.Message, err error) {
		if err != nil {
			_ = ctx.FailWithError(busStatus(err), err)
			return
		}
		_ = ctx.Response().EndJSON(reply.Body())
	})
	if err != nil {
		_ = ctx.FailWithError(busStatus(err), err)
	}
}

// busStatus maps a bus failure to an HTTP status.
func busStatus(err error) int {
	switch {
	case errors.Is(err, eventbus.ErrNoHandlers):
		return http.StatusServiceUnavailable
	case errors.Is(err, eventbus.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, eventbus.ErrRecipientFailure):
		return http.StatusBadGateway
	case errors.Is(err, eventbus.ErrEmptyAddress):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *app) start() error {
	return a.endpoints.Start()
}

func (a *app) close() error {
	var errs []error
	if a.endpoints != nil {
		errs = append(errs, a.endpoints.Close())
	}
	if a.worker != nil {
		_ = a.worker.Unregister()
	}
	errs = append(errs, a.bus.Close())
	a.sessions.Close()
	return errors.Join(errs...)
}
