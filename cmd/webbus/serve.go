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
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/config"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server",
	Long: `Start the HTTP server with the event bus bridge.

Settings are merged from the built-in defaults, the --config file and the
WEBBUS_* environment variables (e.g. WEBBUS_SERVER=:9090), then overridden by
the flags given on the command line.`,
	RunE: runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.String("addr", "", "listen address, e.g. :8080")
	flags.String("webroot", "", "directory of the static files")
	flags.Bool("h2c", false, "serve HTTP/2 without TLS")
	flags.Duration("request-timeout", 0, "fail requests running longer than this")
	flags.Duration("scan-period", 0, "reload the configuration at this interval, 0 disables it")
	for _, name := range []string{"addr", "webroot", "h2c", "request-timeout", "scan-period"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	stdLogger, err := initLogger(v.GetString("log-file"))
	if err != nil {
		return err
	}
	logger := types.NewLogger(stdLogger)

	retriever, err := newRetriever(v.GetString("config"), v.GetDuration("scan-period"), logger)
	if err != nil {
		return err
	}
	defer retriever.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := loadSettings(ctx, retriever)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	applyFlags(cmd, &settings)

	a, err := newApp(settings, logger)
	if err != nil {
		return err
	}
	if err := a.start(); err != nil {
		_ = a.close()
		return err
	}
	logger.Printf("webbus v%s started on %s", version, settings.Server)

	retriever.Listen(func(change config.Change) {
		logger.Printf("configuration changed %v, restart to apply", changedKeys(change))
	})
	retriever.Start()

	<-ctx.Done()
	logger.Printf("shutting down")
	return a.close()
}

// applyFlags overrides settings with the flags set on the command line.
func applyFlags(cmd *cobra.Command, s *Settings) {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		s.Server = v.GetString("addr")
	}
	if flags.Changed("webroot") {
		s.WebRoot = v.GetString("webroot")
	}
	if flags.Changed("h2c") {
		s.H2C = v.GetBool("h2c")
	}
	if flags.Changed("request-timeout") {
		s.RequestTimeout = v.GetDuration("request-timeout")
	}
}

// changedKeys returns the sorted top level keys whose values differ.
func changedKeys(change config.Change) []string {
	var keys []string
	for k, cur := range change.Current {
		if prev, ok := change.Previous[k]; !ok || fmt.Sprint(prev) != fmt.Sprint(cur) {
			keys = append(keys, k)
		}
	}
	for k := range change.Previous {
		if _, ok := change.Current[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
