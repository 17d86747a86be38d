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
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	version = "1.0.0"
	// EnvPrefix prefixes the environment variables read by the command.
	EnvPrefix = "WEBBUS"
)

// v holds the process level settings: flags, then WEBBUS_* variables.
var v = viper.New()

var rootCmd = &cobra.Command{
	Use:           "webbus",
	Short:         "webbus - HTTP router and event bus server",
	Version:       version,
	SilenceUsage:  true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "webbus v%s\n", version)
	},
}

func init() {
	rootCmd.SetVersionTemplate("webbus version {{.Version}}\n")
	rootCmd.PersistentFlags().StringP("config", "c", "", "configuration file (json, yaml, toml or js)")
	rootCmd.PersistentFlags().String("log-file", "", "append logs to this file instead of stdout")
	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("log-file", rootCmd.PersistentFlags().Lookup("log-file"))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd.AddCommand(versionCmd)
}

// initLogger returns a logger writing to logFile, or to stdout when it is empty.
func initLogger(logFile string) (*log.Logger, error) {
	if logFile == "" {
		return log.New(os.Stdout, "[webbus] ", log.LstdFlags), nil
	}
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return log.New(f, "[webbus] ", log.LstdFlags), nil
}
