// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the resolved configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(config.Redacted())
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

// Known keyring secret names, matching what LoadConfig reads back.
var keyringSecrets = map[string]bool{
	"github_token":      true,
	"anthropic_api_key": true,
	"openai_api_key":    true,
	"gemini_api_key":    true,
	"mistral_api_key":   true,
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <name>",
	Short: "Store a secret in the OS keyring",
	Long: heredoc.Doc(`
		Store a secret under the tapestry keyring service. The value is
		read from stdin so it never lands in shell history. Known names:
		github_token, anthropic_api_key, openai_api_key, gemini_api_key,
		mistral_api_key.
	`),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if !keyringSecrets[name] {
			return exitWith(exitConfig, fmt.Errorf("unknown secret %q", name))
		}
		value, err := readSecret(os.Stdin)
		if err != nil {
			return err
		}
		if err := keyring.Set(ServiceName, name, value); err != nil {
			return fmt.Errorf("keyring store failed: %w", err)
		}
		fmt.Printf("stored %s\n", name)
		return nil
	},
}

var configDeleteSecretCmd = &cobra.Command{
	Use:   "delete-secret <name>",
	Short: "Remove a secret from the OS keyring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		if !keyringSecrets[name] {
			return exitWith(exitConfig, fmt.Errorf("unknown secret %q", name))
		}
		if err := keyring.Delete(ServiceName, name); err != nil {
			return fmt.Errorf("keyring delete failed: %w", err)
		}
		fmt.Printf("deleted %s\n", name)
		return nil
	},
}

// readSecret reads one trimmed line; empty input is rejected.
func readSecret(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", exitWith(exitConfig, fmt.Errorf("empty secret on stdin"))
	}
	value := strings.TrimSpace(scanner.Text())
	if value == "" {
		return "", exitWith(exitConfig, fmt.Errorf("empty secret on stdin"))
	}
	return value, nil
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetSecretCmd)
	configCmd.AddCommand(configDeleteSecretCmd)
	rootCmd.AddCommand(configCmd)
}
