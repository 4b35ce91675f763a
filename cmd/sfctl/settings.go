package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	httpserver "github.com/fyrsmithlabs/signalforge/internal/http"
	"github.com/fyrsmithlabs/signalforge/internal/policy"
)

func newSettingsCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Validate and manage account posting settings",
	}
	cmd.AddCommand(newSettingsValidateCmd())
	cmd.AddCommand(newSettingsGetCmd(opts))
	cmd.AddCommand(newSettingsPutCmd(opts))
	return cmd
}

func newSettingsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a settings file locally",
		Long: `Validate a YAML, TOML or JSON settings file without contacting the server.
The format is chosen by file extension. Unknown keys are rejected.

Examples:
  sfctl settings validate account.yaml
  sfctl settings validate account.toml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := readSettingsFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := policy.Validate(settings); err != nil {
				printViolations(out, err)
				return fmt.Errorf("%s: settings are invalid", args[0])
			}
			fmt.Fprintf(out, "%s: valid\n", args[0])
			return nil
		},
	}
}

func newSettingsGetCmd(opts *cliOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "get <account>",
		Short: "Print an account's stored settings",
		Long: `Print an account's stored settings as YAML (or JSON with --json).

Examples:
  sfctl settings get acct-1 > acct-1.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var settings policy.Settings
			if err := opts.do(cmd.Context(), http.MethodGet, settingsPath(args[0]), nil, &settings); err != nil {
				return err
			}
			if asJSON {
				return outputJSON(cmd.OutOrStdout(), settings)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(settings); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print settings as JSON")
	return cmd
}

func newSettingsPutCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put <account> <file>",
		Short: "Replace an account's settings from a file",
		Long: `Replace an account's settings from a YAML, TOML or JSON file.
The server rejects invalid settings and nothing is stored.

Examples:
  sfctl settings put acct-1 acct-1.yaml`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := readSettingsFile(args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			err = opts.do(cmd.Context(), http.MethodPut, settingsPath(args[0]), settings, nil)
			var ae *apiError
			if errors.As(err, &ae) && ae.Status == http.StatusUnprocessableEntity {
				var vr httpserver.ValidationResponse
				if json.Unmarshal(ae.Body, &vr) == nil {
					printViolations(out, &policy.ValidationError{Violations: vr.Violations})
					return fmt.Errorf("server rejected settings for %s", args[0])
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "settings updated for %s\n", args[0])
			return nil
		},
	}
}

func settingsPath(accountID string) string {
	return "/accounts/" + url.PathEscape(accountID) + "/settings"
}

// readSettingsFile decodes a settings file onto zero Settings, matching what
// the server binds. Unknown keys are errors in every format.
func readSettingsFile(path string) (policy.Settings, error) {
	var s policy.Settings
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
			return s, fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &s)
		if err != nil {
			return s, fmt.Errorf("parsing %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return s, fmt.Errorf("parsing %s: unknown keys %v", path, undecoded)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&s); err != nil {
			return s, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return s, fmt.Errorf("unsupported settings format %q (want .yaml, .toml or .json)", ext)
	}
	return s, nil
}

func printViolations(w io.Writer, err error) {
	ve, ok := policy.AsValidationError(err)
	if !ok {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	for _, v := range ve.Violations {
		fmt.Fprintf(w, "  %s\n", v)
	}
}
