// Package main implements sfctl, the operator CLI for the signalforged HTTP API.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/signalforge/internal/coordinator"
	httpserver "github.com/fyrsmithlabs/signalforge/internal/http"
)

// version information
var version = "dev"

const defaultServer = "http://localhost:8010"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cliOptions holds the global flags shared by every command.
type cliOptions struct {
	server  string
	token   string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "sfctl",
		Short: "CLI for the signalforged scheduler",
		Long: `sfctl is a command-line interface for operating the signalforged scheduler.
It triggers runs, checks health and manages per-account posting settings.`,
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.server, "server", defaultServer, "signalforged server URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("SIGNALFORGE_TOKEN"), "bearer token (default $SIGNALFORGE_TOKEN)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "request timeout")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newHealthCmd(opts))
	root.AddCommand(newSettingsCmd(opts))
	return root
}

// apiError is a non-2xx response from the server.
type apiError struct {
	Status int
	Body   []byte
}

func (e *apiError) Error() string {
	var er httpserver.ErrorResponse
	if json.Unmarshal(e.Body, &er) == nil && er.Error != "" {
		return fmt.Sprintf("server returned status %d: %s", e.Status, er.Error)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Status, strings.TrimSpace(string(e.Body)))
}

// do sends a JSON request and decodes a 2xx response into out.
func (o *cliOptions) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	url := strings.TrimRight(o.server, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}

	client := &http.Client{Timeout: o.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &apiError{Status: resp.StatusCode, Body: data}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRunCmd(opts *cliOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Trigger a scheduler run",
		Long: `Trigger one scheduler run across all enabled accounts and print the result.

Examples:
  # Run and print a table
  sfctl run

  # Run against another server and print raw JSON
  sfctl run --server http://scheduler:8010 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var summary coordinator.Summary
			if err := opts.do(cmd.Context(), http.MethodPost, "/scheduler/run", nil, &summary); err != nil {
				return err
			}
			if asJSON {
				return outputJSON(cmd.OutOrStdout(), summary)
			}
			return printSummary(cmd.OutOrStdout(), &summary)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run summary as JSON")
	return cmd
}

func printSummary(w io.Writer, s *coordinator.Summary) error {
	fmt.Fprintf(w, "Run %s (%d accounts, %s)\n\n", s.RunID, len(s.Results), s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tOUTCOME\tREASON\tPOSTS\tANNOTATIONS")
	for _, r := range s.Results {
		reason := r.Reason
		if reason == "" {
			reason = "-"
		}
		annotations := "-"
		if len(r.Annotations) > 0 {
			annotations = strings.Join(r.Annotations, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.AccountID, r.Outcome, reason, len(r.Posts), annotations)
	}
	return tw.Flush()
}

func newHealthCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check signalforged health",
		Long: `Check the health status of the signalforged server and its dependencies.

Examples:
  sfctl health
  sfctl health --server http://localhost:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var health httpserver.HealthResponse
			err := opts.do(cmd.Context(), http.MethodGet, "/health", nil, &health)
			var ae *apiError
			if errors.As(err, &ae) && ae.Status == http.StatusServiceUnavailable {
				// Degraded servers still report their checks.
				if jsonErr := json.Unmarshal(ae.Body, &health); jsonErr != nil {
					return err
				}
			} else if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server Status: %s\n", health.Status)
			fmt.Fprintf(out, "Server URL: %s\n", opts.server)
			if health.Version != "" {
				fmt.Fprintf(out, "Version: %s\n", health.Version)
			}
			fmt.Fprintf(out, "Posting Disabled: %t\n", health.PostingDisabled)
			for _, name := range slices.Sorted(maps.Keys(health.Checks)) {
				fmt.Fprintf(out, "  %-8s %s\n", name, health.Checks[name])
			}
			if health.Status != "ok" {
				return fmt.Errorf("server is %s", health.Status)
			}
			return nil
		},
	}
}
