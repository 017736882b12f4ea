package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"senechal/internal/config"

	"github.com/spf13/cobra"
)

const checkTimeout = 10 * time.Second

type checkStatus int

const (
	checkOK checkStatus = iota
	checkHTTPError
	checkConnError
	checkTimedOut
)

type endpointCheck struct {
	Name   string
	URL    string
	Status checkStatus
	Detail string
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that configured API endpoints are reachable",
		Long: `Loads the configuration, reports overlapping command prefixes and
sends a GET to every command endpoint. Reports pass/warn/fail per endpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				printFail("Config", err.Error())
				return err
			}
			printPass("Config", configPath)

			for _, w := range config.PrefixOverlaps(cfg) {
				printWarn("Prefixes", w)
			}

			fmt.Println("\nChecking API endpoints...")
			client := &http.Client{Timeout: checkTimeout}
			failed := 0
			for _, c := range runChecks(cmd.Context(), client, cfg) {
				switch c.Status {
				case checkOK:
					if !cfg.Bot.Quiet {
						printPass(c.Name, c.Detail)
					}
				case checkHTTPError:
					printWarn(c.Name, c.Detail)
				default:
					printFail(c.Name, c.Detail)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d endpoint(s) unreachable", failed)
			}
			return nil
		},
	}
}

// runChecks probes every command endpoint in configuration order.
func runChecks(ctx context.Context, client *http.Client, cfg *config.Config) []endpointCheck {
	if ctx == nil {
		ctx = context.Background()
	}
	var out []endpointCheck
	for _, ch := range cfg.Channels {
		for _, set := range ch.CommandSets {
			name := fmt.Sprintf("%s/%s", ch.Name, set.Name)
			out = append(out, probe(ctx, client, name, set.Spec.APICall.URL))
		}
	}
	return out
}

func probe(ctx context.Context, client *http.Client, name, url string) endpointCheck {
	c := endpointCheck{Name: name, URL: url}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.Status, c.Detail = checkConnError, fmt.Sprintf("request error (%v)", err)
		return c
	}

	resp, err := client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			c.Status, c.Detail = checkTimedOut, fmt.Sprintf("timeout error (%s)", url)
		} else {
			c.Status, c.Detail = checkConnError, fmt.Sprintf("connection error (%v)", err)
		}
		return c
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		c.Status, c.Detail = checkHTTPError, fmt.Sprintf("error (%d)", resp.StatusCode)
		return c
	}
	c.Status, c.Detail = checkOK, "OK"
	return c
}

func printPass(check, detail string) {
	fmt.Fprintf(os.Stdout, "  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Fprintf(os.Stdout, "  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Fprintf(os.Stdout, "  [WARN] %-20s %s\n", check, detail)
}
