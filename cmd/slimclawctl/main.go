package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

var version = "dev"

// loadEnvFile reads ~/.slimclaw/env (if present) and sets any key=value pairs not already present in the process environment.
// This lets slimclawctl work out of the box without shell profile
// configuration.
func loadEnvFile() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	data, err := os.ReadFile(home + "/.slimclaw/env")
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if os.Getenv(strings.TrimSpace(k)) == "" {
			_ = os.Setenv(strings.TrimSpace(k), strings.TrimSpace(v))
		}
	}
}

func baseURL() string {
	if u := os.Getenv("SLIMCLAW_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://localhost:8090"
}

func main() {
	loadEnvFile()
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]

	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("slimclawctl %s\n", version)
	case "status":
		doStatus()
	case "health":
		doHealth()
	case "help", "--help", "-h":
		usageTo(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	usageTo(os.Stderr)
}

func usageTo(w io.Writer) {
	_, _ = fmt.Fprintf(w, `slimclawctl — CLI for the slimclaw optimization sidecar

Usage: slimclawctl <command>

Environment:
  SLIMCLAW_URL      Base URL of the running sidecar (default: http://localhost:8090)

  ~/.slimclaw/env   Auto-sourced on startup. Explicit environment
                    variables take precedence.

Commands:
  status    Show aggregated request/cost/savings totals and the live
            configuration summary, as served by GET /admin/status.
  health    Check GET /health and print the bound port.
  version   Print the client version.
`)
}

func getJSON(path string, out any) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL() + path)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func doHealth() {
	var out map[string]any
	if err := getJSON("/health", &out); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("status: %v\nport: %v\n", out["status"], out["port"])
}

type statusResponse struct {
	Mode             string  `json:"mode"`
	RoutingEnabled   bool    `json:"routing_enabled"`
	WindowingEnabled bool    `json:"windowing_enabled"`
	CachingEnabled   bool    `json:"caching_enabled"`
	TotalRequests    int64   `json:"total_requests"`
	TotalCostUSD     float64 `json:"total_cost_usd"`
	TokensSaved      int64   `json:"tokens_saved"`
	ErrorCount       int64   `json:"error_count"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
}

func doStatus() {
	var out statusResponse
	if err := getJSON("/admin/status", &out); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintf(tw, "mode:\t%s\n", out.Mode)
	fmt.Fprintf(tw, "windowing:\t%v\n", out.WindowingEnabled)
	fmt.Fprintf(tw, "routing:\t%v\n", out.RoutingEnabled)
	fmt.Fprintf(tw, "caching:\t%v\n", out.CachingEnabled)
	fmt.Fprintf(tw, "requests (24h):\t%d\n", out.TotalRequests)
	fmt.Fprintf(tw, "errors (24h):\t%d\n", out.ErrorCount)
	fmt.Fprintf(tw, "cost (24h):\t$%.4f\n", out.TotalCostUSD)
	fmt.Fprintf(tw, "tokens saved (24h):\t%d\n", out.TokensSaved)
	fmt.Fprintf(tw, "avg latency:\t%.1fms\n", out.AvgLatencyMs)
	_ = tw.Flush()
}
