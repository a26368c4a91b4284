// Package main provides a minimal HTTP healthcheck binary for container
// probes. It exits 0 when the exercise server answers 2xx and 1 otherwise.
//
// Usage: healthcheck [url]
//
// The URL defaults to $EXSTORE_HEALTHCHECK_URL, then to the local /readyz.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"
)

const defaultURL = "http://localhost:8080/readyz"

func main() {
	url := targetURL(os.Args[1:], os.Getenv("EXSTORE_HEALTHCHECK_URL"))
	if err := check(&http.Client{Timeout: 5 * time.Second}, url); err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
		os.Exit(1)
	}
}

func targetURL(args []string, env string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	if env != "" {
		return env
	}
	return defaultURL
}

func check(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	return nil
}
