// Command makeriessctl drives a running makeriess process through its
// control API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonytanb/makeriess-marketplace-sub000/internal/api"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/models"
)

// client calls the control API of one makeriess process.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(addr string) *client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &client{
		baseURL: strings.TrimRight(addr, "/") + api.ControlPrefix,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// call sends body as JSON and decodes the envelope's result into out when
// out is non-nil. An error envelope is returned as an error.
func (c *client) call(method, path string, body, out interface{}) (string, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("cannot encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, r)
	if err != nil {
		return "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("cannot reach makeriess: %w", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", fmt.Errorf("unexpected response (HTTP %d): %w", resp.StatusCode, err)
	}
	if envelope.Status != string(models.APIStatusOK) {
		return "", fmt.Errorf("%s (HTTP %d)", envelope.Message, resp.StatusCode)
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return "", fmt.Errorf("cannot decode result: %w", err)
		}
	}
	return envelope.Message, nil
}

var addr string

var rootCmd = &cobra.Command{
	Use:          "makeriessctl",
	Short:        "Control a running makeriess process",
	Long:         "Inspect and manage the offline action queue, connectivity state and cache versions of a makeriess process.",
	SilenceUsage: true,
}

func init() {
	defaultAddr := os.Getenv("MAKERIESS_ADDR")
	if defaultAddr == "" {
		defaultAddr = api.DefaultAddr
	}
	rootCmd.PersistentFlags().StringVar(&addr, "addr", defaultAddr, "control API address (defaults to $MAKERIESS_ADDR)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
