package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonytanb/makeriess-marketplace-sub000/internal/api"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/signal"
)

func init() {
	rootCmd.AddCommand(statusCmd, connectivityCmd, skipWaitingCmd, cacheURLsCmd)
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity, queue and cache version state",
	RunE: func(cmd *cobra.Command, args []string) error {
		var st api.Status
		if _, err := newClient(addr).call(http.MethodGet, "/status", nil, &st); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		online := "offline"
		if st.Online {
			online = "online"
		}
		fmt.Fprintf(out, "Connectivity:    %s\n", online)
		fmt.Fprintf(out, "Pending actions: %d\n", st.PendingActions)
		fmt.Fprintf(out, "Cached entities: %d\n", st.CachedEntities)
		fmt.Fprintf(out, "Active version:  %s\n", valueOrDefault(st.ActiveVersion, "(none)"))
		fmt.Fprintf(out, "Waiting version: %s\n", valueOrDefault(st.WaitingVersion, "(none)"))
		fmt.Fprintf(out, "Open clients:    %d\n", st.Clients)
		return nil
	},
}

var connectivityCmd = &cobra.Command{
	Use:       "connectivity [online|offline]",
	Short:     "Show or set the connectivity state",
	Long:      "Without an argument, print the current state. Setting online triggers a replay of pending actions.",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"online", "offline"},
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(addr)
		var st api.ConnectivityState
		if len(args) == 0 {
			if _, err := c.call(http.MethodGet, "/connectivity", nil, &st); err != nil {
				return err
			}
		} else {
			var online bool
			switch strings.ToLower(args[0]) {
			case "online":
				online = true
			case "offline":
			default:
				return fmt.Errorf("expected online or offline, got %q", args[0])
			}
			if _, err := c.call(http.MethodPut, "/connectivity", map[string]bool{"online": online}, &st); err != nil {
				return err
			}
		}
		state := "offline"
		if st.Online {
			state = "online"
		}
		fmt.Fprintln(cmd.OutOrStdout(), state)
		return nil
	},
}

var skipWaitingCmd = &cobra.Command{
	Use:   "skip-waiting",
	Short: "Activate a waiting cache version immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := newClient(addr).call(http.MethodPost, "/signal", signal.Message{Type: signal.SkipWaiting}, nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	},
}

var cacheURLsCmd = &cobra.Command{
	Use:   "cache-urls <url>...",
	Short: "Fetch URLs into the dynamic cache for offline use",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := newClient(addr).call(http.MethodPost, "/signal", signal.Message{Type: signal.CacheURLs, URLs: args}, nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	},
}
