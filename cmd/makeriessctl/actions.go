package main

import (
	"fmt"
	"net/http"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tonytanb/makeriess-marketplace-sub000/internal/models"
	"github.com/tonytanb/makeriess-marketplace-sub000/internal/queue"
)

func init() {
	actionsCmd.AddCommand(actionsListCmd, actionsClearCmd, actionsRemoveCmd)
	rootCmd.AddCommand(actionsCmd, replayCmd)
}

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Inspect or clear queued offline actions",
}

var actionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending actions in insertion order",
	RunE: func(cmd *cobra.Command, args []string) error {
		var pending []models.PendingAction
		if _, err := newClient(addr).call(http.MethodGet, "/actions", nil, &pending); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(pending) == 0 {
			fmt.Fprintln(out, "No pending actions.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tACTION\tQUEUED\tATTEMPTS\tLAST ERROR")
		for _, a := range pending {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n", a.ID, a.Type, a.Action, a.Timestamp.Local().Format("2006-01-02 15:04:05"), a.Attempts, a.LastError)
		}
		return w.Flush()
	},
}

var actionsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every pending action without delivering it",
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := newClient(addr).call(http.MethodDelete, "/actions", nil, nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	},
}

var actionsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete one pending action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid action id %q", args[0])
		}
		msg, err := newClient(addr).call(http.MethodDelete, fmt.Sprintf("/actions/%d", id), nil, nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay pending actions now",
	RunE: func(cmd *cobra.Command, args []string) error {
		var res queue.ReplayResult
		if _, err := newClient(addr).call(http.MethodPost, "/replay", nil, &res); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "attempted %d, delivered %d, failed %d, skipped %d\n", res.Attempted, res.Delivered, res.Failed, res.Skipped)
		return nil
	},
}
