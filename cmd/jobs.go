package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/diligence-cli/internal/activity"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect analysis jobs, snapshots and agent activity",
}

// withStore opens the store for a read-only jobs subcommand.
func withStore(cmd *cobra.Command, fn func(st store.Store) error) error {
	if err := cfg.Validate("store"); err != nil {
		return err
	}
	st, _, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	return fn(st)
}

// -- jobs status --

var jobsStatusCmd = &cobra.Command{
	Use:   "status <company-id>",
	Short: "Show the latest job for a company",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st store.Store) error {
			job, err := st.LatestJob(cmd.Context(), args[0])
			if err != nil {
				return eris.Wrap(err, "jobs status")
			}
			if job == nil {
				fmt.Fprintln(os.Stderr, "No jobs found.")
				return nil
			}
			formatJobsList(os.Stdout, []model.AnalysisJob{*job})
			return nil
		})
	},
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		company, _ := cmd.Flags().GetString("company")
		status, _ := cmd.Flags().GetString("status")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.JobFilter{
			CompanyID: company,
			Status:    model.JobStatus(status),
			Limit:     limit,
		}
		if since > 0 {
			filter.CreatedAfter = time.Now().UTC().Add(-since)
		}

		return withStore(cmd, func(st store.Store) error {
			jobs, err := st.ListJobs(cmd.Context(), filter)
			if err != nil {
				return eris.Wrap(err, "jobs list")
			}
			if len(jobs) == 0 {
				fmt.Fprintln(os.Stderr, "No jobs found.")
				return nil
			}
			formatJobsList(os.Stdout, jobs)
			return nil
		})
	},
}

// -- jobs snapshot --

var jobsSnapshotCmd = &cobra.Command{
	Use:   "snapshot <company-id>",
	Short: "Print the latest snapshot for a company as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st store.Store) error {
			snap, err := st.LatestSnapshot(cmd.Context(), args[0])
			if err != nil {
				return eris.Wrap(err, "jobs snapshot")
			}
			if snap == nil {
				fmt.Fprintln(os.Stderr, "No snapshot found.")
				return nil
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		})
	},
}

// -- jobs agents --

var jobsAgentsCmd = &cobra.Command{
	Use:   "agents <company-id> <job-id>",
	Short: "Show per-agent status for a job",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st store.Store) error {
			statuses, err := activity.NewFeed(st).GetAgentsStatus(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			formatAgentStatuses(os.Stdout, statuses)
			return nil
		})
	},
}

// -- jobs activity --

var jobsActivityCmd = &cobra.Command{
	Use:   "activity <company-id> <job-id>",
	Short: "Show recent activity events for a job, newest first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withStore(cmd, func(st store.Store) error {
			events, err := activity.NewFeed(st).GetRecentActivity(cmd.Context(), args[0], args[1], limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintln(os.Stderr, "No activity found.")
				return nil
			}
			formatActivity(os.Stdout, events)
			return nil
		})
	},
}

// -- jobs tools --

var jobsToolsCmd = &cobra.Command{
	Use:   "tools <company-id> <job-id> <agent>",
	Short: "Show an agent's tool calls joined to their results",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID := model.AgentID(args[2])
		if !agentID.Valid() {
			return eris.Errorf("unknown agent %q", args[2])
		}
		return withStore(cmd, func(st store.Store) error {
			calls, err := activity.NewFeed(st).GetAgentToolCalls(cmd.Context(), args[0], args[1], agentID)
			if err != nil {
				return err
			}
			if len(calls) == 0 {
				fmt.Fprintln(os.Stderr, "No tool calls found.")
				return nil
			}
			formatToolCalls(os.Stdout, calls)
			return nil
		})
	},
}

func init() {
	jobsListCmd.Flags().String("company", "", "filter by company id")
	jobsListCmd.Flags().String("status", "", "filter by job status (queued, running, ingesting, analyzing, completed, failed)")
	jobsListCmd.Flags().Duration("since", 0, "only jobs created within this window (e.g. 24h)")
	jobsListCmd.Flags().Int("limit", 50, "max number of jobs to display")

	jobsActivityCmd.Flags().Int("limit", activity.DefaultRecentLimit, "max number of events to display")

	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsSnapshotCmd)
	jobsCmd.AddCommand(jobsAgentsCmd)
	jobsCmd.AddCommand(jobsActivityCmd)
	jobsCmd.AddCommand(jobsToolsCmd)
	rootCmd.AddCommand(jobsCmd)
}

const timeLayout = "2006-01-02 15:04"

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// formatJobsList writes a table of jobs.
func formatJobsList(w io.Writer, jobs []model.AnalysisJob) {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tCOMPANY\tSTATUS\tPROGRESS\tMESSAGE\tCREATED\tDURATION")
	for _, j := range jobs {
		dur := "-"
		if j.CompletedAt != nil {
			dur = j.CompletedAt.Sub(j.CreatedAt).Round(time.Second).String()
		}
		msg := j.Message
		if j.Error != "" {
			msg += " (" + j.Error + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\t%s\t%s\n",
			shortID(j.ID),
			j.CompanyID,
			j.Status,
			j.Progress,
			truncate(msg, 60),
			j.CreatedAt.Format(timeLayout),
			dur,
		)
	}
	tw.Flush() //nolint:errcheck
}

// formatAgentStatuses writes a table of per-agent status.
func formatAgentStatuses(w io.Writer, statuses []model.AgentStatus) {
	tw := newTable(w)
	fmt.Fprintln(tw, "AGENT\tSTATUS\tTOOL CALLS\tRESULTS\tERRORS\tLAST ACTIVITY")
	for _, s := range statuses {
		last := "-"
		if s.LastActivity != nil {
			last = s.LastActivity.Format(timeLayout)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			s.AgentName, s.Status, s.ToolCalls, s.ToolResults, s.Errors, last)
	}
	tw.Flush() //nolint:errcheck
}

// formatActivity writes a table of activity events.
func formatActivity(w io.Writer, events []model.ActivityEvent) {
	tw := newTable(w)
	fmt.Fprintln(tw, "TIME\tAGENT\tTYPE\tSTATUS\tDETAIL")
	for _, ev := range events {
		detail := ev.ToolName
		if ev.ErrorMessage != "" {
			detail = ev.ErrorMessage
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			ev.Timestamp.Format("15:04:05"), ev.AgentID, ev.Type, ev.Status, truncate(detail, 60))
	}
	tw.Flush() //nolint:errcheck
}

// formatToolCalls writes a table of joined tool calls.
func formatToolCalls(w io.Writer, calls []model.ToolCallWithResult) {
	tw := newTable(w)
	fmt.Fprintln(tw, "CALL\tTOOL\tSTATUS\tDURATION\tINPUT")
	for _, c := range calls {
		dur := "-"
		if c.ExecutionTimeMs != nil {
			dur = (time.Duration(*c.ExecutionTimeMs) * time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			c.CallID, c.ToolName, c.Status, dur, truncate(c.ToolInput, 60))
	}
	tw.Flush() //nolint:errcheck
}

// shortID returns the first 8 characters of an ID.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncate shortens s to n runes with a trailing ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
