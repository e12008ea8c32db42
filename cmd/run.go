package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/model"
)

var (
	runCompanyID string
	runJSON      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the analysis pipeline for a single company",
	Long:  "Runs the analysis job in the foreground and prints the resulting snapshot summary.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, syncScheduler{ctx: ctx})
		if err != nil {
			return err
		}
		defer env.Close()

		jobID, err := env.Controller.StartRun(ctx, runCompanyID)
		if err != nil {
			return eris.Wrap(err, "run")
		}

		job, err := env.Controller.GetJobStatus(ctx, runCompanyID)
		if err != nil {
			return eris.Wrap(err, "run: job status")
		}
		if job == nil || job.ID != jobID {
			// A concurrent run created a newer job; report ours.
			job, err = env.Store.GetJob(ctx, jobID)
			if err != nil {
				return eris.Wrap(err, "run: get job")
			}
		}

		zap.L().Info("run finished",
			zap.String("company_id", runCompanyID),
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
			zap.String("message", job.Message),
		)

		if job.Status == model.JobStatusFailed {
			return eris.Errorf("run: job %s failed: %s", job.ID, job.Error)
		}

		snap, err := env.Controller.GetLatestSnapshot(ctx, runCompanyID)
		if err != nil {
			return eris.Wrap(err, "run: latest snapshot")
		}
		if snap == nil || snap.JobID != job.ID {
			fmt.Fprintf(os.Stderr, "Job %s: %s (%s)\n", job.ID, job.Message, job.Error)
			return nil
		}

		if runJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		formatSnapshot(os.Stdout, snap)
		return nil
	},
}

// formatSnapshot writes a human-readable snapshot summary.
func formatSnapshot(w io.Writer, snap *model.Snapshot) {
	fmt.Fprintf(w, "%s (%s, %s)\n", snap.Name, snap.Sector, snap.Stage)
	fmt.Fprintf(w, "Recommendation: %s  Confidence: %.2f\n\n", snap.InvestmentRecommendation, snap.OverallConfidence)
	fmt.Fprintln(w, snap.OverallSummary)
	if snap.RecommendationReasoning != "" {
		fmt.Fprintf(w, "\n%s\n", snap.RecommendationReasoning)
	}

	fmt.Fprintln(w, "\nDomains:")
	tw := newTable(w)
	fmt.Fprintln(tw, "AGENT\tCONFIDENCE\tFINDINGS\tRISKS")
	for _, a := range snap.AgentAnalyses {
		fmt.Fprintf(tw, "%s\t%.2f\t%d\t%d\n", a.AgentName, a.Confidence, len(a.KeyFindings), len(a.Risks))
	}
	tw.Flush() //nolint:errcheck

	if len(snap.ConsolidatedRisks) > 0 {
		fmt.Fprintln(w, "\nRisks:")
		tw = newTable(w)
		fmt.Fprintln(tw, "SEVERITY\tRISK\tEVIDENCE")
		for _, r := range snap.ConsolidatedRisks {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Severity, r.Label, truncate(r.Evidence, 80))
		}
		tw.Flush() //nolint:errcheck
	}
}

func init() {
	runCmd.Flags().StringVar(&runCompanyID, "company", "", "company id to analyze (required)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the snapshot as JSON")
	_ = runCmd.MarkFlagRequired("company")
	rootCmd.AddCommand(runCmd)
}
