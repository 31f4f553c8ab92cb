package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/drok-bot/drok/internal/config"
	"github.com/drok-bot/drok/internal/timeline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	runsChannel string
	runsStatus  string
	runsLimit   int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent orchestration runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTimeline(func(svc *timeline.Service) error {
			runs, err := svc.ListRuns(cmd.Context(), timeline.RunFilter{
				ChannelKey: runsChannel,
				Status:     runsStatus,
				Limit:      runsLimit,
			})
			if err != nil {
				return err
			}
			printRuns(os.Stdout, runs)
			return nil
		})
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <trace-id>",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTimeline(func(svc *timeline.Service) error {
			run, err := svc.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printRun(os.Stdout, run)
			return nil
		})
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the run journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTimeline(func(svc *timeline.Service) error {
			stats, err := svc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			printHeader("📈 drok Runs")
			printStats(os.Stdout, stats)
			return nil
		})
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsChannel, "channel", "", "Only runs for this channel key (e.g. slack:C123)")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "Only runs with this status (ok, error)")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum number of runs")
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
}

func withTimeline(fn func(svc *timeline.Service) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := timeline.NewService(cfg.Timeline.Path)
	if err != nil {
		return fmt.Errorf("open timeline: %w", err)
	}
	defer svc.Close()
	return fn(svc)
}

func printRuns(w io.Writer, runs []timeline.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tCHANNEL\tSENDER\tSTATUS\tOUTCOME\tITER\tTOOLS\tTOKENS\tTRACE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%d\t%s\n",
			r.StartedAt.Local().Format("01-02 15:04:05"),
			r.ChannelKey,
			r.SenderName,
			statusLabel(r),
			r.Outcome,
			r.Iterations,
			orDash(r.ToolCalls),
			r.TotalTokens,
			r.TraceID)
	}
	tw.Flush()
}

func printRun(w io.Writer, r *timeline.Run) {
	fmt.Fprintf(w, "Trace:      %s\n", r.TraceID)
	fmt.Fprintf(w, "Channel:    %s (%s)\n", r.ChannelKey, r.Platform)
	fmt.Fprintf(w, "Sender:     %s [%s]\n", r.SenderName, r.SenderID)
	fmt.Fprintf(w, "Message:    %s\n", r.MessageID)
	fmt.Fprintf(w, "Status:     %s\n", statusLabel(*r))
	fmt.Fprintf(w, "Outcome:    %s\n", r.Outcome)
	if r.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", r.Error)
	}
	fmt.Fprintf(w, "Iterations: %d\n", r.Iterations)
	fmt.Fprintf(w, "Tools:      %s\n", orDash(r.ToolCalls))
	fmt.Fprintf(w, "Turns:      +%d\n", r.TurnsAdded)
	fmt.Fprintf(w, "Tokens:     %d prompt, %d completion, %d total\n", r.PromptTokens, r.CompletionTokens, r.TotalTokens)
	fmt.Fprintf(w, "Duration:   %s\n", r.Duration())
	if r.Reply != "" {
		fmt.Fprintf(w, "\n%s\n", r.Reply)
	}
}

func printStats(w io.Writer, s *timeline.RunStats) {
	fmt.Fprintf(w, "Runs:   %d\n", s.Total)
	fmt.Fprintf(w, "Tokens: %d\n", s.TotalTokens)
	if len(s.ByOutcome) > 0 {
		fmt.Fprintln(w, "\nBy outcome:")
		for _, k := range sortedKeys(s.ByOutcome) {
			fmt.Fprintf(w, "  %-16s %d\n", k, s.ByOutcome[k])
		}
	}
	if len(s.ByErrorKind) > 0 {
		fmt.Fprintln(w, "\nBy error kind:")
		for _, k := range sortedKeys(s.ByErrorKind) {
			fmt.Fprintf(w, "  %-16s %d\n", k, s.ByErrorKind[k])
		}
	}
}

func statusLabel(r timeline.Run) string {
	if r.Status == timeline.RunStatusOK {
		return color.GreenString("%s", r.Status)
	}
	if r.ErrorKind != "" {
		return color.RedString("%s/%s", r.Status, r.ErrorKind)
	}
	return color.RedString("%s", r.Status)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// journalSummary is the one-line digest shown by status.
func journalSummary(ctx context.Context, svc *timeline.Service) string {
	stats, err := svc.Stats(ctx)
	if err != nil {
		return "unavailable (" + err.Error() + ")"
	}
	return fmt.Sprintf("%d runs, %d tokens", stats.Total, stats.TotalTokens)
}
