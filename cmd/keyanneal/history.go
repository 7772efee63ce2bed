package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/keyanneal/internal/config"
	"github.com/cwbudde/keyanneal/internal/store"
	"github.com/cwbudde/keyanneal/internal/tui"
)

var (
	historyDB       string
	historyName     string
	historyStrategy string
	historyTextFile string
	historySince    time.Duration
	historyLimit    int
	historyJSON     bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse recorded optimization runs",
}

var listHistoryCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, most recent first",
	Args:  cobra.NoArgs,
	RunE:  runListHistory,
}

var showHistoryCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a recorded run with its restart scores",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowHistory,
}

var bestHistoryCmd = &cobra.Command{
	Use:   "best",
	Short: "Show the best recorded run for a reference text",
	Args:  cobra.NoArgs,
	RunE:  runBestHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(listHistoryCmd, showHistoryCmd, bestHistoryCmd)

	historyCmd.PersistentFlags().StringVar(&historyDB, "history-db", config.DefaultDBPath(), "History database path")
	historyCmd.PersistentFlags().BoolVar(&historyJSON, "json", false, "Print records as JSON")
	historyCmd.PersistentFlags().StringVar(&historyTextFile, "text-file", "", "Only runs on this reference text")

	fl := listHistoryCmd.Flags()
	fl.StringVar(&historyName, "name", "", "Only runs with this layout name")
	fl.StringVar(&historyStrategy, "strategy", "", "Only runs with this strategy")
	fl.DurationVar(&historySince, "since", 0, "Only runs started within this duration (e.g. 24h)")
	fl.IntVar(&historyLimit, "limit", 20, "Maximum number of runs (0 = all)")
}

func openHistory(cmd *cobra.Command) (*store.History, error) {
	path := historyDB
	if !cmd.Flags().Changed("history-db") {
		path = config.String(fileCfg.Server.HistoryDB, historyDB)
	}
	return store.OpenHistory(path)
}

// textDigestFlag returns the digest of --text-file, or "" when unset
func textDigestFlag() (string, error) {
	if historyTextFile == "" {
		return "", nil
	}
	text, err := readTextFile(historyTextFile)
	if err != nil {
		return "", err
	}
	return store.TextDigest(text), nil
}

func runListHistory(cmd *cobra.Command, args []string) error {
	h, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	digest, err := textDigestFlag()
	if err != nil {
		return err
	}
	filter := store.HistoryFilter{
		Name:       historyName,
		Strategy:   historyStrategy,
		TextDigest: digest,
		Limit:      historyLimit,
	}
	if historySince > 0 {
		since := time.Now().Add(-historySince)
		filter.Since = &since
	}

	runs, err := h.ListRuns(commandContext(cmd), filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tNAME\tSTRATEGY\tKEYS\tTEXT\tITERATIONS\tSCORE")
	for _, r := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%d\t%.0f -> %.0f\n",
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Name,
			r.Strategy,
			r.Keys,
			r.TextDigest,
			r.IterationsCompleted,
			r.InitialScore,
			r.BestScore,
		)
	}
	return w.Flush()
}

func runShowHistory(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid run id %q", args[0])
	}

	h, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	rec, err := h.GetRun(commandContext(cmd), id)
	if err != nil {
		return err
	}
	return printRun(cmd, rec)
}

func runBestHistory(cmd *cobra.Command, args []string) error {
	digest, err := textDigestFlag()
	if err != nil {
		return err
	}
	if digest == "" {
		return fmt.Errorf("--text-file is required")
	}

	h, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	rec, err := h.BestRun(commandContext(cmd), digest)
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "No runs recorded for text %s.\n", digest)
		return nil
	}
	return printRun(cmd, rec)
}

func printRun(cmd *cobra.Command, rec *store.RunRecord) error {
	out := cmd.OutOrStdout()
	if historyJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}

	fmt.Fprintf(out, "Run %d (job %s)\n\n", rec.ID, rec.JobID)
	if rec.BestLayout != nil {
		fmt.Fprintln(out, tui.RenderKeyboard(rec.BestLayout, nil, nil))
		fmt.Fprintln(out)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Name:\t%s\n", rec.Name)
	fmt.Fprintf(w, "Strategy:\t%s\n", rec.Strategy)
	fmt.Fprintf(w, "Started:\t%s\n", rec.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "Duration:\t%s\n", rec.EndedAt.Sub(rec.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(w, "Text:\t%s (%d chars)\n", rec.TextDigest, rec.TextLength)
	fmt.Fprintf(w, "Iterations:\t%d x %d restarts\n", rec.Iterations, rec.Restarts)
	fmt.Fprintf(w, "Temperature:\t%g (cooling %g)\n", rec.InitialTemperature, rec.CoolingRate)
	fmt.Fprintf(w, "Seed:\t%d\n", rec.Seed)
	fmt.Fprintf(w, "Weights:\tdistance %g, balance %g, same finger %g\n",
		rec.WeightDistance, rec.WeightHandBalance, rec.WeightSameFinger)
	fmt.Fprintf(w, "Score:\t%.0f -> %.0f\t%s\n", rec.InitialScore, rec.BestScore, percentChange(rec.InitialScore, rec.BestScore))
	fmt.Fprintf(w, "Evaluations:\t%d\n", rec.Evaluations)
	w.Flush()

	if len(rec.RestartScores) > 0 {
		fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RESTART\tSEED\tSCORE\tEVALUATIONS\tSTALLED")
		for _, r := range rec.RestartScores {
			fmt.Fprintf(w, "%d\t%d\t%.0f\t%d\t%t\n", r.Restart, r.Seed, r.Score, r.Evaluations, r.Stalled)
		}
		w.Flush()
	}
	return nil
}
