package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/keyanneal/internal/fit"
	"github.com/cwbudde/keyanneal/internal/tui"
)

var (
	evalFlags requestFlags
	evalJSON  bool
)

// evaluation is the JSON form of the evaluate command's output
type evaluation struct {
	Name          string      `json:"name"`
	Metrics       fit.Metrics `json:"metrics"`
	HandImbalance int         `json:"handImbalance"`
	Score         float64     `json:"score"`
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score a layout against a reference text",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, name, err := evalFlags.build(cmd)
		if err != nil {
			return err
		}
		problem, err := req.Problem()
		if err != nil {
			return err
		}

		m := fit.Evaluate(problem.Start, problem.Text, problem.Fingers)
		score := fit.Score(m, problem.Weights)

		out := cmd.OutOrStdout()
		if evalJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(evaluation{Name: name, Metrics: m, HandImbalance: m.HandImbalance(), Score: score})
		}

		fmt.Fprintf(out, "Layout: %s (%d keys)\n\n", name, problem.Start.Len())
		fmt.Fprintln(out, tui.RenderKeyboard(problem.Start, problem.Fingers, nil))
		fmt.Fprintln(out)

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "Strokes:\t%d\n", m.TotalStrokes)
		fmt.Fprintf(tw, "Distance:\t%d\n", m.DistanceTraveled)
		fmt.Fprintf(tw, "Same-finger strokes:\t%d\n", m.SameFingerStrokes)
		fmt.Fprintf(tw, "Finger alternations:\t%d\n", m.FingerAlternations)
		fmt.Fprintf(tw, "Left / right hand:\t%d / %d\n", m.LeftHandStrokes, m.RightHandStrokes)
		fmt.Fprintf(tw, "Hand imbalance:\t%d\n", m.HandImbalance())
		fmt.Fprintf(tw, "Score:\t%.0f\n", score)
		return tw.Flush()
	},
}

func init() {
	evalFlags.register(evaluateCmd, false)
	evaluateCmd.Flags().BoolVar(&evalJSON, "json", false, "Print the evaluation as JSON")
	rootCmd.AddCommand(evaluateCmd)
}
