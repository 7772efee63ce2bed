package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/keyanneal/internal/server"
	"github.com/cwbudde/keyanneal/internal/tui"
)

var (
	serverURL    string
	followStatus bool
)

// jobStatus mirrors the body of GET /api/v1/jobs/{id}/status
type jobStatus struct {
	server.Job
	Elapsed float64 `json:"elapsed"`
	IPS     float64 `json:"ips"`
}

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.
With --follow, progress is streamed until the job finishes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	statusCmd.Flags().BoolVarP(&followStatus, "follow", "f", false, "Stream progress until the job finishes")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	base := strings.TrimSuffix(serverURL, "/")
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		return listJobs(out, base+"/api/v1/jobs")
	}

	jobID := args[0]
	if followStatus {
		if err := followJob(out, base+"/api/v1/jobs/"+jobID+"/stream", jobID); err != nil {
			return err
		}
	}
	return getJobStatus(out, base+"/api/v1/jobs/"+jobID+"/status", jobID)
}

// getJSON fetches url and decodes the body into v
func getJSON(url string, v any) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(out io.Writer, url string) error {
	var jobs []server.Job
	if _, err := getJSON(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	fmt.Fprintf(out, "Found %d job(s):\n\n", len(jobs))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tNAME\tSTATE\tSTRATEGY\tKEYS\tITERATIONS\tSCORE")
	for _, job := range jobs {
		score := "-"
		if job.BestLayout != nil {
			score = fmt.Sprintf("%.0f -> %.0f", job.InitialScore, job.BestScore)
		}
		strategy := string(job.Config.Request.Strategy)
		if strategy == "" {
			strategy = "anneal"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			shortID(job.ID),
			job.Config.Name,
			job.State,
			strategy,
			len(job.Config.Request.Layout),
			job.Iterations,
			score,
		)
	}
	return w.Flush()
}

func getJobStatus(out io.Writer, url, jobID string) error {
	var status jobStatus
	code, err := getJSON(url, &status)
	if code == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return err
	}

	req := status.Config.Request
	fmt.Fprintf(out, "Job: %s\n", status.ID)
	fmt.Fprintf(out, "State: %s\n", status.State)
	if status.ResumedFrom != "" {
		fmt.Fprintf(out, "Resumed from: %s\n", status.ResumedFrom)
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Name:\t%s\n", status.Config.Name)
	fmt.Fprintf(w, "  Keys:\t%d\n", len(req.Layout))
	fmt.Fprintf(w, "  Text length:\t%d\n", len(req.Text))
	fmt.Fprintf(w, "  Strategy:\t%s\n", req.Strategy)
	fmt.Fprintf(w, "  Iterations:\t%d x %d restarts\n", req.Iterations, req.NumRestarts)
	fmt.Fprintf(w, "  Temperature:\t%g (cooling %g)\n", req.InitialTemperature, req.CoolingRate)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Progress:")
	fmt.Fprintf(w, "  Iterations:\t%d\n", status.Iterations)
	if status.BestLayout != nil {
		fmt.Fprintf(w, "  Initial score:\t%.0f\n", status.InitialScore)
		fmt.Fprintf(w, "  Best score:\t%.0f\t%s\n", status.BestScore, percentChange(status.InitialScore, status.BestScore))
	}
	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(w, "  Elapsed:\t%s\n", elapsed.Round(time.Millisecond))
	if status.IPS > 0 {
		fmt.Fprintf(w, "  Throughput:\t%.0f iterations/sec\n", status.IPS)
	}
	if status.Stats != nil {
		fmt.Fprintf(w, "  Restart scores:\tmean %.1f, std %.1f\n", status.Stats.Mean, status.Stats.StdDev)
	}
	w.Flush()

	if status.BestLayout != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, tui.RenderKeyboard(status.BestLayout, req.FingerAssignments, nil))
	}
	if status.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", status.Error)
	}
	return nil
}

// followJob prints stream events until the job reaches a terminal state
func followJob(out io.Writer, url, jobID string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", strings.TrimSpace(string(body)))
	}

	return readEvents(resp.Body, func(ev server.ProgressEvent) bool {
		fmt.Fprintf(out, "[%s] %-9s iterations=%d best=%.0f ips=%.0f\n",
			ev.Timestamp.Format("15:04:05"), ev.State, ev.Iterations, ev.BestScore, ev.IPS)
		return !ev.State.Terminal()
	})
}

// readEvents decodes "data:" lines of an SSE stream and passes them to fn
// until fn returns false or the stream ends
func readEvents(r io.Reader, fn func(server.ProgressEvent) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev server.ProgressEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("failed to decode event: %w", err)
		}
		if !fn(ev) {
			return nil
		}
	}
	return scanner.Err()
}
