package server

import (
	"net/http"
	"strings"

	"github.com/cwbudde/keyanneal/internal/ui"
)

// handleIndex handles GET /
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	jobs := s.jobManager.ListJobs()

	jobItems := make([]ui.JobListItem, len(jobs))
	for i, job := range jobs {
		item := ui.JobListItem{
			ID:           job.ID,
			Name:         job.Config.Name,
			State:        string(job.State),
			Strategy:     string(job.Config.Request.Strategy),
			Iterations:   job.Iterations,
			BestScore:    job.BestScore,
			InitialScore: job.InitialScore,
			StartTime:    job.StartTime,
			EndTime:      job.EndTime,
			Error:        job.Error,
		}
		if job.BestLayout != nil {
			item.Grid = strings.Join(job.BestLayout.Grid(), "\n")
		}
		jobItems[i] = item
	}

	if err := ui.JobList(jobItems).Render(r.Context(), w); err != nil {
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
}
