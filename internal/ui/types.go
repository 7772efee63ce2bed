package ui

import (
	"fmt"
	"time"
)

// JobListItem is one row of the job index page
type JobListItem struct {
	ID           string
	Name         string
	State        string
	Strategy     string
	Iterations   int
	BestScore    float64
	InitialScore float64
	Grid         string
	StartTime    time.Time
	EndTime      *time.Time
	Error        string
}

// ShortID returns the first eight characters of the job ID
func (i JobListItem) ShortID() string {
	if len(i.ID) > 8 {
		return i.ID[:8]
	}
	return i.ID
}

// Improvement formats the relative score change since the start
func (i JobListItem) Improvement() string {
	if i.InitialScore <= 0 || i.Iterations == 0 {
		return "-"
	}
	return fmt.Sprintf("%+.1f%%", (i.BestScore-i.InitialScore)/i.InitialScore*100)
}

// Duration formats how long the job has been running, or ran
func (i JobListItem) Duration() string {
	end := time.Now()
	if i.EndTime != nil {
		end = *i.EndTime
	}
	return end.Sub(i.StartTime).Round(time.Second).String()
}
