package models

import "time"

// RunStatus is the outcome of the most recent pipeline execution.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// RunStats are cumulative pipeline execution counters.
type RunStats struct {
	TotalRuns      int `json:"total_runs"`
	SuccessfulRuns int `json:"successful_runs"`
	FailedRuns     int `json:"failed_runs"`
}

// SchedulerStatus is a snapshot of the scheduler state.
type SchedulerStatus struct {
	Running    bool       `json:"running"`
	LastRun    *time.Time `json:"last_run"`
	LastStatus *RunStatus `json:"last_status"`
	LastRunID  string     `json:"last_run_id,omitempty"`
	Stats      RunStats   `json:"stats"`
}

// PipelineResult summarizes one pipeline run.
type PipelineResult struct {
	RunID            string        `json:"run_id"`
	Documents        int           `json:"documents"`
	Lessons          int           `json:"lessons"`
	OccupancyReports int           `json:"occupancy_reports"`
	OccupancyRecords int           `json:"occupancy_records"`
	Duration         time.Duration `json:"duration"`
}
