package apperrors

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrPipelineRunning  = errors.New("pipeline run already in progress")
	ErrSchedulerStopped = errors.New("scheduler is not running")
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidPair      = errors.New("invalid pair number")
	ErrNoTable          = errors.New("no table found")
)
