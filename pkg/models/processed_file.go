package models

import "time"

// FileType identifies the kind of remote document recorded in the ledger.
type FileType string

const (
	FileTypeSchedule  FileType = "schedule"
	FileTypeOccupancy FileType = "occupancy"
)

// ProcessedFile is one ledger row: the last content hash seen for a remote
// document name. Its absence or a hash mismatch triggers re-ingestion.
type ProcessedFile struct {
	Filename    string    `json:"filename"`
	ContentHash string    `json:"content_hash"`
	LastUpdated time.Time `json:"last_updated"`
	FileType    FileType  `json:"file_type"`
}
