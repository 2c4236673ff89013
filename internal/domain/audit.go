package domain

import "time"

// SeriesAudit captures per-series metadata for the audit trail
type SeriesAudit struct {
	Modality          string `json:"modality"`
	SeriesInstanceUID string `json:"series_instance_uid,omitempty"`
	StudyInstanceUID  string `json:"study_instance_uid,omitempty"`
	SliceCount        int    `json:"slice_count"`
}

// AuditEntry is one immutable record of a successful run. Entries are
// written once and never mutated or deleted.
type AuditEntry struct {
	Timestamp          time.Time     `json:"timestamp"`
	RunID              string        `json:"run_id"`
	OutputDirectory    string        `json:"output_directory"`
	OutputType         OutputType    `json:"output_type"`
	ImportedFileCount  int           `json:"imported_file_count"`
	RTStructCount      int           `json:"rtstruct_count"`
	Task               string        `json:"task,omitempty"`
	UseFast            bool          `json:"use_fast"`
	Device             string        `json:"device,omitempty"`
	SelectedClassNames []string      `json:"selected_class_names,omitempty"`
	Series             []SeriesAudit `json:"series"`
	ToolVersion        string        `json:"tool_version,omitempty"`
}
