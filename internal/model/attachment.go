package model

// AttachmentBlock is one attachment reference found in an export file
type AttachmentBlock struct {
	Name string `json:"name"` // Declared filename, trimmed
	URL  string `json:"url"`  // Source URL, trimmed
}

// RunSummary aggregates the counters of one run
type RunSummary struct {
	FilesScanned     int `json:"files_scanned" yaml:"files_scanned"`           // .txt files found under root
	FilesWithMatches int `json:"files_with_matches" yaml:"files_with_matches"` // Files that yielded at least one block
	ReadErrors       int `json:"read_errors" yaml:"read_errors"`               // Files that could not be read
	Matches          int `json:"matches" yaml:"matches"`                       // Attachment blocks found
	Downloaded       int `json:"downloaded" yaml:"downloaded"`
	Failed           int `json:"failed" yaml:"failed"`
}
