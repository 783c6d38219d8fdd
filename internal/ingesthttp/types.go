package ingesthttp

// UploadResponse is returned for an accepted archive
type UploadResponse struct {
	Organization string `json:"organization"`
	Repo         string `json:"repo"`
	Version      string `json:"version,omitempty"`

	ID     string `json:"id"`
	SHA256 string `json:"sha256"`

	// ExtractedFiles lists the top-level names of the extracted tree
	ExtractedFiles []string `json:"extracted_files"`
}

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Status  int    `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// AboutResponse describes the running build and the limits it enforces
type AboutResponse struct {
	Version              string   `json:"version"`
	Commit               string   `json:"commit"`
	BuildDate            string   `json:"build_date"`
	GoVersion            string   `json:"go_version"`
	MaxUncompressedBytes int64    `json:"max_uncompressed_bytes"`
	MaxUploadBytes       int64    `json:"max_upload_bytes"`
	MaxEntries           int      `json:"max_entries"`
	AllowedExtensions    []string `json:"allowed_extensions"`
}

type PingResponse struct {
	OK bool `json:"ok"`
}
