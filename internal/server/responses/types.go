// Package responses defines API response types used by the build relay HTTP handlers.
package responses

import "time"

// SubmitResponse is returned by the build intake endpoint. Artifact is set
// only in sync mode and carries the base64-encoded result.
type SubmitResponse struct {
	CorrelationKey string `json:"correlation_key"`
	Mode           string `json:"mode"`
	Artifact       string `json:"artifact,omitempty"`
	Size           int    `json:"size,omitempty"`
}

// ResultResponse is returned when a result has been retrieved.
type ResultResponse struct {
	CorrelationKey string `json:"correlation_key"`
	Artifact       string `json:"artifact"`
	Size           int    `json:"size"`
}

// PendingResponse is returned while a result is not yet available.
type PendingResponse struct {
	CorrelationKey string `json:"correlation_key"`
	Status         string `json:"status"`
}

// StatusResponse represents a job's ledger entry.
type StatusResponse struct {
	CorrelationKey string    `json:"correlation_key"`
	State          string    `json:"state"`
	Outcome        string    `json:"outcome,omitempty"`
	Delivery       uint64    `json:"delivery,omitempty"`
	Manifest       string    `json:"manifest,omitempty"`
	Artifact       string    `json:"artifact,omitempty"`
	ExitCode       *int      `json:"exit_code,omitempty"`
	Error          string    `json:"error,omitempty"`
	Abandoned      bool      `json:"abandoned"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HealthResponse represents the health check API response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    float64   `json:"uptime"`
	Mode      string    `json:"mode"`
}
