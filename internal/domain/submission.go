package domain

import (
	"context"
	"io"
	"time"
)

// Upload is a file attached to a submission.
type Upload struct {
	Filename string
	Content  io.Reader
}

// Submission is the input of one generation request.
// Code wins over Upload whenever it is non-blank.
type Submission struct {
	Code      string
	Upload    *Upload
	SessionID string
}

// Result is the reshaped model reply.
type Result struct {
	Count     string `json:"num_test_cases"`
	Cases     string `json:"test_cases"`
	SessionID string `json:"session_id,omitempty"`
}

// StagedFile describes an upload persisted to the staging directory.
// ID is the storage key; OriginalName is kept as metadata only.
type StagedFile struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"original_name"`
	Path         string    `json:"-"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
}

// Stager persists uploaded files before their content is handed to the model.
type Stager interface {
	Stage(ctx context.Context, name string, r io.Reader) (StagedFile, error)
	Read(ctx context.Context, f StagedFile) (string, error)
	Remove(ctx context.Context, f StagedFile) error
}
