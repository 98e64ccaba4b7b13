package domain

import "errors"

// Error taxonomy shared by the orchestrator and the transport layer.
var (
	// ErrInvalidRequest means the client supplied neither code nor a file.
	ErrInvalidRequest = errors.New("no code or file provided")

	// ErrUploadTooLarge means an upload exceeded the configured size limit.
	ErrUploadTooLarge = errors.New("uploaded file is too large")

	// ErrUpstream wraps failures of the remote generation service.
	ErrUpstream = errors.New("test case generation failed")

	// ErrStorage wraps failures of the staging directory.
	ErrStorage = errors.New("staging storage failed")

	// ErrStreamConsumer means the receiver of a streamed reply stopped accepting chunks,
	// usually because the client disconnected.
	ErrStreamConsumer = errors.New("stream consumer failed")
)
