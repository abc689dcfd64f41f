package uploadmanager

import "fmt"

// Error is a Manager-level error carrying the stable string code from
// spec.md §6/§7, which internal/httpapi maps onto an HTTP status.
// Grounded on the {ErrorCode, Message} shape of tusd's handler.Error,
// minus the HTTPResponse field since that mapping belongs to the HTTP
// layer here, not the domain layer.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func newError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

var (
	ErrMissingUserKey  = newError("missing_user_key", "userKey is required")
	ErrMissingFields   = newError("missing_fields", "one or more required fields are missing")
	ErrInvalidSizes    = newError("invalid_sizes", "fileSize and chunkSize must be positive")
	ErrInvalidAction   = newError("invalid_action", "action must be one of pause, resume, cancel, forget")
	ErrMissingChunk    = newError("missing_chunk", "chunk file field is required")
	ErrMissingSample   = newError("missing_sample", "sample file field is required")
	ErrChunkOutOfRange = newError("chunk_out_of_range", "chunk index is out of range for this upload")
	ErrUploadNotFound  = newError("upload_not_found", "no such upload")
	ErrUserNotFound    = newError("user_not_found", "no such user")
	ErrInvalidChunkIdx = newError("invalid_chunk_index", "chunkIndex is not a valid integer")
)

// missingChunkError builds the dynamic missing_chunk_<N> code used by
// assembly failures (spec.md §7).
func missingChunkError(index int) *Error {
	return newError(fmt.Sprintf("missing_chunk_%d", index), fmt.Sprintf("chunk %d was not received before assembly", index))
}
