package gemini

import "errors"

var (
	// ErrEmptyInput is returned when there is neither text nor an attachment.
	ErrEmptyInput = errors.New("no instruction text and no attachment")

	// ErrAttachmentProcessing is returned when the provider reports the
	// uploaded file as FAILED, or the upload itself fails.
	ErrAttachmentProcessing = errors.New("attachment processing failed")

	// ErrAttachmentTimeout is returned when the uploaded file does not become
	// ACTIVE within the poll timeout.
	ErrAttachmentTimeout = errors.New("attachment was not ready in time")

	// ErrExtractionService wraps transport, quota, auth and server errors
	// returned by the model provider.
	ErrExtractionService = errors.New("event extraction service error")
)
