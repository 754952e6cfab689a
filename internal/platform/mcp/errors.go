// Package mcp exposes the terminology service over the Model Context
// Protocol so assistants can search and map clinical codes.
package mcp

import "errors"

// ErrMissingService is returned when no terminology service is provided.
var ErrMissingService = errors.New("mcp: terminology service is required")

// ErrTooManyOperations is returned by batch_process for oversized batches.
var ErrTooManyOperations = errors.New("mcp: too many batch operations")
