// Package identity provides random trace IDs, the same role google/uuid
// plays for Frame.TraceID in the reference daemon's stream pipeline.
// Neither the ingest loop nor the encoder workers call it: ingested events
// and encode-index records carry no trace ID.
package identity

import "github.com/google/uuid"

// NewTraceID returns a fresh random trace ID.
func NewTraceID() string {
	return uuid.New().String()
}
