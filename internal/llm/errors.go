package llm

import "errors"

var (
	// ErrTransport marks failures to reach or hear back from the model
	// endpoint: refused connections, timeouts, stalled streams and non-2xx
	// responses. Only these route to the stub responder.
	ErrTransport = errors.New("llm: transport failure")

	// ErrEmptyStream is returned when a stream ends with neither content nor
	// a terminal done chunk.
	ErrEmptyStream = errors.New("llm: stream ended with no content")

	// ErrModelNotFound is returned by ShowModel on 404.
	ErrModelNotFound = errors.New("llm: model not found")

	// ErrEmptyResponse is returned when a non-streaming provider answers
	// with no text.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}
