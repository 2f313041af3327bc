package elevenlabs

import "fmt"

// Error represents a failure talking to the ElevenLabs API.
type Error struct {
	// Code is a short machine-readable code (e.g. "signed_url_failed").
	Code string

	// Message is the human-readable error message.
	Message string

	// HTTPStatus is the HTTP status code, if applicable.
	HTTPStatus int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("elevenlabs: %s: %s (status %d)", e.Code, e.Message, e.HTTPStatus)
	}
	return fmt.Sprintf("elevenlabs: %s: %s", e.Code, e.Message)
}
