package scanning

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

// Sentinel errors used to classify extraction failures. Callers are
// expected to match with errors.Is/errors.As and map each class to its
// own user-facing message.
var (
	// ErrMissingAPIKey means the backend credential was never configured.
	ErrMissingAPIKey = errors.New("api key is not configured")

	// ErrImageDecode means the input could not be decoded as an image.
	ErrImageDecode = errors.New("unreadable image")

	// ErrInvalidFormat means the model returned valid JSON whose top-level
	// value is not an array.
	ErrInvalidFormat = errors.New("model response is not a JSON array")
)

// MalformedOutputError means the model response could not be parsed as
// JSON at all. Raw carries the sanitized response text for diagnostics.
type MalformedOutputError struct {
	Raw string
	Err error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed model output: %v", e.Err)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

// ModelUnavailableError means one extraction candidate was rejected by the
// backend as not found or not serving. The fallback loop consumes these
// and moves on to the next candidate.
type ModelUnavailableError struct {
	Model string
	Err   error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model %s unavailable: %v", e.Model, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// AllModelsUnavailableError means every extraction candidate was exhausted
// without a successful attempt.
type AllModelsUnavailableError struct {
	Tried []string
}

func (e *AllModelsUnavailableError) Error() string {
	return fmt.Sprintf("no extraction model available, tried: %s", strings.Join(e.Tried, ", "))
}

// isModelUnavailable reports whether err is an availability problem with
// the selected model, as opposed to a content problem with its output.
// Only availability problems justify trying the next candidate.
func isModelUnavailable(err error) bool {
	var merr *ModelUnavailableError
	if errors.As(err, &merr) {
		return true
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound
	}

	// The genai SDK surfaces some rejections as plain status errors, e.g.
	// "models/foo is not found for API version v1beta" or "foo is not
	// supported for generateContent".
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "is not found") ||
		strings.Contains(msg, "not found for api version") ||
		strings.Contains(msg, "is not supported for generatecontent")
}
