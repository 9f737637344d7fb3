package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrAuth marks credential or token refresh failures. Once a refresh fails
// the client is unusable and every pending request fails with this error.
var ErrAuth = errors.New("authentication failed")

// APIError is a non-2xx response from the admin API, with the parsed server
// error body when one was present.
type APIError struct {
	Status int
	Body   ErrorBody
}

func (e *APIError) Error() string {
	if len(e.Body.Errors) == 0 {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	details := make([]string, 0, len(e.Body.Errors))
	for _, se := range e.Body.Errors {
		details = append(details, se.String())
	}
	return fmt.Sprintf("server returned status %d: %s", e.Status, strings.Join(details, "; "))
}

// Transient reports whether the failure is worth retrying as-is. 5xx
// responses are transient; 4xx responses are not (401 is handled by the
// token refresh path before an APIError is ever produced).
func (e *APIError) Transient() bool { return e.Status >= 500 }

// ErrorBody is the JSON:API style error envelope of the admin API.
type ErrorBody struct {
	Errors []ServerError `json:"errors"`
}

// ServerError is one entry of the error envelope.
type ServerError struct {
	Code     string `json:"code"`
	Detail   string `json:"detail"`
	Template string `json:"template"`
	Source   struct {
		Pointer string `json:"pointer"`
	} `json:"source"`
}

func (s ServerError) String() string {
	if s.Source.Pointer != "" {
		return fmt.Sprintf("%s at %s: %s", s.Code, s.Source.Pointer, s.Detail)
	}
	return fmt.Sprintf("%s: %s", s.Code, s.Detail)
}

// WriteFailure locates one record of a failed bulk write: the payload index
// the server pointed at and the remainder of the pointer inside that record.
type WriteFailure struct {
	Index   int
	Pointer string
	Detail  string
}

// WriteFailures extracts per-record failures from a bulk sync error body.
// Write error pointers look like "/write_data/17/taxId"; entries whose
// pointer does not follow that shape are skipped.
func (b ErrorBody) WriteFailures() []WriteFailure {
	const prefix = "/write_data/"

	var out []WriteFailure
	for _, se := range b.Errors {
		rest, ok := strings.CutPrefix(se.Source.Pointer, prefix)
		if !ok {
			continue
		}
		idxStr, remainder, _ := strings.Cut(rest, "/")
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			continue
		}
		out = append(out, WriteFailure{Index: idx, Pointer: "/" + remainder, Detail: se.Detail})
	}
	return out
}
