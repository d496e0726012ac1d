package fmclient

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
)

// FileMaker Data API message codes the client branches on.
const (
	codeOK             = "0"
	codeRecordMissing  = "101"
	codeLayoutMissing  = "105"
	codeNoRecordsMatch = "401"
	codeInvalidToken   = "952"
)

// Message is one entry of the Data API "messages" array.
type Message struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RemoteError is a failed Data API call. It keeps the HTTP status and the
// provider error codes so callers can report both.
type RemoteError struct {
	Op       string
	Status   int
	Messages []Message
	Detail   string
}

// Error implements error.
func (e *RemoteError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if detail := strings.TrimSpace(e.Detail); detail != "" {
		b.WriteString(detail)
	} else {
		fmt.Fprintf(&b, "request failed with status code %d", e.Status)
	}
	if summary := e.messageSummary(); summary != "" {
		b.WriteString(" - ")
		b.WriteString(summary)
	}
	return b.String()
}

// StatusCode returns the HTTP status of the failed call.
func (e *RemoteError) StatusCode() int {
	if e == nil || e.Status == 0 {
		return http.StatusBadGateway
	}
	return e.Status
}

// Codes returns the non-OK provider codes attached to the response.
func (e *RemoteError) Codes() []string {
	if e == nil {
		return nil
	}
	codes := make([]string, 0, len(e.Messages))
	for _, msg := range e.Messages {
		code := strings.TrimSpace(msg.Code)
		if code == "" || code == codeOK {
			continue
		}
		codes = append(codes, code)
	}
	return codes
}

// HasCode reports whether the response carried the given provider code.
func (e *RemoteError) HasCode(code string) bool {
	return slices.Contains(e.Codes(), code)
}

func (e *RemoteError) messageSummary() string {
	parts := make([]string, 0, len(e.Messages))
	for _, msg := range e.Messages {
		code := strings.TrimSpace(msg.Code)
		if code == "" || code == codeOK {
			continue
		}
		parts = append(parts, fmt.Sprintf("Error %s: %s", code, strings.TrimSpace(msg.Message)))
	}
	return strings.Join(parts, "; ")
}

// AuthError indicates the session token was rejected.
type AuthError struct {
	RemoteError
}

// NotFoundError indicates a missing layout or record.
type NotFoundError struct {
	RemoteError
}

func classifyFailure(op string, status int, messages []Message) error {
	base := RemoteError{Op: op, Status: status, Messages: messages}
	switch {
	case base.HasCode(codeNoRecordsMatch):
		// Empty find result, some server versions send it with status 401.
		return &base
	case status == http.StatusUnauthorized || base.HasCode(codeInvalidToken):
		return &AuthError{RemoteError: base}
	case status == http.StatusNotFound || base.HasCode(codeRecordMissing) || base.HasCode(codeLayoutMissing):
		return &NotFoundError{RemoteError: base}
	default:
		return &base
	}
}

func authFailureDetail(status int, database string) string {
	switch status {
	case http.StatusUnauthorized:
		return "authentication failed: invalid username or password"
	case http.StatusForbidden:
		return "access denied: the account lacks privileges for this database"
	case http.StatusNotFound:
		return fmt.Sprintf("database %q not found or not accessible", database)
	case http.StatusInternalServerError:
		return "server error during authentication"
	default:
		return fmt.Sprintf("authentication failed with status code %d", status)
	}
}
