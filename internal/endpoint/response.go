package endpoint

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// RawPreviewLimit bounds how much of an undecodable body is kept in Response.Raw.
const RawPreviewLimit = 800

// Response is the structured view of an endpoint reply. Every field is optional on the wire.
type Response struct {
	// Status is the "status" field rendered as text; booleans become "true"/"false".
	Status string
	// Flag is set only when "status" was a JSON boolean.
	Flag *bool
	// Message is the "message" field rendered as text.
	Message string
	// Raw holds the (truncated) body when it could not be decoded.
	Raw string
	// HTTPStatus is the response status code.
	HTTPStatus int
	// Fields keeps every top-level field of a decoded object.
	Fields map[string]any
}

// Decoded reports whether the body was a JSON object.
func (r *Response) Decoded() bool {
	return r != nil && r.Fields != nil
}

// Field renders an arbitrary top-level field as text, or "" when absent.
func (r *Response) Field(name string) string {
	if r == nil || r.Fields == nil {
		return ""
	}
	v, ok := r.Fields[name]
	if !ok {
		return ""
	}
	return scalarText(v)
}

// Summary is a one-line description used in progress reports.
func (r *Response) Summary() string {
	if r == nil {
		return ""
	}
	switch {
	case r.Message != "":
		return r.Message
	case r.Status != "":
		return "status: " + r.Status
	case r.Raw != "":
		return r.Raw
	default:
		return fmt.Sprintf("HTTP %d", r.HTTPStatus)
	}
}

func decodeBody(body []byte, httpStatus int) *Response {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		if err == nil {
			err = fmt.Errorf("expected a JSON object")
		}
		return syntheticFailure(fmt.Sprintf("decode error: %v", err), body, httpStatus)
	}

	resp := &Response{
		HTTPStatus: httpStatus,
		Fields:     fields,
		Message:    scalarText(fields["message"]),
	}

	switch v := fields["status"].(type) {
	case bool:
		flag := v
		resp.Flag = &flag
		resp.Status = strconv.FormatBool(v)
	case nil:
	default:
		resp.Status = scalarText(v)
	}

	return resp
}

func syntheticFailure(message string, body []byte, httpStatus int) *Response {
	flag := false
	return &Response{
		Status:     "false",
		Flag:       &flag,
		Message:    message,
		Raw:        Truncate(string(body), RawPreviewLimit),
		HTTPStatus: httpStatus,
	}
}

func scalarText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(encoded)
	}
}

// Truncate cuts s to at most limit bytes without splitting a UTF-8 sequence.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
