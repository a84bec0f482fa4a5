package chat

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"

	"github.com/harun/taskchat/pkg/thread"
)

// ErrorKind classifies a stream failure
type ErrorKind string

const (
	KindQuotaExceeded          ErrorKind = "quota_exceeded"
	KindStorageFailure         ErrorKind = "storage_failure"
	KindUpstreamServiceFailure ErrorKind = "upstream_service_failure"
	KindMalformedInput         ErrorKind = "malformed_input"
	KindAgentFailure           ErrorKind = "agent_failure"
)

// StreamError is a classified stream failure. Message is safe to show to
// the user; the underlying diagnostic stays in logs.
type StreamError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`

	cause error
}

func (e *StreamError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StreamError) Unwrap() error {
	return e.cause
}

// InputError marks a structural validation failure of user input
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return e.Reason
}

// UpstreamError marks a transport-level failure contacting the tool backend
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream service failure: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// retryAfterRe extracts the retry-after hint from provider rate-limit
// messages, e.g. "Rate limit reached ... Please try again in 20s."
var retryAfterRe = regexp.MustCompile(`retry in (\d+\.?\d*)s|try again in (\d+\.?\d*)s`)

// Classify maps an error to its user-facing stream error. Classification
// happens exactly once, at the orchestrator boundary.
func Classify(err error) *StreamError {
	if err == nil {
		return nil
	}

	var streamErr *StreamError
	if errors.As(err, &streamErr) {
		return streamErr
	}

	var storageErr *thread.StorageError
	if errors.As(err, &storageErr) {
		return &StreamError{
			Kind:    KindStorageFailure,
			Message: "Something went wrong while saving the conversation. Please try again.",
			cause:   err,
		}
	}

	if isRateLimit(err) {
		return &StreamError{
			Kind:      KindQuotaExceeded,
			Message:   fmt.Sprintf("You've hit your usage limit. Please try again in %s.", retryHint(err.Error())),
			Retryable: true,
			cause:     err,
		}
	}

	var inputErr *InputError
	if errors.As(err, &inputErr) {
		return &StreamError{
			Kind:    KindMalformedInput,
			Message: inputErr.Reason,
			cause:   err,
		}
	}

	var upstreamErr *UpstreamError
	var urlErr *url.Error
	if errors.As(err, &upstreamErr) || errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) {
		return &StreamError{
			Kind:    KindUpstreamServiceFailure,
			Message: "An upstream service is unavailable right now. Please try again.",
			cause:   err,
		}
	}

	return &StreamError{
		Kind:    KindAgentFailure,
		Message: "Something went wrong while generating a response.",
		cause:   err,
	}
}

// isRateLimit reports whether the error is a provider rate-limit rejection
func isRateLimit(err error) bool {
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) && openaiErr.StatusCode == 429 {
		return true
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) && anthropicErr.StatusCode == 429 {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "429")
}

// retryHint renders the retry-after estimate from the provider message.
// Waits of a minute or more are reported in whole minutes, shorter waits
// as "a few seconds".
func retryHint(message string) string {
	match := retryAfterRe.FindStringSubmatch(message)
	if match == nil {
		return "a few seconds"
	}

	raw := match[1]
	if raw == "" {
		raw = match[2]
	}

	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "a few seconds"
	}

	if seconds >= 60 {
		return fmt.Sprintf("%d minute(s)", int(seconds)/60)
	}
	return "a few seconds"
}
