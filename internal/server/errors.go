package server

import (
	"errors"
)

var (
	ErrCapacityExceeded     = errors.New("server at capacity")
	ErrAuthTimeout          = errors.New("authentication timed out")
	ErrAuthFailed           = errors.New("authentication failed")
	ErrAlreadyAuthenticated = errors.New("already authenticated")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrUnknownMessageType   = errors.New("unknown message type")
	ErrInvalidMessage       = errors.New("invalid message")
	ErrResponseInFlight     = errors.New("a response is already in progress")
	ErrProducerFailure      = errors.New("failed to generate response")
	ErrRateLimited          = errors.New("rate limit exceeded")

	errConnectionClosed = errors.New("connection closed")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrCapacityExceeded, "CAPACITY_EXCEEDED"},
	{ErrAuthTimeout, "AUTH_TIMEOUT"},
	{ErrAuthFailed, "AUTH_FAILED"},
	{ErrAlreadyAuthenticated, "ALREADY_AUTHENTICATED"},
	{ErrNotAuthenticated, "NOT_AUTHENTICATED"},
	{ErrUnknownMessageType, "UNKNOWN_MESSAGE_TYPE"},
	{ErrInvalidMessage, "INVALID_MESSAGE"},
	{ErrResponseInFlight, "RESPONSE_IN_FLIGHT"},
	{ErrProducerFailure, "PRODUCER_FAILURE"},
	{ErrRateLimited, "RATE_LIMITED"},
}

// CodeFor maps err to its wire error code.
func CodeFor(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "INTERNAL_ERROR"
}

// fatal reports whether err ends the connection.
func fatal(err error) bool {
	return errors.Is(err, ErrAuthTimeout) ||
		errors.Is(err, ErrAuthFailed) ||
		errors.Is(err, ErrAlreadyAuthenticated)
}
