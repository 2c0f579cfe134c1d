package main

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is returned when the database is touched before a
// connection has been established, or after it was closed.
var ErrNotInitialized = errors.New("database connection not initialized")

// ConnectionError reports a failed initial connect.
type ConnectionError struct {
	Target string
	Cause  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error (%s): %v", e.Target, e.Cause)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// QueryError reports a failed catalog query. The driver message is kept
// verbatim so it can be handed to the client unchanged.
type QueryError struct {
	Query string
	Cause error
}

func (e *QueryError) Error() string {
	return e.Cause.Error()
}

func (e *QueryError) Unwrap() error {
	return e.Cause
}
