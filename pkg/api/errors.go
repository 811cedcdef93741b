package api

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every component surface.
var (
	// ErrTimeout reports that no reply/result arrived within the caller's
	// window. Always recoverable; the caller decides whether to retry.
	ErrTimeout = errors.New("zrm: timed out")

	// ErrClosed reports use of an entity after Close.
	ErrClosed = errors.New("zrm: closed")

	// ErrGoalRejected reports that the action server declined the goal at
	// acceptance time. Rejection is an expected outcome: SendGoal returns a
	// rejected handle, and only GetResult on that handle surfaces this error.
	ErrGoalRejected = errors.New("zrm: goal rejected")

	// ErrCallCanceled reports that the caller abandoned an async service
	// call. The server keeps executing; only the waiter is released.
	ErrCallCanceled = errors.New("zrm: call canceled")
)

// ServiceError carries a failure signaled by a remote handler. The serving
// side stays up; the failure travels back inside the reply.
type ServiceError struct {
	Service string
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("zrm: service %q failed: %s", e.Service, e.Message)
}

// QueryError carries a transport-level failure reply to a query.
type QueryError struct {
	Selector string
	Message  string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("zrm: query %q failed: %s", e.Selector, e.Message)
}

// GoalAborted reports that an execution routine terminated without reaching
// SUCCEEDED or CANCELED, including the synthesized case where the routine
// returned without setting any terminal status.
type GoalAborted struct {
	GoalID  string
	Message string
}

func (e *GoalAborted) Error() string {
	return fmt.Sprintf("zrm: goal %s aborted: %s", e.GoalID, e.Message)
}
