package model

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across stores and the orchestration layer.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrVersionConflict = errors.New("session version conflict")
	ErrMissingAction   = errors.New("workflow missing required action")
	ErrSessionCorrupt  = errors.New("conversation references a session that cannot be loaded")
)

// SkipReason classifies soft skips of the eligibility gate: logged, no retry,
// no alert, not an error.
type SkipReason string

const (
	SkipUnsupportedEvent   SkipReason = "unsupported_event"
	SkipDuplicateMessage   SkipReason = "duplicate_message"
	SkipNoBinding          SkipReason = "no_platform_binding"
	SkipNoCredential       SkipReason = "missing_or_expired_credential"
	SkipInactiveClient     SkipReason = "inactive_client"
	SkipNoWorkflows        SkipReason = "no_active_workflows"
	SkipPausedConversation SkipReason = "paused_conversation"
	SkipUnconfirmed        SkipReason = "unconfirmed_conversation"
	SkipNoEligibleWorkflow SkipReason = "no_eligible_workflow"
)

// ExternalCallError captures a failed verification or submission call.
// It triggers the alert + apologetic-fallback path and marks the session FAILED.
type ExternalCallError struct {
	Operation string
	URL       string
	Status    int
	Expected  int
	Body      string
	Err       error
}

func (e *ExternalCallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s call to %s failed: %v", e.Operation, e.URL, e.Err)
	}
	return fmt.Sprintf("%s call to %s returned status %d (expected %d)", e.Operation, e.URL, e.Status, e.Expected)
}

func (e *ExternalCallError) Unwrap() error { return e.Err }
