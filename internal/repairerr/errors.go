// Package repairerr defines the error taxonomy the repair coordinator uses
// to distinguish fatal, abort-class, and per-item failures.
package repairerr

import (
	"context"
	"errors"
	"fmt"
)

// Well known help ids surfaced verbatim to the caller.
const (
	HelpPassphraseChangeUnsupported  = "PassphraseChangeUnsupported"
	HelpRepairDatabaseFileDoesNotExist = "RepairDatabaseFileDoesNotExist"
	HelpDatabaseIsPartiallyRecreated = "DatabaseIsPartiallyRecreated"
	HelpDatabaseIsInRepairState      = "DatabaseIsInRepairState"
	HelpLocalDatabaseHasNoFilesetTimes = "LocalDatabaseHasNoFilesetTimes"
	HelpRemoteFilesNewerThanLocalDatabase = "RemoteFilesNewerThanLocalDatabase"
	HelpRemoteFolderEmptyWithPrefix  = "RemoteFolderEmptyWithPrefix"
	HelpNoRemoteFilesMissing         = "NoRemoteFilesMissing"
	HelpMissingDblockFiles           = "MissingDblockFiles"
	HelpFailedToLoadCompressionModule = "FailedToLoadCompressionModule"
	HelpRepairIsNotPossible          = "RepairIsNotPossible"
	HelpDatabaseDoesNotExist         = "DatabaseDoesNotExist"
)

// UserInformationError is surfaced verbatim to the caller and aborts the
// whole operation. It corresponds to spec.md §7's UserInformation(helpId)
// class.
type UserInformationError struct {
	HelpID  string
	Message string
}

func (e *UserInformationError) Error() string {
	if e.Message == "" {
		return e.HelpID
	}
	return fmt.Sprintf("%s: %s", e.HelpID, e.Message)
}

// NewUserInformation builds a UserInformationError with a formatted message.
func NewUserInformation(helpID, format string, args ...interface{}) *UserInformationError {
	return &UserInformationError{HelpID: helpID, Message: fmt.Sprintf(format, args...)}
}

// Is lets callers match with errors.Is(err, &UserInformationError{HelpID: ...}).
func (e *UserInformationError) Is(target error) bool {
	var t *UserInformationError
	if !errors.As(target, &t) {
		return false
	}
	return t.HelpID == "" || t.HelpID == e.HelpID
}

// IsAbort reports whether err is cancellation- or abort-class and must be
// re-propagated unconditionally rather than logged-and-skipped. Per
// spec.md §9's open question, context cancellation/deadline errors are
// treated the same as any other abort signal, uniformly, regardless of
// where in the call stack they surface.
func IsAbort(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// InternalConsistencyError signals a contradiction that no retry can fix
// (e.g. a hash mismatch while synthesizing an index volume from the DB).
// IsAbort does not match it, so a phase loop that receives one logs it
// and continues like any other per-item error.
type InternalConsistencyError struct {
	Message string
}

func (e *InternalConsistencyError) Error() string { return "internal consistency error: " + e.Message }

// NewInternalConsistency builds an InternalConsistencyError.
func NewInternalConsistency(format string, args ...interface{}) *InternalConsistencyError {
	return &InternalConsistencyError{Message: fmt.Sprintf(format, args...)}
}

// ItemError wraps a per-item failure with the stable log tag from spec.md §7
// so the phase loop can log it and continue with the next item.
type ItemError struct {
	Tag string
	Err error
}

func (e *ItemError) Error() string { return fmt.Sprintf("%s: %v", e.Tag, e.Err) }
func (e *ItemError) Unwrap() error { return e.Err }

// Item wraps err with tag, or returns nil if err is nil.
func Item(tag string, err error) error {
	if err == nil {
		return nil
	}
	return &ItemError{Tag: tag, Err: err}
}

// Stable per-item log tags, spec.md §7.
const (
	TagRemoteFileVerificationError = "RemoteFileVerificationError"
	TagFailedExtraFileCleanup      = "FailedExtraFileCleanup"
	TagFailedNewIndexFile          = "FailedNewIndexFile"
	TagCleanupMissingFileError     = "CleanupMissingFileError"
	TagCleanupEmptyIndexFileError  = "CleanupEmptyIndexFileError"
	TagRemoteFileAccessError       = "RemoteFileAccessError"
	TagFileAccessError             = "FileAccessError"
)
