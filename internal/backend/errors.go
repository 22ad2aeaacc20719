package backend

import "fmt"

// ErrorKind tags a backend error the way spec.md §6 requires, so the
// coordinator can pattern-match on transport failures without depending on
// a concrete transport's error types. Grounded on the tagged-error style of
// backend/union/errors.go, generalized from a slice-of-errors to a single
// discriminated kind.
type ErrorKind int

// Backend error kinds, spec.md §6.
const (
	ErrGeneric ErrorKind = iota
	ErrFolderMissing
	ErrInvalidCertificate
	ErrHostKey
	ErrUserInformation
)

// Error is the tagged error every Backend method returns for
// transport-level failures.
type Error struct {
	Kind ErrorKind

	// Certificate is set when Kind == ErrInvalidCertificate.
	Certificate string

	// ReportedHostKey/AcceptedHostKey are set when Kind == ErrHostKey.
	ReportedHostKey string
	AcceptedHostKey string

	// HelpID is set when Kind == ErrUserInformation.
	HelpID string

	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrFolderMissing:
		return "backend: folder missing"
	case ErrInvalidCertificate:
		return fmt.Sprintf("backend: invalid certificate %q", e.Certificate)
	case ErrHostKey:
		return fmt.Sprintf("backend: host key mismatch (reported %q, accepted %q)", e.ReportedHostKey, e.AcceptedHostKey)
	case ErrUserInformation:
		return fmt.Sprintf("backend: %s", e.HelpID)
	default:
		if e.Err != nil {
			return fmt.Sprintf("backend: %v", e.Err)
		}
		return "backend: error"
	}
}

func (e *Error) Unwrap() error { return e.Err }
