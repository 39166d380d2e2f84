package services

import (
	"errors"
	"fmt"

	"GOSAFE_BACK-END/internal/mirror"
	"GOSAFE_BACK-END/internal/repository"
)

var (
	ErrActiveJourneyExists = errors.New("group already has an active journey")
	ErrIllegalTransition   = errors.New("illegal state transition")
	ErrLocationUnavailable = errors.New("device location unavailable")
	ErrJourneyClosed       = errors.New("journey is completed")

	// ErrDuplicateParticipation is absorbed by Join, which returns the existing id instead.
	ErrDuplicateParticipation = errors.New("participation already exists")

	ErrAlreadyMatched     = errors.New("companion request already matched")
	ErrNotPending         = errors.New("companion request is not pending")
	ErrRequestClosed      = errors.New("companion request is closed")
	ErrSelfApply          = errors.New("cannot apply to your own companion request")
	ErrProvisioningFailed = errors.New("group provisioning failed")
	ErrChatMirrorPending  = errors.New("group created, chat pending")

	ErrMirrorWriteFailed = mirror.ErrMirrorWriteFailed

	ErrNotFound     = errors.New("not found")
	ErrNotCreator   = errors.New("only the creator may do this")
	ErrForbidden    = errors.New("not allowed")
	ErrInvalidInput = errors.New("invalid input")
)

// ChatPendingError reports that Accept created the group but not its chat mirror.
// The request stays MATCHED until RepairChat succeeds.
type ChatPendingError struct {
	RequestID int64
	GroupID   int64
	Err       error
}

func (e *ChatPendingError) Error() string {
	return fmt.Sprintf("companion request %d: group %d created, chat pending: %v", e.RequestID, e.GroupID, e.Err)
}

func (e *ChatPendingError) Unwrap() []error {
	return []error{ErrChatMirrorPending, e.Err}
}

// notFound maps the repository sentinel onto ErrNotFound and wraps everything else.
func notFound(err error, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
