package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a match id is unknown to the registry.
	ErrSessionNotFound = errors.New("match session not found")
	// ErrSessionAlreadyCompleted is returned when joining or acting on a finalized match.
	ErrSessionAlreadyCompleted = errors.New("match session already completed")
	// ErrInvalidConfiguration indicates an empty or malformed question set.
	ErrInvalidConfiguration = errors.New("invalid match configuration")
	// ErrDuplicateSubmission is returned on a second answer for the same question.
	ErrDuplicateSubmission = errors.New("duplicate submission")
	// ErrWindowClosed is returned when the answer window is not open.
	ErrWindowClosed = errors.New("answer window closed")
	// ErrNotEnoughParticipants is returned when starting below the participant minimum.
	ErrNotEnoughParticipants = errors.New("not enough participants")
	// ErrParticipantNotFound is returned when a user acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in match")
	// ErrInvalidOption indicates a submitted option index is out of range.
	ErrInvalidOption = errors.New("option not found")
	// ErrInvalidTransition is returned when an operation does not apply to the current state.
	ErrInvalidTransition = errors.New("operation not allowed in current state")
	// ErrNotModerator is returned when a participant issues a moderator command.
	ErrNotModerator = errors.New("only the moderator can do that")
	// ErrMatchNotCompleted is returned when asking for a result before finalization.
	ErrMatchNotCompleted = errors.New("match not completed")
	// ErrQuizNotFound indicates the question bank could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
)

// IsRejectedSubmission reports whether err is a submission rejection. Callers facing
// participants should not tell the two apart.
func IsRejectedSubmission(err error) bool {
	return errors.Is(err, ErrDuplicateSubmission) || errors.Is(err, ErrWindowClosed)
}
