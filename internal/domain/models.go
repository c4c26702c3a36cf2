package domain

import (
	"fmt"
	"time"
)

// Question is one multiple-choice item of the question bank.
type Question struct {
	ID           string   `json:"id" yaml:"id"`
	Prompt       string   `json:"prompt" yaml:"prompt"`
	Options      []string `json:"options" yaml:"options"`
	CorrectIndex int      `json:"correctIndex" yaml:"correctIndex"`
	Points       int      `json:"points,omitempty" yaml:"points,omitempty"` // overrides base points if > 0
}

// Validate checks the question has a usable answer key.
func (q Question) Validate() error {
	if len(q.Options) < 2 {
		return fmt.Errorf("%w: question %q needs at least two options", ErrInvalidConfiguration, q.ID)
	}
	if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
		return fmt.Errorf("%w: question %q correct index %d out of range", ErrInvalidConfiguration, q.ID, q.CorrectIndex)
	}
	return nil
}

// Quiz is an ordered question bank, typically derived from a flashcard set.
type Quiz struct {
	ID        string     `json:"id" yaml:"id"`
	Title     string     `json:"title,omitempty" yaml:"title,omitempty"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// Identity is the stable participant identity supplied by the auth collaborator.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// MatchState is the lifecycle state of a match session.
type MatchState string

const (
	StateLobby            MatchState = "lobby"
	StateQuestionOpen     MatchState = "question_open"
	StateQuestionRevealed MatchState = "question_revealed"
	StateCompleted        MatchState = "completed"
)

// Submission is one accepted answer for the current question.
type Submission struct {
	ParticipantID string    `json:"participantId"`
	OptionIndex   int       `json:"optionIndex"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// Award is the scoring outcome of one participant for one question.
type Award struct {
	Correct bool `json:"correct"`
	Points  int  `json:"points"`
}

// RosterEntry is a read-only copy of a participant's standing.
type RosterEntry struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	TotalScore    int    `json:"totalScore"`
	TotalCorrect  int    `json:"totalCorrect"`
	Connected     bool   `json:"connected"`
	Answered      bool   `json:"answered"` // holds a submission for the open question
}

// QuestionView is what participants see of the live question. CorrectIndex stays nil
// until the question is revealed.
type QuestionView struct {
	Index        int      `json:"index"`
	ID           string   `json:"id"`
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex *int     `json:"correctIndex,omitempty"`
}

// RevealOutcome is the per-participant result of the most recent reveal.
type RevealOutcome struct {
	ParticipantID string `json:"participantId"`
	OptionIndex   *int   `json:"optionIndex,omitempty"`
	Correct       bool   `json:"correct"`
	Awarded       int    `json:"awarded"`
	TotalScore    int    `json:"totalScore"`
}

// RankedEntry is one line of the final ranking.
type RankedEntry struct {
	Rank          int    `json:"rank"`
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	TotalScore    int    `json:"totalScore"`
	TotalCorrect  int    `json:"totalCorrect"`
}

// MatchResult is the immutable outcome of a completed match.
type MatchResult struct {
	MatchID     string        `json:"matchId"`
	Cancelled   bool          `json:"cancelled"`
	Questions   int           `json:"questions"`
	Answered    int           `json:"answered"` // questions revealed before completion
	Ranking     []RankedEntry `json:"ranking"`
	CompletedAt time.Time     `json:"completedAt"`
}

// For returns the ranked entry of one participant.
func (r MatchResult) For(participantID string) (RankedEntry, bool) {
	for _, e := range r.Ranking {
		if e.ParticipantID == participantID {
			return e, true
		}
	}
	return RankedEntry{}, false
}

// Snapshot is a consistent read-only view of a match at one instant.
type Snapshot struct {
	MatchID       string          `json:"matchId"`
	ModeratorID   string          `json:"moderatorId"`
	State         MatchState      `json:"state"`
	QuestionIndex int             `json:"questionIndex"`
	Questions     int             `json:"questions"`
	Question      *QuestionView   `json:"question,omitempty"`
	Deadline      *time.Time      `json:"deadline,omitempty"`
	TimeRemaining time.Duration   `json:"timeRemaining"`
	Roster        []RosterEntry   `json:"roster"`
	LastReveal    []RevealOutcome `json:"lastReveal,omitempty"`
	Result        *MatchResult    `json:"result,omitempty"`
	Version       uint64          `json:"version"`
	At            time.Time       `json:"at"`
}
