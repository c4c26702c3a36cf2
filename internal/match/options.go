package match

import (
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultAnswerWindow = 10 * time.Second
	DefaultRevealDelay  = 3 * time.Second
	DefaultBasePoints   = 500
	DefaultSpeedBonus   = 500
)

// Options tunes the timing and scoring of a session.
type Options struct {
	// AnswerWindow is how long each question accepts submissions.
	AnswerWindow time.Duration
	// RevealDelay is how long a revealed question stays on screen before the session
	// advances by itself. Zero leaves advancing to the moderator.
	RevealDelay time.Duration
	// MinParticipants is the roster size required by Start. Zero allows an empty match.
	MinParticipants int
	// RevealWhenAllAnswered closes the window once every connected participant answered.
	RevealWhenAllAnswered bool
	Scoring               ScoringPolicy
	// Clock is the only source of time for the session. Defaults to the real clock.
	Clock clockwork.Clock
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		AnswerWindow:          DefaultAnswerWindow,
		RevealDelay:           DefaultRevealDelay,
		MinParticipants:       1,
		RevealWhenAllAnswered: true,
		Scoring: ScoringPolicy{
			BasePoints: DefaultBasePoints,
			SpeedBonus: DefaultSpeedBonus,
		},
	}
}

func (o Options) withDefaults() Options {
	if o.AnswerWindow <= 0 {
		o.AnswerWindow = DefaultAnswerWindow
	}
	if o.RevealDelay < 0 {
		o.RevealDelay = 0
	}
	if o.MinParticipants < 0 {
		o.MinParticipants = 0
	}
	if o.Scoring.BasePoints <= 0 {
		o.Scoring.BasePoints = DefaultBasePoints
	}
	if o.Scoring.SpeedBonus < 0 {
		o.Scoring.SpeedBonus = 0
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}
