package match

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"educards-match/internal/domain"
)

// Session is the live state machine of one match. Every mutation goes through mu, and
// every time-based transition is derived from the clock inside that lock, so a submit
// and a timeout can never both win the same instant.
//
// Accepted submissions are those whose clock reading under the lock is strictly before
// the deadline. A reveal caused by the deadline is stamped with the deadline itself, and
// an automatic advance with revealedAt+RevealDelay, so the timeline does not depend on
// when a timer goroutine or a caller happened to notice it.
type Session struct {
	id        string
	moderator domain.Identity
	questions []domain.Question
	opts      Options
	clock     clockwork.Clock

	mu         sync.Mutex
	state      domain.MatchState
	index      int
	openedAt   time.Time
	deadline   time.Time
	revealedAt time.Time
	revealed   int
	ledger     map[string]domain.Submission
	roster     *roster
	lastReveal []domain.RevealOutcome
	result     *domain.MatchResult
	timer      clockwork.Timer
	version    uint64

	subscribers map[chan domain.Snapshot]struct{}
}

// NewSession creates a session in the lobby. The question slice is copied and never
// modified afterwards.
func NewSession(id string, moderator domain.Identity, questions []domain.Question, opts Options) (*Session, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no questions", domain.ErrInvalidConfiguration)
	}
	for _, q := range questions {
		if err := q.Validate(); err != nil {
			return nil, err
		}
	}
	opts = opts.withDefaults()

	qs := make([]domain.Question, len(questions))
	for i, q := range questions {
		q.Options = append([]string(nil), q.Options...)
		qs[i] = q
	}

	return &Session{
		id:          id,
		moderator:   moderator,
		questions:   qs,
		opts:        opts,
		clock:       opts.Clock,
		state:       domain.StateLobby,
		roster:      newRoster(),
		subscribers: make(map[chan domain.Snapshot]struct{}),
	}, nil
}

func (s *Session) ID() string                 { return s.id }
func (s *Session) Moderator() domain.Identity { return s.moderator }
func (s *Session) Options() Options           { return s.opts }

// Join adds a participant to the roster. Joining again with the same id reconnects the
// existing entry without touching its score.
func (s *Session) Join(id domain.Identity) (domain.RosterEntry, error) {
	if id.ID == "" {
		return domain.RosterEntry{}, fmt.Errorf("%w: empty participant id", domain.ErrInvalidConfiguration)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.notifyLocked(s.version)

	s.resolveLocked(s.clock.Now())
	if s.state == domain.StateCompleted {
		return domain.RosterEntry{}, domain.ErrSessionAlreadyCompleted
	}

	e, rejoined := s.roster.join(id)
	s.version++
	log.Debug().
		Str("match_id", s.id).
		Str("participant_id", id.ID).
		Bool("rejoined", rejoined).
		Msg("participant joined")

	_, answered := s.ledger[id.ID]
	return domain.RosterEntry{
		ParticipantID: e.identity.ID,
		DisplayName:   e.identity.DisplayName,
		TotalScore:    e.totalScore,
		TotalCorrect:  e.totalCorrect,
		Connected:     e.connected,
		Answered:      answered,
	}, nil
}

// Leave marks a participant as disconnected. The roster entry and its score stay.
func (s *Session) Leave(participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.notifyLocked(s.version)

	now := s.clock.Now()
	s.resolveLocked(now)
	e, ok := s.roster.get(participantID)
	if !ok {
		return domain.ErrParticipantNotFound
	}
	if !e.connected {
		return nil
	}
	e.connected = false
	s.version++
	s.maybeRevealAllAnsweredLocked(now)
	return nil
}

// Start opens the first question.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.notifyLocked(s.version)

	now := s.clock.Now()
	s.resolveLocked(now)
	switch s.state {
	case domain.StateLobby:
	case domain.StateCompleted:
		return domain.ErrSessionAlreadyCompleted
	default:
		return fmt.Errorf("%w: start in %s", domain.ErrInvalidTransition, s.state)
	}
	if s.roster.len() < s.opts.MinParticipants {
		return fmt.Errorf("%w: have %d, need %d", domain.ErrNotEnoughParticipants, s.roster.len(), s.opts.MinParticipants)
	}

	s.openQuestionLocked(0, now)
	return nil
}

// Submit records a participant's answer for the open question.
func (s *Session) Submit(participantID string, optionIndex int) (domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.notifyLocked(s.version)

	now := s.clock.Now()
	s.resolveLocked(now)

	if _, ok := s.roster.get(participantID); !ok {
		return domain.Submission{}, domain.ErrParticipantNotFound
	}
	if s.state != domain.StateQuestionOpen {
		return domain.Submission{}, domain.ErrWindowClosed
	}
	if _, dup := s.ledger[participantID]; dup {
		return domain.Submission{}, domain.ErrDuplicateSubmission
	}
	if !now.Before(s.deadline) {
		// resolveLocked already revealed anything at or past the deadline.
		panic(fmt.Sprintf("match %s: open question %d past its deadline", s.id, s.index))
	}
	if optionIndex < 0 || optionIndex >= len(s.questions[s.index].Options) {
		return domain.Submission{}, domain.ErrInvalidOption
	}

	sub := domain.Submission{
		ParticipantID: participantID,
		OptionIndex:   optionIndex,
		SubmittedAt:   now,
	}
	s.ledger[participantID] = sub
	s.version++

	s.maybeRevealAllAnsweredLocked(now)
	return sub, nil
}

// Reveal closes the answer window early. Timeouts reveal without calling this.
func (s *Session) Reveal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.notifyLocked(s.version)

	now := s.clock.Now()
	s.resolveLocked(now)
	switch s.state {
	case domain.StateQuestionOpen:
		s.revealLocked(now)
		return nil
	case domain.StateCompleted:
		return domain.ErrSessionAlreadyCompleted
	default:
		return fmt.Errorf("%w: reveal in %s", domain.ErrInvalidTransition, s.state)
	}
}

// Advance moves from a revealed question to the next one, or completes the match
// after the last question.
func (s *Session) Advance() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.notifyLocked(s.version)

	now := s.clock.Now()
	s.resolveLocked(now)
	switch s.state {
	case domain.StateQuestionRevealed:
		s.advanceLocked(now)
		return nil
	case domain.StateCompleted:
		return domain.ErrSessionAlreadyCompleted
	default:
		return fmt.Errorf("%w: advance in %s", domain.ErrInvalidTransition, s.state)
	}
}

// Cancel ends the match immediately with a partial result. The open question, if any,
// is discarded unscored.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.notifyLocked(s.version)

	now := s.clock.Now()
	s.resolveLocked(now)
	if s.state == domain.StateCompleted {
		return domain.ErrSessionAlreadyCompleted
	}
	s.completeLocked(now, true)
	return nil
}

// State returns the current state after applying any elapsed timeouts.
func (s *Session) State() domain.MatchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.notifyLocked(s.version)

	s.resolveLocked(s.clock.Now())
	return s.state
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.notifyLocked(s.version)

	now := s.clock.Now()
	s.resolveLocked(now)
	return s.snapshotLocked(now)
}

// Result returns the final result once the match is completed. The same value is
// returned on every call.
func (s *Session) Result() (domain.MatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.notifyLocked(s.version)

	s.resolveLocked(s.clock.Now())
	if s.result == nil {
		return domain.MatchResult{}, domain.ErrMatchNotCompleted
	}
	return copyResult(*s.result), nil
}

// Submissions returns the ledger of the current question ordered by submission time.
func (s *Session) Submissions() []domain.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.notifyLocked(s.version)

	s.resolveLocked(s.clock.Now())
	out := make([]domain.Submission, 0, len(s.ledger))
	for _, sub := range s.ledger {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out
}

// Subscribe returns a channel receiving a snapshot after every change, starting with
// the current one. The caller must invoke the returned cancel function.
func (s *Session) Subscribe() (<-chan domain.Snapshot, func()) {
	ch := make(chan domain.Snapshot, 8)

	s.mu.Lock()
	before := s.version
	now := s.clock.Now()
	s.resolveLocked(now)
	s.notifyLocked(before)
	s.subscribers[ch] = struct{}{}
	ch <- s.snapshotLocked(now)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// tick runs when a session timer fires. It is a no-op once nothing is due.
func (s *Session) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.notifyLocked(s.version)

	s.resolveLocked(s.clock.Now())
}

// resolveLocked applies every timeout that is due at now.
func (s *Session) resolveLocked(now time.Time) {
	for {
		switch {
		case s.state == domain.StateQuestionOpen && !now.Before(s.deadline):
			s.revealLocked(s.deadline)
		case s.state == domain.StateQuestionRevealed && s.opts.RevealDelay > 0 &&
			!now.Before(s.revealedAt.Add(s.opts.RevealDelay)):
			s.advanceLocked(s.revealedAt.Add(s.opts.RevealDelay))
		default:
			return
		}
	}
}

func (s *Session) maybeRevealAllAnsweredLocked(now time.Time) {
	if !s.opts.RevealWhenAllAnswered || s.state != domain.StateQuestionOpen {
		return
	}
	expected := 0
	for _, e := range s.roster.order {
		if !e.connected {
			continue
		}
		expected++
		if _, ok := s.ledger[e.identity.ID]; !ok {
			return
		}
	}
	if expected > 0 {
		s.revealLocked(now)
	}
}

func (s *Session) openQuestionLocked(index int, at time.Time) {
	if index < 0 || index >= len(s.questions) {
		panic(fmt.Sprintf("match %s: question index %d out of range", s.id, index))
	}
	if s.state != domain.StateLobby && index != s.index+1 {
		panic(fmt.Sprintf("match %s: question index jumped from %d to %d", s.id, s.index, index))
	}
	s.transitionLocked(domain.StateQuestionOpen)
	s.index = index
	s.openedAt = at
	s.deadline = at.Add(s.opts.AnswerWindow)
	s.ledger = make(map[string]domain.Submission)
	s.lastReveal = nil
	s.scheduleLocked(s.deadline)

	log.Debug().
		Str("match_id", s.id).
		Int("question_index", index).
		Time("deadline", s.deadline).
		Msg("question opened")
}

func (s *Session) revealLocked(at time.Time) {
	s.transitionLocked(domain.StateQuestionRevealed)
	s.revealedAt = at
	s.revealed++

	q := s.questions[s.index]
	outcomes := make([]domain.RevealOutcome, 0, s.roster.len())
	for _, e := range s.roster.order {
		id := e.identity.ID
		outcome := domain.RevealOutcome{ParticipantID: id}
		if sub, ok := s.ledger[id]; ok {
			award := Score(&sub, q, s.openedAt, s.opts.AnswerWindow, s.opts.Scoring)
			s.roster.apply(id, award, sub.SubmittedAt)
			option := sub.OptionIndex
			outcome.OptionIndex = &option
			outcome.Correct = award.Correct
			outcome.Awarded = award.Points
		}
		outcome.TotalScore = e.totalScore
		outcomes = append(outcomes, outcome)
	}
	s.lastReveal = outcomes

	if s.opts.RevealDelay > 0 {
		s.scheduleLocked(at.Add(s.opts.RevealDelay))
	} else {
		s.stopTimerLocked()
	}

	log.Debug().
		Str("match_id", s.id).
		Int("question_index", s.index).
		Int("submissions", len(s.ledger)).
		Msg("question revealed")
}

func (s *Session) advanceLocked(at time.Time) {
	if s.index+1 < len(s.questions) {
		s.openQuestionLocked(s.index+1, at)
		return
	}
	s.completeLocked(at, false)
}

func (s *Session) completeLocked(at time.Time, cancelled bool) {
	s.transitionLocked(domain.StateCompleted)
	s.stopTimerLocked()
	s.ledger = nil
	if s.result != nil {
		panic(fmt.Sprintf("match %s: finalized twice", s.id))
	}
	s.result = &domain.MatchResult{
		MatchID:     s.id,
		Cancelled:   cancelled,
		Questions:   len(s.questions),
		Answered:    s.revealed,
		Ranking:     s.roster.ranking(),
		CompletedAt: at,
	}

	log.Debug().
		Str("match_id", s.id).
		Bool("cancelled", cancelled).
		Int("participants", s.roster.len()).
		Msg("match completed")
}

var allowedTransitions = map[domain.MatchState][]domain.MatchState{
	domain.StateLobby:            {domain.StateQuestionOpen, domain.StateCompleted},
	domain.StateQuestionOpen:     {domain.StateQuestionRevealed, domain.StateCompleted},
	domain.StateQuestionRevealed: {domain.StateQuestionOpen, domain.StateCompleted},
}

// transitionLocked moves to next. An illegal transition means the single-writer
// discipline was broken, which is not recoverable.
func (s *Session) transitionLocked(next domain.MatchState) {
	for _, allowed := range allowedTransitions[s.state] {
		if allowed == next {
			s.state = next
			s.version++
			return
		}
	}
	panic(fmt.Sprintf("match %s: illegal transition %s -> %s", s.id, s.state, next))
}

func (s *Session) scheduleLocked(at time.Time) {
	s.stopTimerLocked()
	d := at.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	s.timer = s.clock.AfterFunc(d, func() {
		// The clock may invoke this while holding its own lock.
		go s.tick()
	})
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// notifyLocked broadcasts when anything changed since version before.
func (s *Session) notifyLocked(before uint64) {
	if s.version == before || len(s.subscribers) == 0 {
		return
	}
	snap := s.snapshotLocked(s.clock.Now())
	for ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// Slow subscriber: drop its oldest snapshot so the latest always lands.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (s *Session) snapshotLocked(now time.Time) domain.Snapshot {
	snap := domain.Snapshot{
		MatchID:       s.id,
		ModeratorID:   s.moderator.ID,
		State:         s.state,
		QuestionIndex: s.index,
		Questions:     len(s.questions),
		Roster:        s.roster.snapshot(s.ledger),
		Version:       s.version,
		At:            now,
	}

	switch s.state {
	case domain.StateQuestionOpen, domain.StateQuestionRevealed:
		q := s.questions[s.index]
		view := &domain.QuestionView{
			Index:   s.index,
			ID:      q.ID,
			Prompt:  q.Prompt,
			Options: append([]string(nil), q.Options...),
		}
		if s.state == domain.StateQuestionRevealed {
			correct := q.CorrectIndex
			view.CorrectIndex = &correct
			snap.LastReveal = append([]domain.RevealOutcome(nil), s.lastReveal...)
		} else {
			deadline := s.deadline
			snap.Deadline = &deadline
			if remaining := s.deadline.Sub(now); remaining > 0 {
				snap.TimeRemaining = remaining
			}
		}
		snap.Question = view
	case domain.StateCompleted:
		r := copyResult(*s.result)
		snap.Result = &r
	}
	return snap
}

func copyResult(r domain.MatchResult) domain.MatchResult {
	r.Ranking = append([]domain.RankedEntry(nil), r.Ranking...)
	return r
}
