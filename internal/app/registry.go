package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"educards-match/internal/domain"
	"educards-match/internal/match"
	"educards-match/internal/telemetry"
)

// SessionRepository abstracts where live sessions are kept (in-memory, Redis-marked, etc).
type SessionRepository interface {
	Add(session *match.Session) error
	Get(matchID string) (*match.Session, bool)
	Delete(matchID string)
}

// QuizRepository loads question banks (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// EventPublisher fans match snapshots out to other processes.
type EventPublisher interface {
	Publish(ctx context.Context, snap domain.Snapshot) error
}

// Publishers fans a snapshot out to every publisher in turn.
type Publishers []EventPublisher

func (ps Publishers) Publish(ctx context.Context, snap domain.Snapshot) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResultSink receives the result of every completed match.
type ResultSink interface {
	SaveResult(ctx context.Context, result domain.MatchResult) error
}

type Config struct {
	Sessions SessionRepository
	Quizzes  QuizRepository
	// Optional collaborators.
	Publisher EventPublisher
	Results   ResultSink
	Metrics   *telemetry.Metrics

	Options match.Options
	// ResultRetention is how long a completed match stays in the registry.
	ResultRetention time.Duration
	NewID           func() string
}

// Registry creates, locates and disposes match sessions, and routes participant and
// moderator commands to them.
type Registry struct {
	sessions  SessionRepository
	quizzes   QuizRepository
	publisher EventPublisher
	results   ResultSink
	metrics   *telemetry.Metrics
	opts      match.Options
	retention time.Duration
	clock     clockwork.Clock
	newID     func() string
}

func NewRegistry(c Config) *Registry {
	opts := c.Options
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	newID := c.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Registry{
		sessions:  c.Sessions,
		quizzes:   c.Quizzes,
		publisher: c.Publisher,
		results:   c.Results,
		metrics:   c.Metrics,
		opts:      opts,
		retention: c.ResultRetention,
		clock:     opts.Clock,
		newID:     newID,
	}
}

// CreateSessionRequest describes a new match. Questions are taken inline, or loaded
// from the question bank when QuizID is set.
type CreateSessionRequest struct {
	Moderator domain.Identity
	QuizID    string
	Questions []domain.Question
}

// CreateSession allocates a new session in the lobby.
func (r *Registry) CreateSession(ctx context.Context, req CreateSessionRequest) (domain.Snapshot, error) {
	if req.Moderator.ID == "" {
		return domain.Snapshot{}, fmt.Errorf("%w: moderator required", domain.ErrInvalidConfiguration)
	}
	questions := req.Questions
	if req.QuizID != "" {
		quiz, err := r.quizzes.GetQuiz(ctx, req.QuizID)
		if err != nil {
			return domain.Snapshot{}, err
		}
		questions = quiz.Questions
	}

	session, err := match.NewSession(r.newID(), req.Moderator, questions, r.opts)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if err := r.sessions.Add(session); err != nil {
		return domain.Snapshot{}, err
	}
	r.metrics.SessionCreated()
	r.watch(session)

	log.Info().
		Str("match_id", session.ID()).
		Str("moderator_id", req.Moderator.ID).
		Str("quiz_id", req.QuizID).
		Int("questions", len(questions)).
		Msg("match created")
	return session.Snapshot(), nil
}

// Join adds a participant to a match. Rejoining keeps the existing score.
func (r *Registry) Join(_ context.Context, matchID string, id domain.Identity) (domain.Snapshot, error) {
	session, err := r.session(matchID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if _, err := session.Join(id); err != nil {
		return domain.Snapshot{}, err
	}
	return session.Snapshot(), nil
}

// Leave marks a participant disconnected.
func (r *Registry) Leave(_ context.Context, matchID, participantID string) {
	session, ok := r.sessions.Get(matchID)
	if !ok {
		return
	}
	_ = session.Leave(participantID)
}

func (r *Registry) Start(_ context.Context, matchID, actorID string) error {
	session, err := r.moderated(matchID, actorID)
	if err != nil {
		return err
	}
	return session.Start()
}

func (r *Registry) Reveal(_ context.Context, matchID, actorID string) error {
	session, err := r.moderated(matchID, actorID)
	if err != nil {
		return err
	}
	return session.Reveal()
}

func (r *Registry) Advance(_ context.Context, matchID, actorID string) error {
	session, err := r.moderated(matchID, actorID)
	if err != nil {
		return err
	}
	return session.Advance()
}

func (r *Registry) Cancel(_ context.Context, matchID, actorID string) error {
	session, err := r.moderated(matchID, actorID)
	if err != nil {
		return err
	}
	return session.Cancel()
}

// Submit records an answer for the open question of a match.
func (r *Registry) Submit(_ context.Context, matchID, participantID string, optionIndex int) (domain.Submission, error) {
	session, err := r.session(matchID)
	if err != nil {
		return domain.Submission{}, err
	}
	sub, err := session.Submit(participantID, optionIndex)
	r.metrics.Submission(submissionOutcome(err))
	return sub, err
}

func (r *Registry) Snapshot(_ context.Context, matchID string) (domain.Snapshot, error) {
	session, err := r.session(matchID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return session.Snapshot(), nil
}

func (r *Registry) Result(_ context.Context, matchID string) (domain.MatchResult, error) {
	session, err := r.session(matchID)
	if err != nil {
		return domain.MatchResult{}, err
	}
	return session.Result()
}

// Subscribe returns a channel that receives snapshots of a match.
// The caller must invoke the returned cancel function to avoid leaks.
func (r *Registry) Subscribe(_ context.Context, matchID string) (<-chan domain.Snapshot, func(), error) {
	session, err := r.session(matchID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := session.Subscribe()
	return ch, cancel, nil
}

// Dispose removes a match. A match still running is cancelled first.
func (r *Registry) Dispose(_ context.Context, matchID, actorID string) error {
	session, err := r.moderated(matchID, actorID)
	if err != nil {
		return err
	}
	if err := session.Cancel(); err != nil && !errors.Is(err, domain.ErrSessionAlreadyCompleted) {
		return err
	}
	r.sessions.Delete(matchID)
	log.Info().Str("match_id", matchID).Msg("match disposed")
	return nil
}

func (r *Registry) session(matchID string) (*match.Session, error) {
	session, ok := r.sessions.Get(matchID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

func (r *Registry) moderated(matchID, actorID string) (*match.Session, error) {
	session, err := r.session(matchID)
	if err != nil {
		return nil, err
	}
	if session.Moderator().ID != actorID {
		return nil, domain.ErrNotModerator
	}
	return session, nil
}

// watch forwards every snapshot to the publisher and handles completion: the result
// goes to the sink and the session is dropped after the retention period.
func (r *Registry) watch(session *match.Session) {
	updates, cancel := session.Subscribe()
	go func() {
		defer cancel()
		ctx := context.Background()
		for snap := range updates {
			if r.publisher != nil {
				if err := r.publisher.Publish(ctx, snap); err != nil {
					log.Warn().Err(err).Str("match_id", snap.MatchID).Msg("publish snapshot failed")
				}
			}
			if snap.State != domain.StateCompleted {
				continue
			}
			r.completed(ctx, session, *snap.Result)
			return
		}
	}()
}

func (r *Registry) completed(ctx context.Context, session *match.Session, result domain.MatchResult) {
	reason := "finished"
	if result.Cancelled {
		reason = "cancelled"
	}
	r.metrics.SessionCompleted(reason)
	log.Info().
		Str("match_id", result.MatchID).
		Str("reason", reason).
		Int("participants", len(result.Ranking)).
		Msg("match completed")

	if r.results != nil {
		if err := r.results.SaveResult(ctx, result); err != nil {
			log.Error().Err(err).Str("match_id", result.MatchID).Msg("save match result failed")
		}
	}

	if r.retention > 0 {
		id := session.ID()
		r.clock.AfterFunc(r.retention, func() {
			// Only drop the session we scheduled for.
			if current, ok := r.sessions.Get(id); ok && current == session {
				r.sessions.Delete(id)
				log.Debug().Str("match_id", id).Msg("completed match expired")
			}
		})
	}
}

func submissionOutcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, domain.ErrDuplicateSubmission):
		return "duplicate"
	case errors.Is(err, domain.ErrWindowClosed):
		return "window_closed"
	default:
		return "invalid"
	}
}
