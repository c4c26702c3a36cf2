package app_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"educards-match/internal/app"
	"educards-match/internal/domain"
	"educards-match/internal/infra/memory"
	"educards-match/internal/match"
	"educards-match/internal/telemetry"
)

var moderator = domain.Identity{ID: "prof", DisplayName: "Prof"}

type recorder struct {
	mu        sync.Mutex
	snapshots []domain.Snapshot
	results   []domain.MatchResult
}

func (r *recorder) Publish(_ context.Context, snap domain.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, snap)
	return nil
}

func (r *recorder) SaveResult(_ context.Context, result domain.MatchResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	return nil
}

func (r *recorder) savedResults() []domain.MatchResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.MatchResult(nil), r.results...)
}

func (r *recorder) published(state domain.MatchState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.snapshots {
		if s.State == state {
			return true
		}
	}
	return false
}

type fixture struct {
	registry *app.Registry
	clock    *clockwork.FakeClock
	rec      *recorder
	metrics  *prometheus.Registry
}

func newFixture(t *testing.T, retention time.Duration) fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC))
	opts := match.DefaultOptions()
	opts.Clock = clock
	opts.RevealDelay = 0

	quizzes := memory.NewQuizRepositoryWithClock(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-1": {ID: "quiz-1", Questions: []domain.Question{
			{ID: "q1", Prompt: "2 + 2", Options: []string{"3", "4"}, CorrectIndex: 1},
			{ID: "q2", Prompt: "3 + 3", Options: []string{"6", "7"}, CorrectIndex: 0},
		}},
	}), time.Minute, clock)

	rec := &recorder{}
	reg := prometheus.NewPedanticRegistry()
	seq := 0
	registry := app.NewRegistry(app.Config{
		Sessions:        memory.NewSessionStore(),
		Quizzes:         quizzes,
		Publisher:       rec,
		Results:         rec,
		Metrics:         telemetry.NewMetrics(reg),
		Options:         opts,
		ResultRetention: retention,
		NewID: func() string {
			seq++
			return fmt.Sprintf("m%d", seq)
		},
	})
	return fixture{registry: registry, clock: clock, rec: rec, metrics: reg}
}

func TestCreateSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	fromBank, err := f.registry.CreateSession(ctx, app.CreateSessionRequest{Moderator: moderator, QuizID: "quiz-1"})
	require.NoError(t, err)
	assert.Equal(t, "m1", fromBank.MatchID)
	assert.Equal(t, domain.StateLobby, fromBank.State)
	assert.Equal(t, 2, fromBank.Questions)
	assert.Equal(t, "prof", fromBank.ModeratorID)

	inline, err := f.registry.CreateSession(ctx, app.CreateSessionRequest{
		Moderator: moderator,
		Questions: []domain.Question{{ID: "x", Prompt: "?", Options: []string{"a", "b"}, CorrectIndex: 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, "m2", inline.MatchID)
	assert.Equal(t, 1, inline.Questions)

	_, err = f.registry.CreateSession(ctx, app.CreateSessionRequest{Moderator: moderator})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	_, err = f.registry.CreateSession(ctx, app.CreateSessionRequest{QuizID: "quiz-1"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	_, err = f.registry.CreateSession(ctx, app.CreateSessionRequest{Moderator: moderator, QuizID: "nope"})
	assert.ErrorIs(t, err, domain.ErrQuizNotFound)
}

func TestUnknownMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	_, err := f.registry.Join(ctx, "missing", domain.Identity{ID: "u1"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.registry.Submit(ctx, "missing", "u1", 0)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.registry.Snapshot(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, _, err = f.registry.Subscribe(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, f.registry.Start(ctx, "missing", "prof"), domain.ErrSessionNotFound)

	assert.NotPanics(t, func() { f.registry.Leave(ctx, "missing", "u1") })
}

func TestModeratorOnlyCommands(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	snap, err := f.registry.CreateSession(ctx, app.CreateSessionRequest{Moderator: moderator, QuizID: "quiz-1"})
	require.NoError(t, err)
	_, err = f.registry.Join(ctx, snap.MatchID, domain.Identity{ID: "u1", DisplayName: "Alice"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.registry.Start(ctx, snap.MatchID, "u1"), domain.ErrNotModerator)
	require.NoError(t, f.registry.Start(ctx, snap.MatchID, "prof"))
	assert.ErrorIs(t, f.registry.Reveal(ctx, snap.MatchID, "u1"), domain.ErrNotModerator)
	assert.ErrorIs(t, f.registry.Advance(ctx, snap.MatchID, "u1"), domain.ErrNotModerator)
	assert.ErrorIs(t, f.registry.Cancel(ctx, snap.MatchID, "u1"), domain.ErrNotModerator)
	assert.ErrorIs(t, f.registry.Dispose(ctx, snap.MatchID, "u1"), domain.ErrNotModerator)

	current, err := f.registry.Snapshot(ctx, snap.MatchID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateQuestionOpen, current.State)
}

func TestMatchCompletionReachesSinkAndPublisher(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	snap, err := f.registry.CreateSession(ctx, app.CreateSessionRequest{Moderator: moderator, QuizID: "quiz-1"})
	require.NoError(t, err)
	id := snap.MatchID
	for _, p := range []string{"u1", "u2"} {
		_, err := f.registry.Join(ctx, id, domain.Identity{ID: p, DisplayName: p})
		require.NoError(t, err)
	}

	require.NoError(t, f.registry.Start(ctx, id, "prof"))
	f.clock.Advance(time.Second)
	_, err = f.registry.Submit(ctx, id, "u1", 1)
	require.NoError(t, err)
	_, err = f.registry.Submit(ctx, id, "u1", 1)
	assert.ErrorIs(t, err, domain.ErrDuplicateSubmission)
	f.clock.Advance(time.Second)
	_, err = f.registry.Submit(ctx, id, "u2", 0)
	require.NoError(t, err)

	require.NoError(t, f.registry.Advance(ctx, id, "prof"))
	f.clock.Advance(match.DefaultAnswerWindow)
	_, err = f.registry.Submit(ctx, id, "u2", 0)
	assert.ErrorIs(t, err, domain.ErrWindowClosed)

	_, err = f.registry.Result(ctx, id)
	assert.ErrorIs(t, err, domain.ErrMatchNotCompleted)
	require.NoError(t, f.registry.Advance(ctx, id, "prof"))

	result, err := f.registry.Result(ctx, id)
	require.NoError(t, err)
	require.Len(t, result.Ranking, 2)
	assert.Equal(t, "u1", result.Ranking[0].ParticipantID)
	assert.Equal(t, 950, result.Ranking[0].TotalScore)
	assert.Equal(t, 0, result.Ranking[1].TotalScore)

	require.Eventually(t, func() bool { return len(f.rec.savedResults()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, result, f.rec.savedResults()[0])
	assert.True(t, f.rec.published(domain.StateCompleted))

	expected := `
# HELP match_sessions_completed_total Match sessions completed, by reason.
# TYPE match_sessions_completed_total counter
match_sessions_completed_total{reason="finished"} 1
# HELP match_submissions_total Answer submissions, by outcome.
# TYPE match_submissions_total counter
match_submissions_total{outcome="accepted"} 2
match_submissions_total{outcome="duplicate"} 1
match_submissions_total{outcome="window_closed"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.metrics, strings.NewReader(expected),
		"match_sessions_completed_total", "match_submissions_total"))
}

func TestDisposeCancelsAndRemoves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	snap, err := f.registry.CreateSession(ctx, app.CreateSessionRequest{Moderator: moderator, QuizID: "quiz-1"})
	require.NoError(t, err)
	_, err = f.registry.Join(ctx, snap.MatchID, domain.Identity{ID: "u1"})
	require.NoError(t, err)
	require.NoError(t, f.registry.Start(ctx, snap.MatchID, "prof"))

	require.NoError(t, f.registry.Dispose(ctx, snap.MatchID, "prof"))
	_, err = f.registry.Snapshot(ctx, snap.MatchID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	require.Eventually(t, func() bool { return len(f.rec.savedResults()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, f.rec.savedResults()[0].Cancelled)
}

func TestCompletedMatchExpiresAfterRetention(t *testing.T) {
	ctx := context.Background()
	retention := 10 * time.Minute
	f := newFixture(t, retention)

	snap, err := f.registry.CreateSession(ctx, app.CreateSessionRequest{Moderator: moderator, QuizID: "quiz-1"})
	require.NoError(t, err)
	require.NoError(t, f.registry.Cancel(ctx, snap.MatchID, "prof"))

	// Still readable until the retention period has elapsed.
	result, err := f.registry.Result(ctx, snap.MatchID)
	require.NoError(t, err)
	assert.True(t, result.Cancelled)

	require.Eventually(t, func() bool {
		f.clock.Advance(retention)
		_, err := f.registry.Snapshot(ctx, snap.MatchID)
		return errors.Is(err, domain.ErrSessionNotFound)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribeFollowsMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	snap, err := f.registry.CreateSession(ctx, app.CreateSessionRequest{Moderator: moderator, QuizID: "quiz-1"})
	require.NoError(t, err)
	_, err = f.registry.Join(ctx, snap.MatchID, domain.Identity{ID: "u1"})
	require.NoError(t, err)

	updates, cancel, err := f.registry.Subscribe(ctx, snap.MatchID)
	require.NoError(t, err)
	defer cancel()

	initial := <-updates
	assert.Equal(t, domain.StateLobby, initial.State)

	require.NoError(t, f.registry.Start(ctx, snap.MatchID, "prof"))
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-updates:
			if s.State == domain.StateQuestionOpen {
				require.NotNil(t, s.Question)
				assert.Nil(t, s.Question.CorrectIndex)
				return
			}
		case <-timeout:
			t.Fatal("no question_open snapshot")
		}
	}
}

func TestLeaveMarksDisconnected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)

	snap, err := f.registry.CreateSession(ctx, app.CreateSessionRequest{Moderator: moderator, QuizID: "quiz-1"})
	require.NoError(t, err)
	_, err = f.registry.Join(ctx, snap.MatchID, domain.Identity{ID: "u1"})
	require.NoError(t, err)

	f.registry.Leave(ctx, snap.MatchID, "u1")
	current, err := f.registry.Snapshot(ctx, snap.MatchID)
	require.NoError(t, err)
	require.Len(t, current.Roster, 1)
	assert.False(t, current.Roster[0].Connected)
}
