package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"educards-match/internal/domain"
)

// OpenDB opens a bun handle over the pgdriver connector.
func OpenDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

type quizRow struct {
	bun.BaseModel `bun:"table:quizzes"`

	ID   string      `bun:"id,pk"`
	Data domain.Quiz `bun:"data,type:jsonb"`
}

// SaveQuiz inserts or replaces a question bank.
func SaveQuiz(ctx context.Context, db bun.IDB, quiz domain.Quiz) error {
	row := &quizRow{ID: quiz.ID, Data: quiz}
	_, err := db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("data = EXCLUDED.data").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save quiz %s: %w", quiz.ID, err)
	}
	return nil
}

type matchResultRow struct {
	bun.BaseModel `bun:"table:match_results"`

	MatchID     string               `bun:"match_id,pk"`
	Cancelled   bool                 `bun:"cancelled"`
	Questions   int                  `bun:"questions"`
	Answered    int                  `bun:"answered"`
	Ranking     []domain.RankedEntry `bun:"ranking,type:jsonb"`
	CompletedAt time.Time            `bun:"completed_at"`
}

// ResultStore records completed match results for the leaderboard/history service.
type ResultStore struct {
	db bun.IDB
}

func NewResultStore(db bun.IDB) *ResultStore {
	return &ResultStore{db: db}
}

// SaveResult is idempotent per match id.
func (s *ResultStore) SaveResult(ctx context.Context, result domain.MatchResult) error {
	row := &matchResultRow{
		MatchID:     result.MatchID,
		Cancelled:   result.Cancelled,
		Questions:   result.Questions,
		Answered:    result.Answered,
		Ranking:     result.Ranking,
		CompletedAt: result.CompletedAt,
	}
	if _, err := s.db.NewInsert().Model(row).On("CONFLICT (match_id) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("save match result %s: %w", result.MatchID, err)
	}
	return nil
}

// GetResult loads a stored match result.
func (s *ResultStore) GetResult(ctx context.Context, matchID string) (domain.MatchResult, error) {
	row := new(matchResultRow)
	if err := s.db.NewSelect().Model(row).Where("match_id = ?", matchID).Scan(ctx); err != nil {
		return domain.MatchResult{}, fmt.Errorf("get match result %s: %w", matchID, err)
	}
	return domain.MatchResult{
		MatchID:     row.MatchID,
		Cancelled:   row.Cancelled,
		Questions:   row.Questions,
		Answered:    row.Answered,
		Ranking:     row.Ranking,
		CompletedAt: row.CompletedAt,
	}, nil
}
