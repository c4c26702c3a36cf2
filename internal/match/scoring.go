package match

import (
	"time"

	"educards-match/internal/domain"
)

// ScoringPolicy parameterises Score. The speed bonus never exceeds the base points.
type ScoringPolicy struct {
	BasePoints int
	SpeedBonus int
}

// Score computes the award for one participant's submission to one question. A nil
// submission scores zero. Correct answers earn the base points plus a speed bonus that
// decays linearly from its maximum at the opening instant to zero at the window end.
func Score(sub *domain.Submission, q domain.Question, openedAt time.Time, window time.Duration, p ScoringPolicy) domain.Award {
	if sub == nil || sub.OptionIndex != q.CorrectIndex {
		return domain.Award{}
	}

	base := p.BasePoints
	if q.Points > 0 {
		base = q.Points
	}
	if base < 0 {
		base = 0
	}
	return domain.Award{
		Correct: true,
		Points:  base + speedBonus(sub.SubmittedAt.Sub(openedAt), window, min(max(p.SpeedBonus, 0), base)),
	}
}

func speedBonus(elapsed, window time.Duration, maxBonus int) int {
	if window <= 0 || maxBonus <= 0 {
		return 0
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= window {
		return 0
	}
	return int(int64(maxBonus) * int64(window-elapsed) / int64(window))
}
