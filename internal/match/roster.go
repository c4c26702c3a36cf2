package match

import (
	"fmt"
	"sort"
	"time"

	"educards-match/internal/domain"
)

type rosterEntry struct {
	identity     domain.Identity
	seq          int
	totalScore   int
	totalCorrect int
	// scoredAt is when the current totalScore was reached; zero until the first points.
	scoredAt  time.Time
	connected bool
}

// roster holds cumulative standings. Only the owning Session mutates it.
type roster struct {
	entries map[string]*rosterEntry
	order   []*rosterEntry
}

func newRoster() *roster {
	return &roster{entries: make(map[string]*rosterEntry)}
}

// join adds the identity or reconnects an existing entry, keeping its score.
func (r *roster) join(id domain.Identity) (*rosterEntry, bool) {
	if e, ok := r.entries[id.ID]; ok {
		if id.DisplayName != "" {
			e.identity.DisplayName = id.DisplayName
		}
		e.connected = true
		return e, true
	}
	e := &rosterEntry{identity: id, seq: len(r.order), connected: true}
	r.entries[id.ID] = e
	r.order = append(r.order, e)
	return e, false
}

func (r *roster) get(id string) (*rosterEntry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

func (r *roster) len() int {
	return len(r.order)
}

func (r *roster) connected() int {
	n := 0
	for _, e := range r.order {
		if e.connected {
			n++
		}
	}
	return n
}

func (r *roster) apply(id string, award domain.Award, at time.Time) *rosterEntry {
	e, ok := r.entries[id]
	if !ok {
		panic(fmt.Sprintf("match: scoring unknown participant %q", id))
	}
	if award.Points < 0 {
		panic(fmt.Sprintf("match: negative award %d for %q", award.Points, id))
	}
	if award.Correct {
		e.totalCorrect++
	}
	if award.Points > 0 {
		e.totalScore += award.Points
		e.scoredAt = at
	}
	return e
}

// ranked returns the entries ordered by score desc, then earlier scoredAt, then join
// order. The result is a fresh slice; entries themselves are shared.
func (r *roster) ranked() []*rosterEntry {
	out := make([]*rosterEntry, len(r.order))
	copy(out, r.order)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.totalScore != b.totalScore {
			return a.totalScore > b.totalScore
		}
		if !a.scoredAt.Equal(b.scoredAt) {
			return a.scoredAt.Before(b.scoredAt)
		}
		if a.seq != b.seq {
			return a.seq < b.seq
		}
		return a.identity.ID < b.identity.ID
	})
	return out
}

func (r *roster) snapshot(ledger map[string]domain.Submission) []domain.RosterEntry {
	ranked := r.ranked()
	out := make([]domain.RosterEntry, 0, len(ranked))
	for _, e := range ranked {
		_, answered := ledger[e.identity.ID]
		out = append(out, domain.RosterEntry{
			ParticipantID: e.identity.ID,
			DisplayName:   e.identity.DisplayName,
			TotalScore:    e.totalScore,
			TotalCorrect:  e.totalCorrect,
			Connected:     e.connected,
			Answered:      answered,
		})
	}
	return out
}

func (r *roster) ranking() []domain.RankedEntry {
	ranked := r.ranked()
	out := make([]domain.RankedEntry, 0, len(ranked))
	for i, e := range ranked {
		out = append(out, domain.RankedEntry{
			Rank:          i + 1,
			ParticipantID: e.identity.ID,
			DisplayName:   e.identity.DisplayName,
			TotalScore:    e.totalScore,
			TotalCorrect:  e.totalCorrect,
		})
	}
	return out
}
