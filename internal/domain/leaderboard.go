package domain

import (
	"sort"
	"time"
)

// ScoreEntry is an immutable score submission.
//
// Username is copied from the user at submission time and is never rewritten
// afterwards, so leaderboard reads need no join.
type ScoreEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Score     int       `json:"score"`
	Mode      Mode      `json:"mode"`
	CreatedAt time.Time `json:"createdAt"`

	// Seq is the insertion order, used to break score ties.
	Seq int64 `json:"-"`
}

// ScoreSubmission represents a request to submit a score
type ScoreSubmission struct {
	Score int  `json:"score"`
	Mode  Mode `json:"mode"`
}

// Validate checks a submission before it reaches the ledger.
func (s ScoreSubmission) Validate() error {
	if s.Score < 0 {
		return ErrInvalidScore
	}
	if !s.Mode.Valid() {
		return ErrInvalidMode
	}
	return nil
}

// ScoreEvent is published to the event stream after a score is recorded.
type ScoreEvent struct {
	EntryID   string    `json:"entry_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Score     int       `json:"score"`
	Mode      Mode      `json:"mode"`
	Timestamp time.Time `json:"timestamp"`
}

// RankEntry is a user's best score in a mode as kept by the ranking cache.
type RankEntry struct {
	Rank     int64  `json:"rank"`
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Score    int    `json:"score"`
	Mode     Mode   `json:"mode"`
	// ReachedSeq is the ledger sequence of the first entry with Score.
	// Equal scores rank by it, earliest first.
	ReachedSeq int64 `json:"-"`
}

// RankBestScores orders best scores highest first, breaking ties by who
// reached the score first, and assigns 1-based ranks.
func RankBestScores(entries []RankEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].ReachedSeq < entries[j].ReachedSeq
	})
	for i := range entries {
		entries[i].Rank = int64(i + 1)
	}
}

// HighScore is the body of the high-score response.
type HighScore struct {
	Score int `json:"score"`
}

// Stats contains system statistics for administrators. GamesByMode is keyed
// by the wire value of the mode.
type Stats struct {
	Users       int64            `json:"users"`
	Games       int64            `json:"games"`
	GamesByMode map[string]int64 `json:"games_by_mode"`
}
