package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/storage"
)

// Storage is an in-memory implementation of the storage interface
type Storage struct {
	mu sync.RWMutex

	users       map[string]*domain.User
	emailIndex  map[string]string
	usernameIdx map[string]string
	scores      []domain.ScoreEntry
	nextSeq     int64
	now         func() time.Time
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		users:       make(map[string]*domain.User),
		emailIndex:  make(map[string]string),
		usernameIdx: make(map[string]string),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Ensure Storage implements the interface
var _ storage.Store = (*Storage)(nil)

func (s *Storage) Ping(ctx context.Context) error { return nil }

func (s *Storage) Close() error { return nil }

// User operations

func (s *Storage) CreateUser(ctx context.Context, username, email, passwordHash string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.emailIndex[strings.ToLower(email)]; ok {
		return nil, domain.ErrEmailTaken
	}
	if _, ok := s.usernameIdx[username]; ok {
		return nil, domain.ErrUsernameTaken
	}

	u := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	}
	s.users[u.ID] = u
	s.emailIndex[strings.ToLower(email)] = u.ID
	s.usernameIdx[username] = u.ID

	cp := *u
	return &cp, nil
}

func (s *Storage) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emailIndex[strings.ToLower(email)]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Storage) UserByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Storage) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernameIdx[username]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Storage) PasswordHash(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return "", domain.ErrUserNotFound
	}
	return u.PasswordHash, nil
}

func (s *Storage) SetSuperuser(ctx context.Context, id string, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.IsSuperuser = v
	return nil
}

func (s *Storage) ListUsers(ctx context.Context, offset, limit int) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, *u)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return []domain.User{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *Storage) CountUsers(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.users)), nil
}

func (s *Storage) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	delete(s.users, id)
	delete(s.emailIndex, strings.ToLower(u.Email))
	delete(s.usernameIdx, u.Username)

	kept := s.scores[:0]
	for _, e := range s.scores {
		if e.UserID != id {
			kept = append(kept, e)
		}
	}
	s.scores = kept
	return nil
}

// Score operations

func (s *Storage) SubmitScore(ctx context.Context, userID, username string, score int, mode domain.Mode) (*domain.ScoreEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return nil, domain.ErrUserNotFound
	}
	s.nextSeq++
	e := domain.ScoreEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Username:  username,
		Score:     score,
		Mode:      mode,
		CreatedAt: s.now(),
		Seq:       s.nextSeq,
	}
	s.scores = append(s.scores, e)
	return &e, nil
}

func (s *Storage) Scores(ctx context.Context, mode *domain.Mode) ([]domain.ScoreEntry, error) {
	s.mu.RLock()
	out := make([]domain.ScoreEntry, 0, len(s.scores))
	for _, e := range s.scores {
		if mode == nil || e.Mode == *mode {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	// s.scores is in insertion order, so a stable sort keeps ties in submission order.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func (s *Storage) HighScore(ctx context.Context, userID string, mode *domain.Mode) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	best := 0
	for _, e := range s.scores {
		if e.UserID != userID || (mode != nil && e.Mode != *mode) {
			continue
		}
		if e.Score > best {
			best = e.Score
		}
	}
	return best, nil
}

func (s *Storage) BestScores(ctx context.Context, mode domain.Mode) ([]domain.RankEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := make(map[string]int)
	out := make([]domain.RankEntry, 0)
	// s.scores is in seq order, so a strict improvement keeps the earliest entry at the best score.
	for _, e := range s.scores {
		if e.Mode != mode {
			continue
		}
		i, ok := idx[e.UserID]
		if !ok {
			username := ""
			if u, found := s.users[e.UserID]; found {
				username = u.Username
			}
			idx[e.UserID] = len(out)
			out = append(out, domain.RankEntry{UserID: e.UserID, Username: username, Score: e.Score, Mode: mode, ReachedSeq: e.Seq})
			continue
		}
		if e.Score > out[i].Score {
			out[i].Score = e.Score
			out[i].ReachedSeq = e.Seq
		}
	}
	domain.RankBestScores(out)
	return out, nil
}

func (s *Storage) CountScores(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.scores)), nil
}

func (s *Storage) CountScoresByMode(ctx context.Context) (map[domain.Mode]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.Mode]int64)
	for _, e := range s.scores {
		out[e.Mode]++
	}
	return out, nil
}
