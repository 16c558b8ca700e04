// Package storagetest is a behavioural test suite shared by every storage.Store
// implementation.
package storagetest

import (
	"context"
	"fmt"

	"github.com/stretchr/testify/suite"

	"github.com/snake-arena/internal/domain"
	"github.com/snake-arena/internal/storage"
)

// StoreSuite exercises the UserStore and ScoreStore contracts. Embed it and
// set NewStore in the embedding suite's SetupSuite.
type StoreSuite struct {
	suite.Suite
	NewStore func() storage.Store

	Store storage.Store
	Ctx   context.Context
}

func (s *StoreSuite) SetupTest() {
	s.Require().NotNil(s.NewStore, "NewStore must be set")
	s.Store = s.NewStore()
	s.Ctx = context.Background()
}

func (s *StoreSuite) TearDownTest() {
	if s.Store != nil {
		_ = s.Store.Close()
	}
}

func (s *StoreSuite) createUser(name string) *domain.User {
	u, err := s.Store.CreateUser(s.Ctx, name, name+"@example.com", "hash-"+name)
	s.Require().NoError(err)
	return u
}

func walls() *domain.Mode {
	m := domain.ModeWalls
	return &m
}

func passThrough() *domain.Mode {
	m := domain.ModePassThrough
	return &m
}

// User tests

func (s *StoreSuite) TestCreateAndLookupUser() {
	u := s.createUser("alice")
	s.NotEmpty(u.ID)
	s.False(u.CreatedAt.IsZero())
	s.False(u.IsSuperuser)

	byEmail, err := s.Store.UserByEmail(s.Ctx, "alice@example.com")
	s.Require().NoError(err)
	s.Equal(u.ID, byEmail.ID)

	byID, err := s.Store.UserByID(s.Ctx, u.ID)
	s.Require().NoError(err)
	s.Equal("alice", byID.Username)

	byName, err := s.Store.UserByUsername(s.Ctx, "alice")
	s.Require().NoError(err)
	s.Equal(u.ID, byName.ID)

	hash, err := s.Store.PasswordHash(s.Ctx, u.ID)
	s.Require().NoError(err)
	s.Equal("hash-alice", hash)
}

func (s *StoreSuite) TestDuplicateEmailConflicts() {
	s.createUser("alice")

	_, err := s.Store.CreateUser(s.Ctx, "someone-else", "alice@example.com", "x")
	s.ErrorIs(err, domain.ErrEmailTaken)
	s.ErrorIs(err, domain.ErrConflict)
}

func (s *StoreSuite) TestDuplicateUsernameConflicts() {
	s.createUser("alice")

	_, err := s.Store.CreateUser(s.Ctx, "alice", "other@example.com", "x")
	s.ErrorIs(err, domain.ErrUsernameTaken)
}

func (s *StoreSuite) TestLookupsOfMissingUser() {
	_, err := s.Store.UserByEmail(s.Ctx, "ghost@example.com")
	s.ErrorIs(err, domain.ErrUserNotFound)
	_, err = s.Store.UserByID(s.Ctx, "00000000-0000-0000-0000-000000000000")
	s.ErrorIs(err, domain.ErrUserNotFound)
	_, err = s.Store.UserByUsername(s.Ctx, "ghost")
	s.ErrorIs(err, domain.ErrUserNotFound)
	_, err = s.Store.PasswordHash(s.Ctx, "00000000-0000-0000-0000-000000000000")
	s.ErrorIs(err, domain.ErrUserNotFound)
}

func (s *StoreSuite) TestSetSuperuser() {
	u := s.createUser("root")

	s.Require().NoError(s.Store.SetSuperuser(s.Ctx, u.ID, true))
	got, err := s.Store.UserByID(s.Ctx, u.ID)
	s.Require().NoError(err)
	s.True(got.IsSuperuser)

	s.ErrorIs(s.Store.SetSuperuser(s.Ctx, "ghost", true), domain.ErrUserNotFound)
}

func (s *StoreSuite) TestListAndCountUsers() {
	for i := 0; i < 5; i++ {
		s.createUser(fmt.Sprintf("user%d", i))
	}

	n, err := s.Store.CountUsers(s.Ctx)
	s.Require().NoError(err)
	s.EqualValues(5, n)

	page, err := s.Store.ListUsers(s.Ctx, 1, 2)
	s.Require().NoError(err)
	s.Len(page, 2)

	rest, err := s.Store.ListUsers(s.Ctx, 4, 100)
	s.Require().NoError(err)
	s.Len(rest, 1)

	none, err := s.Store.ListUsers(s.Ctx, 10, 100)
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *StoreSuite) TestDeleteUserCascadesScores() {
	alice := s.createUser("alice")
	bob := s.createUser("bob")
	_, err := s.Store.SubmitScore(s.Ctx, alice.ID, alice.Username, 10, domain.ModeWalls)
	s.Require().NoError(err)
	_, err = s.Store.SubmitScore(s.Ctx, bob.ID, bob.Username, 20, domain.ModeWalls)
	s.Require().NoError(err)

	s.Require().NoError(s.Store.DeleteUser(s.Ctx, alice.ID))

	_, err = s.Store.UserByID(s.Ctx, alice.ID)
	s.ErrorIs(err, domain.ErrUserNotFound)
	entries, err := s.Store.Scores(s.Ctx, nil)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(bob.ID, entries[0].UserID)

	s.ErrorIs(s.Store.DeleteUser(s.Ctx, alice.ID), domain.ErrUserNotFound)
}

// Score tests

func (s *StoreSuite) TestSubmitScoreReturnsPersistedEntry() {
	u := s.createUser("alice")

	e, err := s.Store.SubmitScore(s.Ctx, u.ID, "alice", 120, domain.ModePassThrough)
	s.Require().NoError(err)
	s.NotEmpty(e.ID)
	s.Equal(u.ID, e.UserID)
	s.Equal("alice", e.Username)
	s.Equal(120, e.Score)
	s.Equal(domain.ModePassThrough, e.Mode)
	s.False(e.CreatedAt.IsZero())
}

func (s *StoreSuite) TestSubmitScoreForUnknownUser() {
	_, err := s.Store.SubmitScore(s.Ctx, "ghost", "ghost", 1, domain.ModeWalls)
	s.ErrorIs(err, domain.ErrUserNotFound)
}

func (s *StoreSuite) TestScoresOrderedDescendingWithStableTies() {
	u := s.createUser("alice")
	first, err := s.Store.SubmitScore(s.Ctx, u.ID, "alice", 100, domain.ModeWalls)
	s.Require().NoError(err)
	tieA, err := s.Store.SubmitScore(s.Ctx, u.ID, "alice", 300, domain.ModeWalls)
	s.Require().NoError(err)
	tieB, err := s.Store.SubmitScore(s.Ctx, u.ID, "alice", 300, domain.ModeWalls)
	s.Require().NoError(err)

	entries, err := s.Store.Scores(s.Ctx, walls())
	s.Require().NoError(err)
	s.Require().Len(entries, 3)
	s.Equal([]string{tieA.ID, tieB.ID, first.ID}, []string{entries[0].ID, entries[1].ID, entries[2].ID})
}

func (s *StoreSuite) TestModeFilterPartitionsEntries() {
	u := s.createUser("alice")
	inputs := []struct {
		score int
		mode  domain.Mode
	}{
		{50, domain.ModeWalls}, {70, domain.ModePassThrough}, {70, domain.ModeWalls},
		{10, domain.ModePassThrough}, {90, domain.ModeWalls},
	}
	for _, in := range inputs {
		_, err := s.Store.SubmitScore(s.Ctx, u.ID, "alice", in.score, in.mode)
		s.Require().NoError(err)
	}

	all, err := s.Store.Scores(s.Ctx, nil)
	s.Require().NoError(err)
	s.Len(all, len(inputs))

	for _, mode := range []*domain.Mode{walls(), passThrough()} {
		filtered, err := s.Store.Scores(s.Ctx, mode)
		s.Require().NoError(err)

		var expected []string
		for _, e := range all {
			if e.Mode == *mode {
				expected = append(expected, e.ID)
			}
		}
		var got []string
		for _, e := range filtered {
			got = append(got, e.ID)
		}
		s.Equal(expected, got)
	}
}

func (s *StoreSuite) TestHighScore() {
	u := s.createUser("alice")

	best, err := s.Store.HighScore(s.Ctx, u.ID, nil)
	s.Require().NoError(err)
	s.Equal(0, best)

	_, _ = s.Store.SubmitScore(s.Ctx, u.ID, "alice", 300, domain.ModeWalls)
	_, _ = s.Store.SubmitScore(s.Ctx, u.ID, "alice", 450, domain.ModeWalls)
	_, _ = s.Store.SubmitScore(s.Ctx, u.ID, "alice", 900, domain.ModePassThrough)

	best, err = s.Store.HighScore(s.Ctx, u.ID, walls())
	s.Require().NoError(err)
	s.Equal(450, best)

	best, err = s.Store.HighScore(s.Ctx, u.ID, nil)
	s.Require().NoError(err)
	s.Equal(900, best)

	best, err = s.Store.HighScore(s.Ctx, "unknown-user", walls())
	s.Require().NoError(err)
	s.Equal(0, best)
}

func (s *StoreSuite) TestBestScoresPerUser() {
	alice := s.createUser("alice")
	bob := s.createUser("bob")
	_, _ = s.Store.SubmitScore(s.Ctx, alice.ID, "alice", 10, domain.ModeWalls)
	_, _ = s.Store.SubmitScore(s.Ctx, alice.ID, "alice", 40, domain.ModeWalls)
	_, _ = s.Store.SubmitScore(s.Ctx, bob.ID, "bob", 30, domain.ModeWalls)
	_, _ = s.Store.SubmitScore(s.Ctx, bob.ID, "bob", 99, domain.ModePassThrough)

	best, err := s.Store.BestScores(s.Ctx, domain.ModeWalls)
	s.Require().NoError(err)

	got := map[string]int{}
	for _, r := range best {
		got[r.Username] = r.Score
		s.Equal(domain.ModeWalls, r.Mode)
	}
	s.Equal(map[string]int{"alice": 40, "bob": 30}, got)
}

func (s *StoreSuite) TestBestScoresTiesGoToFirstToReach() {
	alice := s.createUser("alice")
	bob := s.createUser("bob")
	carol := s.createUser("carol")
	_, _ = s.Store.SubmitScore(s.Ctx, bob.ID, "bob", 10, domain.ModeWalls)
	first, err := s.Store.SubmitScore(s.Ctx, alice.ID, "alice", 100, domain.ModeWalls)
	s.Require().NoError(err)
	_, _ = s.Store.SubmitScore(s.Ctx, bob.ID, "bob", 100, domain.ModeWalls)
	_, _ = s.Store.SubmitScore(s.Ctx, alice.ID, "alice", 100, domain.ModeWalls)
	_, _ = s.Store.SubmitScore(s.Ctx, carol.ID, "carol", 150, domain.ModeWalls)

	best, err := s.Store.BestScores(s.Ctx, domain.ModeWalls)
	s.Require().NoError(err)
	s.Require().Len(best, 3)

	var order []string
	for i, r := range best {
		order = append(order, r.Username)
		s.Equal(int64(i+1), r.Rank)
	}
	s.Equal([]string{"carol", "alice", "bob"}, order)
	s.Equal(first.Seq, best[1].ReachedSeq, "a repeated best score keeps the earlier entry")
	s.Less(best[1].ReachedSeq, best[2].ReachedSeq)
}

func (s *StoreSuite) TestCounts() {
	u := s.createUser("alice")
	_, _ = s.Store.SubmitScore(s.Ctx, u.ID, "alice", 1, domain.ModeWalls)
	_, _ = s.Store.SubmitScore(s.Ctx, u.ID, "alice", 2, domain.ModeWalls)
	_, _ = s.Store.SubmitScore(s.Ctx, u.ID, "alice", 3, domain.ModePassThrough)

	n, err := s.Store.CountScores(s.Ctx)
	s.Require().NoError(err)
	s.EqualValues(3, n)

	byMode, err := s.Store.CountScoresByMode(s.Ctx)
	s.Require().NoError(err)
	s.Equal(map[domain.Mode]int64{domain.ModeWalls: 2, domain.ModePassThrough: 1}, byMode)
}

func (s *StoreSuite) TestPing() {
	s.NoError(s.Store.Ping(s.Ctx))
}
