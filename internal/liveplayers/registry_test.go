package liveplayers

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/snake-arena/internal/clock"
	"github.com/snake-arena/internal/domain"
)

type RegistrySuite struct {
	suite.Suite
	clock    *clock.MockClock
	registry *Registry
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.clock = clock.NewMock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.registry = NewRegistry(Config{TTL: 10 * time.Second, Shards: 4}, s.clock)
}

func state(id string, score int) domain.LivePlayerState {
	return domain.LivePlayerState{
		ID:        id,
		Username:  "user-" + id,
		Score:     score,
		Mode:      domain.ModeWalls,
		Snake:     []domain.Position{{X: score, Y: score}, {X: score, Y: score + 1}},
		Food:      domain.Position{X: score, Y: 0},
		Direction: domain.DirectionUp,
		IsPlaying: true,
	}
}

func (s *RegistrySuite) TestUpsertThenGet() {
	s.registry.Upsert(state("p1", 10))

	got, err := s.registry.Get("p1")
	s.Require().NoError(err)
	s.Equal(state("p1", 10), got)
}

func (s *RegistrySuite) TestGetMissing() {
	_, err := s.registry.Get("nope")
	s.ErrorIs(err, domain.ErrLivePlayerNotFound)
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *RegistrySuite) TestUpsertReplacesWholesale() {
	first := state("p1", 10)
	first.Snake = []domain.Position{{X: 1, Y: 1}, {X: 1, Y: 2}, {X: 1, Y: 3}}
	s.registry.Upsert(first)

	second := domain.LivePlayerState{ID: "p1", Mode: domain.ModePassThrough, Direction: domain.DirectionLeft}
	s.registry.Upsert(second)

	got, err := s.registry.Get("p1")
	s.Require().NoError(err)
	s.Equal(second, got)
	s.Empty(got.Snake)
	s.Empty(got.Username)
}

func (s *RegistrySuite) TestStoredStateIsIsolatedFromCaller() {
	st := state("p1", 10)
	s.registry.Upsert(st)
	st.Snake[0] = domain.Position{X: -1, Y: -1}

	got, _ := s.registry.Get("p1")
	got.Snake[1] = domain.Position{X: -2, Y: -2}

	again, _ := s.registry.Get("p1")
	s.Equal(state("p1", 10).Snake, again.Snake)
}

func (s *RegistrySuite) TestRemoveIsIdempotent() {
	s.registry.Upsert(state("p1", 10))
	s.registry.Upsert(state("p2", 20))

	s.True(s.registry.Remove("p1"))
	s.False(s.registry.Remove("p1"))
	s.False(s.registry.Remove("never-existed"))

	_, err := s.registry.Get("p1")
	s.ErrorIs(err, domain.ErrLivePlayerNotFound)
	s.Len(s.registry.List(), 1)
}

func (s *RegistrySuite) TestRemoveReportsExpiredEntries() {
	s.registry.Upsert(state("p1", 10))
	s.clock.Advance(11 * time.Second)

	s.True(s.registry.Remove("p1"), "an unswept expired entry is still removed")
	s.Equal(0, s.registry.Len())
	s.Empty(s.registry.Sweep())
}

func (s *RegistrySuite) TestClear() {
	for i := 0; i < 10; i++ {
		s.registry.Upsert(state(fmt.Sprintf("p%d", i), i))
	}
	removed := s.registry.Clear()

	s.Len(removed, 10)
	s.Contains(removed, "p7")
	s.Empty(s.registry.List())
	s.Equal(0, s.registry.Len())
}

func (s *RegistrySuite) TestSerializeExcludesSameSession() {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		overlap bool
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.registry.Serialize("p1", func() {
				mu.Lock()
				inside++
				if inside > 1 {
					overlap = true
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
			})
		}()
	}
	wg.Wait()
	s.False(overlap)
}

func (s *RegistrySuite) TestListReturnsAllLiveEntries() {
	s.registry.Upsert(state("p1", 10))
	s.registry.Upsert(state("p2", 20))
	s.registry.Upsert(state("p3", 30))

	ids := map[string]int{}
	for _, st := range s.registry.List() {
		ids[st.ID] = st.Score
	}
	s.Equal(map[string]int{"p1": 10, "p2": 20, "p3": 30}, ids)
}

func (s *RegistrySuite) TestListEmptyIsNotNil() {
	list := s.registry.List()
	s.NotNil(list)
	s.Empty(list)
}

func (s *RegistrySuite) TestExpiredEntryIsInvisible() {
	s.registry.Upsert(state("p1", 10))
	s.clock.Advance(11 * time.Second)

	_, err := s.registry.Get("p1")
	s.ErrorIs(err, domain.ErrLivePlayerNotFound)
	s.Empty(s.registry.List())
	s.Equal(1, s.registry.Len(), "expired entry is kept until swept")
}

func (s *RegistrySuite) TestHeartbeatKeepsEntryAlive() {
	s.registry.Upsert(state("p1", 10))
	for i := 0; i < 5; i++ {
		s.clock.Advance(6 * time.Second)
		s.registry.Upsert(state("p1", 10+i))
	}

	got, err := s.registry.Get("p1")
	s.Require().NoError(err)
	s.Equal(14, got.Score)
}

func (s *RegistrySuite) TestSweepRemovesOnlyStaleEntries() {
	s.registry.Upsert(state("stale", 1))
	s.clock.Advance(8 * time.Second)
	s.registry.Upsert(state("fresh", 2))
	s.clock.Advance(3 * time.Second)

	evicted := s.registry.Sweep()

	s.Equal([]string{"stale"}, evicted)
	s.Equal(1, s.registry.Len())
	_, err := s.registry.Get("fresh")
	s.NoError(err)
}

func (s *RegistrySuite) TestZeroTTLNeverExpires() {
	r := NewRegistry(Config{}, s.clock)
	r.Upsert(state("p1", 1))
	s.clock.Advance(24 * time.Hour)

	_, err := r.Get("p1")
	s.NoError(err)
	s.Empty(r.Sweep())
}

func (s *RegistrySuite) TestConcurrentUpsertsToDistinctKeysAreNotLost() {
	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", i)
			for n := 0; n < 100; n++ {
				s.registry.Upsert(state(id, n))
			}
		}(i)
	}
	wg.Wait()

	list := s.registry.List()
	s.Len(list, writers)
	for _, st := range list {
		s.Equal(99, st.Score)
	}
}

// Readers racing a single writer must only ever observe states the writer
// produced, in non-decreasing order, and never a mix of two states' fields.
func (s *RegistrySuite) TestConcurrentReadsNeverSeeTornOrOlderStates() {
	const updates = 2000
	s.registry.Upsert(state("p1", 0))

	var wg sync.WaitGroup
	done := make(chan struct{})
	errs := make(chan string, 16)

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := -1
			for {
				select {
				case <-done:
					return
				default:
				}
				got, err := s.registry.Get("p1")
				if err != nil {
					errs <- err.Error()
					return
				}
				if got.Score < last {
					errs <- fmt.Sprintf("went backwards: %d after %d", got.Score, last)
					return
				}
				want := state("p1", got.Score)
				if got.Food != want.Food || len(got.Snake) != 2 || got.Snake[0] != want.Snake[0] || got.Snake[1] != want.Snake[1] {
					errs <- fmt.Sprintf("torn state for score %d: %+v", got.Score, got)
					return
				}
				last = got.Score
			}
		}()
	}

	for n := 1; n <= updates; n++ {
		s.registry.Upsert(state("p1", n))
		got, err := s.registry.Get("p1")
		s.Require().NoError(err)
		s.GreaterOrEqual(got.Score, n)
	}
	close(done)
	wg.Wait()
	close(errs)

	for msg := range errs {
		s.Fail(msg)
	}
}
