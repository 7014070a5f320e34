package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"zombiequiz/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T) (*MemoryStore, *MemoryFeed, *models.Session) {
	t.Helper()
	feed := NewMemoryFeed(256)
	mem := NewMemoryStore(feed, RealClock())
	session := mem.SeedSession(&models.Session{
		QuizID:        1,
		Pin:           "ROOM42",
		Status:        models.SessionWaiting,
		Difficulty:    models.DifficultyNormal,
		QuestionLimit: 10,
	}, nil)
	return mem, feed, session
}

func intPtr(v int) *int { return &v }

func TestJoinSessionCreatesParticipant(t *testing.T) {
	mem, _, session := seedStore(t)

	res, err := mem.JoinSession(context.Background(), "room42", "client-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, session.ID, res.SessionID)
	assert.Equal(t, "ROOM42", res.GamePin)

	p, err := mem.GetParticipant(context.Background(), res.ParticipantID)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Nickname)
	assert.Equal(t, 100, p.Health)
	assert.Equal(t, 100, p.MaxHealth)
	assert.True(t, p.IsAlive)
}

func TestJoinSessionUnknownRoomCreatesNothing(t *testing.T) {
	mem, _, session := seedStore(t)

	_, err := mem.JoinSession(context.Background(), "nosuch", "client-1", "alice")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	participants, err := mem.ListParticipants(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Empty(t, participants)
}

func TestJoinSessionLockedWhenFinished(t *testing.T) {
	mem, _, session := seedStore(t)
	require.NoError(t, mem.UpdateSessionStatus(context.Background(), session.ID, models.SessionFinished))

	_, err := mem.JoinSession(context.Background(), "room42", "client-1", "alice")
	assert.ErrorIs(t, err, ErrSessionLocked)
}

func TestJoinSessionNicknameTaken(t *testing.T) {
	mem, _, _ := seedStore(t)
	_, err := mem.JoinSession(context.Background(), "room42", "client-1", "alice")
	require.NoError(t, err)

	_, err = mem.JoinSession(context.Background(), "room42", "client-2", "alice")
	assert.ErrorIs(t, err, ErrNicknameTaken)
}

func TestConcurrentJoinsSameNicknameOnlyOneWins(t *testing.T) {
	mem, _, session := seedStore(t)

	const joiners = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mem.JoinSession(context.Background(), "room42", "client", "alice")
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrNicknameTaken)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	participants, err := mem.ListParticipants(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Len(t, participants, 1)
}

func TestUpdateParticipantVersionConflict(t *testing.T) {
	mem, _, _ := seedStore(t)
	res, err := mem.JoinSession(context.Background(), "room42", "client-1", "alice")
	require.NoError(t, err)

	// First writer wins with version 0.
	_, err = mem.UpdateParticipant(context.Background(), res.ParticipantID, 0, ParticipantUpdate{Score: intPtr(10)})
	require.NoError(t, err)

	// Second writer still holding version 0 must conflict, not clobber.
	_, err = mem.UpdateParticipant(context.Background(), res.ParticipantID, 0, ParticipantUpdate{Score: intPtr(99)})
	assert.ErrorIs(t, err, ErrVersionConflict)

	p, err := mem.GetParticipant(context.Background(), res.ParticipantID)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Score)
	assert.Equal(t, 1, p.Version)
}

func TestUpdateParticipantClampsHealth(t *testing.T) {
	mem, _, _ := seedStore(t)
	res, err := mem.JoinSession(context.Background(), "room42", "client-1", "alice")
	require.NoError(t, err)

	p, err := mem.UpdateParticipant(context.Background(), res.ParticipantID, 0, ParticipantUpdate{Health: intPtr(-40)})
	require.NoError(t, err)
	assert.Equal(t, 0, p.Health)

	p, err = mem.UpdateParticipant(context.Background(), res.ParticipantID, p.Version, ParticipantUpdate{Health: intPtr(500)})
	require.NoError(t, err)
	assert.Equal(t, p.MaxHealth, p.Health)
}

func TestFinishedAtSetOnlyOnce(t *testing.T) {
	mem, _, _ := seedStore(t)
	res, err := mem.JoinSession(context.Background(), "room42", "client-1", "alice")
	require.NoError(t, err)

	first := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p, err := mem.UpdateParticipant(context.Background(), res.ParticipantID, 0, ParticipantUpdate{FinishedAt: &first})
	require.NoError(t, err)
	require.NotNil(t, p.FinishedAt)

	later := first.Add(time.Hour)
	p, err = mem.UpdateParticipant(context.Background(), res.ParticipantID, p.Version, ParticipantUpdate{FinishedAt: &later})
	require.NoError(t, err)
	assert.True(t, p.FinishedAt.Equal(first), "finishedAt must keep its first value")
}

func TestAppendAnswerGrowsMonotonically(t *testing.T) {
	mem, _, _ := seedStore(t)
	res, err := mem.JoinSession(context.Background(), "room42", "client-1", "alice")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		p, err := mem.GetParticipant(context.Background(), res.ParticipantID)
		require.NoError(t, err)
		_, err = mem.UpdateParticipant(context.Background(), p.ID, p.Version, ParticipantUpdate{
			AppendAnswer: &models.Answer{QuestionID: uint(i + 1), OptionID: 1, IsCorrect: true},
		})
		require.NoError(t, err)
	}

	p, err := mem.GetParticipant(context.Background(), res.ParticipantID)
	require.NoError(t, err)
	require.Len(t, p.Answers, 3)
	for i, a := range p.Answers {
		assert.Equal(t, i, a.AnswerIndex)
	}
}

func TestFeedDeliversPerRecordInOrder(t *testing.T) {
	mem, feed, session := seedStore(t)

	sub, err := feed.Subscribe(context.Background(), Filter{SessionID: session.ID, Table: TableParticipants})
	require.NoError(t, err)
	defer sub.Close()

	res, err := mem.JoinSession(context.Background(), "room42", "client-1", "alice")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		p, err := mem.GetParticipant(context.Background(), res.ParticipantID)
		require.NoError(t, err)
		_, err = mem.UpdateParticipant(context.Background(), p.ID, p.Version, ParticipantUpdate{Score: intPtr(i + 1)})
		require.NoError(t, err)
	}

	// Insert plus five updates, score strictly increasing in delivery
	// order.
	var scores []int
	for i := 0; i < 6; i++ {
		select {
		case ev := <-sub.Events():
			require.NotNil(t, ev.NewParticipant)
			scores = append(scores, ev.NewParticipant.Score)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for change event")
		}
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, scores)
}

func TestFeedFilterBySession(t *testing.T) {
	feed := NewMemoryFeed(64)
	mem := NewMemoryStore(feed, RealClock())
	s1 := mem.SeedSession(&models.Session{QuizID: 1, Pin: "aaa111"}, nil)
	s2 := mem.SeedSession(&models.Session{QuizID: 1, Pin: "bbb222"}, nil)

	sub, err := feed.Subscribe(context.Background(), Filter{SessionID: s2.ID})
	require.NoError(t, err)
	defer sub.Close()

	_, err = mem.JoinSession(context.Background(), "aaa111", "c1", "alice")
	require.NoError(t, err)
	_, err = mem.JoinSession(context.Background(), "bbb222", "c2", "bob")
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, s2.ID, ev.SessionID)
		assert.Equal(t, "bob", ev.NewParticipant.Nickname)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
	}
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected extra event for session %d", ev.SessionID)
	case <-time.After(50 * time.Millisecond):
	}
	_ = s1
}

func TestFeedSubscriptionClosedOnContextCancel(t *testing.T) {
	feed := NewMemoryFeed(16)
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := feed.Subscribe(ctx, Filter{})
	require.NoError(t, err)

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.Events():
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestConcurrentWritersOnlyOneWinsPerVersion(t *testing.T) {
	mem, _, _ := seedStore(t)
	res, err := mem.JoinSession(context.Background(), "room42", "client-1", "alice")
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	conflicts := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(score int) {
			defer wg.Done()
			_, err := mem.UpdateParticipant(context.Background(), res.ParticipantID, 0, ParticipantUpdate{Score: &score})
			if err == ErrVersionConflict {
				mu.Lock()
				conflicts++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, writers-1, conflicts, "exactly one writer should win version 0")
	p, err := mem.GetParticipant(context.Background(), res.ParticipantID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Version)
}
