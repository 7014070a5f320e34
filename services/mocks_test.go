package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"zombiequiz/models"
	"zombiequiz/store"

	"github.com/stretchr/testify/mock"
)

type mockBroadcaster struct {
	mock.Mock
}

func (m *mockBroadcaster) BroadcastToSession(pin string, messageType string, payload interface{}) {
	m.Called(pin, messageType, payload)
}

// countMessages returns how many broadcasts of the given type were sent.
func (m *mockBroadcaster) countMessages(messageType string) int {
	n := 0
	for _, call := range m.Calls {
		if call.Method == "BroadcastToSession" && call.Arguments.String(1) == messageType {
			n++
		}
	}
	return n
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) Record(ctx context.Context, p *models.Participant, totalQuestions int) error {
	args := m.Called(ctx, p, totalQuestions)
	return args.Error(0)
}

// fakeClock drives the coordinator tick-by-tick from the test goroutine.
// The tick channel is unbuffered so a completed send means the loop has
// picked the tick up.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	tick chan time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start, tick: make(chan time.Time)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

func (f *fakeClock) NewTicker(time.Duration) store.Ticker {
	return fakeTicker{ch: f.tick}
}

func (f *fakeClock) Tick(t *testing.T, at time.Time) {
	t.Helper()
	f.Set(at)
	select {
	case f.tick <- at:
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator stopped consuming ticks")
	}
}

type fakeTicker struct {
	ch chan time.Time
}

func (f fakeTicker) C() <-chan time.Time { return f.ch }
func (f fakeTicker) Stop()               {}
