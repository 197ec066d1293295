package presence_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"huddle/internal/app/presence"
)

func TestRegisterReportsFirstConnectionOnly(t *testing.T) {
	tracker := presence.NewTracker()

	assert.True(t, tracker.Register("alice"))
	assert.False(t, tracker.Register("alice"))
	assert.True(t, tracker.IsOnline("alice"))
	assert.Equal(t, 1, tracker.OnlineCount())
}

func TestUnregisterReportsLastConnectionOnly(t *testing.T) {
	tracker := presence.NewTracker()
	tracker.Register("alice")
	tracker.Register("alice")

	assert.False(t, tracker.Unregister("alice"))
	assert.True(t, tracker.IsOnline("alice"))
	assert.True(t, tracker.Unregister("alice"))
	assert.False(t, tracker.IsOnline("alice"))
	assert.Zero(t, tracker.OnlineCount())
}

func TestUnregisterUnknownUserIsNoop(t *testing.T) {
	tracker := presence.NewTracker()
	assert.False(t, tracker.Unregister("ghost"))
	assert.Zero(t, tracker.OnlineCount())
}

func TestTrackerSurvivesConcurrentChurn(t *testing.T) {
	tracker := presence.NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Register("alice")
			tracker.Unregister("alice")
		}()
	}
	wg.Wait()
	assert.False(t, tracker.IsOnline("alice"))
	assert.Zero(t, tracker.OnlineCount())
}
