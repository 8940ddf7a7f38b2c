package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/strata/internal/orchestrator"
	"github.com/mattjoyce/strata/internal/runlog"
	"github.com/mattjoyce/strata/internal/snapshot"
)

func TestHubRingBufferKeepsNewest(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish("tick", map[string]int{"n": i})
	}

	got := h.Since(0)
	require.Len(t, got, 3)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, int64(5), got[2].ID)
	assert.JSONEq(t, `{"n":4}`, string(got[2].Data))

	assert.Len(t, h.Since(4), 1)
	assert.Empty(t, h.Since(5))
}

func TestHubSubscribe(t *testing.T) {
	h := NewHub(10)
	ch, cancel := h.Subscribe()

	h.Publish("hello", nil)

	select {
	case ev := <-ch:
		assert.Equal(t, "hello", ev.Type)
		assert.Equal(t, json.RawMessage("{}"), ev.Data)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic on the closed channel.
	h.Publish("after", nil)
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(10)
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < h.subBuffer*3; i++ {
			h.Publish("flood", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestObserverPublishesProgress(t *testing.T) {
	h := NewHub(10)
	o := NewObserver(h)

	o.StateChanged(orchestrator.StateExecuting)
	o.SnapshotCreated(nil)
	o.SnapshotCreated(&snapshot.Snapshot{Name: "20260102_030405", Bytes: 10})
	o.StageFinished("01_a.py", runlog.StatusSucceeded, 1500*time.Millisecond)
	o.RunFinished(orchestrator.StateDone, 2*time.Second)

	got := h.Since(0)
	require.Len(t, got, 4)
	assert.Equal(t, TypeStateChanged, got[0].Type)
	assert.JSONEq(t, `{"state":"executing"}`, string(got[0].Data))
	assert.Equal(t, TypeSnapshotCreated, got[1].Type)
	assert.Equal(t, TypeStageFinished, got[2].Type)
	assert.JSONEq(t, `{"stage":"01_a.py","status":"succeeded","duration_ms":1500}`, string(got[2].Data))
	assert.Equal(t, TypeRunFinished, got[3].Type)
}
