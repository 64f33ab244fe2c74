package events_test

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/humblevault/humblevault/pkg/library/events"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogger(bus *events.Bus) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.AddHook(bus.Hook())
	return l
}

func TestBus_RingKeepsMostRecentLines(t *testing.T) {
	bus := events.NewBus(3)
	log := newLogger(bus)
	for i := 0; i < 5; i++ {
		log.Infof("line %d", i)
	}
	log.Debug("ignored")

	lines := bus.Lines()
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "line 2")
	assert.Contains(t, lines[2], "line 4")
}

func TestBus_EventFieldSetsType(t *testing.T) {
	bus := events.NewBus(10)
	log := newLogger(bus)
	ch, cancel := bus.Subscribe()
	defer cancel()

	log.WithField(events.Field, events.TypeSyncComplete).WithField("total", 3).WithError(fmt.Errorf("partial")).Info("sync complete")

	select {
	case e := <-ch:
		assert.Equal(t, events.TypeSyncComplete, e.Type)
		assert.Equal(t, "sync complete", e.Message)
		assert.Equal(t, 3, e.Data["total"])
		assert.Equal(t, "partial", e.Data["error"])
		_, hasEvent := e.Data[events.Field]
		assert.False(t, hasEvent)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := events.NewBus(10)
	_, cancel := bus.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(events.Event{Type: events.TypeLog})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := events.NewBus(10)
	ch, cancel := bus.Subscribe()
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	bus.Publish(events.Event{Type: events.TypeLog})
}
