package events

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Field is the logrus field that turns a log entry into a typed event.
const Field = "event"

const (
	TypeLog              = "log"
	TypeSyncStart        = "sync-start"
	TypeSyncComplete     = "sync-complete"
	TypeSyncFailed       = "sync-failed"
	TypeReconcile        = "reconcile-complete"
	TypeDownloadStart    = "download-start"
	TypeDownloadProgress = "download-progress"
	TypeDownloadComplete = "download-complete"
	TypeDownloadFailed   = "download-failed"
)

const (
	DefaultRingSize = 200
	subscriberQueue = 64
)

type Event struct {
	Type    string         `json:"type"`
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Bus keeps the most recent log lines and fans events out to subscribers.
// Publishing never blocks: a subscriber that falls behind misses events.
type Bus struct {
	mu    sync.Mutex
	subs  map[chan Event]struct{}
	lines []string
	size  int
}

func NewBus(size int) *Bus {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Bus{
		subs:  make(map[chan Event]struct{}),
		lines: make([]string, 0, size),
		size:  size,
	}
}

// Subscribe registers a listener. The returned func unsubscribes and closes
// the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberQueue)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Lines returns a copy of the ring, oldest first.
func (b *Bus) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

func (b *Bus) appendLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) == b.size {
		copy(b.lines, b.lines[1:])
		b.lines = b.lines[:b.size-1]
	}
	b.lines = append(b.lines, line)
}

// Hook returns a logrus hook feeding this bus.
func (b *Bus) Hook() logrus.Hook {
	return &hook{
		bus: b,
		formatter: &logrus.TextFormatter{
			DisableColors:   true,
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		},
	}
}

type hook struct {
	bus       *Bus
	formatter logrus.Formatter
}

func (h *hook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel, logrus.InfoLevel}
}

func (h *hook) Fire(entry *logrus.Entry) error {
	if raw, err := h.formatter.Format(entry); err == nil {
		h.bus.appendLine(strings.TrimRight(string(raw), "\n"))
	}

	typ := TypeLog
	data := make(map[string]any, len(entry.Data))
	for k, v := range entry.Data {
		if k == Field {
			if s, ok := v.(string); ok && s != "" {
				typ = s
			}
			continue
		}
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		data[k] = v
	}
	h.bus.Publish(Event{
		Type:    typ,
		Time:    entry.Time,
		Level:   entry.Level.String(),
		Message: entry.Message,
		Data:    data,
	})
	return nil
}
