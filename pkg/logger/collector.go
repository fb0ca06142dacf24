package logger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// Publisher ships a digest payload to a topic.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

type DigestConfig struct {
	Interval  time.Duration // flush period
	Threshold int           // distinct entries that force a flush
	Topic     string
	Publisher Publisher
}

// DigestEntry is one distinct warn/error line with its repeat count.
type DigestEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// DigestCollector folds repeated log lines together and periodically
// publishes them as one message.
type DigestCollector struct {
	cfg     *DigestConfig
	mu      sync.Mutex
	entries map[string]*DigestEntry

	stop     chan struct{}
	loopDone sync.WaitGroup
	inflight sync.WaitGroup
	once     sync.Once
}

func NewDigestCollector(cfg *DigestConfig) *DigestCollector {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 100
	}
	d := &DigestCollector{
		cfg:     cfg,
		entries: make(map[string]*DigestEntry),
		stop:    make(chan struct{}),
	}
	d.loopDone.Add(1)
	go d.loop()
	return d
}

func (d *DigestCollector) Add(level, msg string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := digestKey(level, msg, fields, caller)

	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		d.entries[key] = &DigestEntry{
			Level: level, Message: msg, Fields: fields, Caller: caller,
			Count: 1, FirstSeen: now, LastSeen: now,
		}
	}
	if len(d.entries) >= d.cfg.Threshold {
		d.flushLocked()
	}
}

// volatileFields differ on every occurrence of an otherwise identical line.
var volatileFields = map[string]struct{}{
	"duration_ms": {},
	"attempt":     {},
}

// digestKey hashes everything but timestamps and volatile fields; map keys
// marshal sorted.
func digestKey(level, msg string, fields map[string]interface{}, caller string) string {
	stable := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if _, ok := volatileFields[k]; !ok {
			stable[k] = v
		}
	}
	b, _ := json.Marshal([]interface{}{level, msg, stable, caller})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (d *DigestCollector) loop() {
	defer d.loopDone.Done()
	t := time.NewTicker(d.cfg.Interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			d.mu.Lock()
			d.flushLocked()
			d.mu.Unlock()
		case <-d.stop:
			d.mu.Lock()
			d.flushLocked()
			d.mu.Unlock()
			return
		}
	}
}

func (d *DigestCollector) flushLocked() {
	if len(d.entries) == 0 {
		return
	}
	batch := make([]DigestEntry, 0, len(d.entries))
	for _, e := range d.entries {
		batch = append(batch, *e)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].FirstSeen.Before(batch[j].FirstSeen) })
	d.entries = make(map[string]*DigestEntry)

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.cfg.Publisher.PublishMessage(ctx, d.cfg.Topic, batch); err != nil {
			// the logger itself cannot be used here without recursing
			fmt.Fprintf(os.Stderr, "log digest publish failed: %v\n", err)
		}
	}()
}

// Close flushes pending entries and waits for in-flight publishes.
func (d *DigestCollector) Close() {
	d.once.Do(func() {
		close(d.stop)
		d.loopDone.Wait()
		d.inflight.Wait()
	})
}
