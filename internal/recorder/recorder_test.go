package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bacoco/DevFlow-sub010/internal/connection"
	"github.com/bacoco/DevFlow-sub010/internal/events"
)

// fakeDB records queued inserts. Ids already seen report zero rows affected.
type fakeDB struct {
	mu      sync.Mutex
	seen    map[string]bool
	batches int
	rows    [][]any
	err     error
}

func newFakeDB() *fakeDB {
	return &fakeDB{seen: make(map[string]bool)}
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batches++
	res := &fakeResults{err: f.err}
	for _, q := range b.QueuedQueries {
		f.rows = append(f.rows, q.Arguments)
		id := q.Arguments[0].(interface{ String() string }).String()
		if f.seen[id] {
			res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 0"))
			continue
		}
		f.seen[id] = true
		res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 1"))
	}
	return res
}

func (f *fakeDB) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeResults struct {
	tags []pgconn.CommandTag
	err  error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	if len(r.tags) == 0 {
		return pgconn.CommandTag{}, errors.New("no more results")
	}
	tag := r.tags[0]
	r.tags = r.tags[1:]
	return tag, nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func event(topic, payload string, at time.Time) connection.SubscriptionData {
	return connection.SubscriptionData{Topic: topic, Payload: json.RawMessage(payload), ReceivedAt: at}
}

func TestTransform(t *testing.T) {
	at := time.Date(2025, 1, 15, 12, 0, 0, 0, time.FixedZone("X", 3600))

	row := transform(event("task_updated", `{"taskId":"t1"}`, at))

	if row.Topic != "task_updated" {
		t.Errorf("Topic = %s, want task_updated", row.Topic)
	}
	if string(row.Payload) != `{"taskId":"t1"}` {
		t.Errorf("Payload = %s", row.Payload)
	}
	if !row.ReceivedAt.Equal(at) || row.ReceivedAt.Location() != time.UTC {
		t.Errorf("ReceivedAt = %v, want %v in UTC", row.ReceivedAt, at)
	}

	again := transform(event("task_updated", `{"taskId":"t1"}`, at))
	if again.ID != row.ID {
		t.Error("same event produced different ids")
	}
	other := transform(event("task_updated", `{"taskId":"t2"}`, at))
	if other.ID == row.ID {
		t.Error("different payloads produced the same id")
	}
}

func TestTransform_InvalidPayload(t *testing.T) {
	for _, payload := range []string{"", "{oops"} {
		row := transform(event("x", payload, time.Unix(0, 0)))
		if string(row.Payload) != "null" {
			t.Errorf("transform(%q).Payload = %s, want null", payload, row.Payload)
		}
	}
}

func TestRecorder_BatchSizeFlush(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()
	db := newFakeDB()

	r := New(Config{BatchSize: 3, FlushInterval: time.Hour}, bus, db, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		bus.Emit(event("metric_updated", `{"value":1}`, at.Add(time.Duration(i)*time.Second)))
	}

	deadline := time.Now().Add(2 * time.Second)
	for db.rowCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := db.rowCount(); got != 3 {
		t.Fatalf("rows written = %d, want 3", got)
	}

	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	stats := r.Stats()
	if stats.Received != 3 || stats.Inserts != 3 || stats.Flushes != 1 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestRecorder_StopFlushesRemainder(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()
	db := newFakeDB()

	r := New(Config{BatchSize: 100, FlushInterval: time.Hour}, bus, db, nil)
	r.Start(context.Background())

	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bus.Emit(event("a", `1`, at))
	bus.Emit(event("a", `1`, at)) // redelivery
	bus.Emit(event("b", `2`, at))
	bus.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	stats := r.Stats()
	if stats.Inserts != 2 || stats.Conflicts != 1 {
		t.Errorf("Stats = %+v, want 2 inserts and 1 conflict", stats)
	}

	bus.Emit(event("c", `3`, at))
	bus.Sync()
	if got := r.Stats().Received; got != 3 {
		t.Errorf("Received = %d after Stop, want 3", got)
	}
}

func TestRecorder_InsertError(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()
	db := newFakeDB()
	db.err = errors.New("connection refused")

	r := New(Config{BatchSize: 10, FlushInterval: time.Hour}, bus, db, nil)
	r.Start(context.Background())
	bus.Emit(event("a", `{}`, time.Now()))
	bus.Sync()
	r.Stop(context.Background())

	stats := r.Stats()
	if stats.Errors != 1 || stats.Inserts != 0 {
		t.Errorf("Stats = %+v, want one error", stats)
	}
}

func TestRecorder_StopWithoutStart(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()

	r := New(Config{}, bus, newFakeDB(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
