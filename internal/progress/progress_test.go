package progress

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memorySink struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (s *memorySink) Report(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func (s *memorySink) all() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

var fixed = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestPercentage(t *testing.T) {
	tests := []struct {
		completed, total, want int
	}{
		{0, 4, 0},
		{1, 4, 25},
		{1, 3, 33},
		{2, 3, 67},
		{3, 3, 100},
		{5, 3, 100},
		{1, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Percentage(tt.completed, tt.total), "%d/%d", tt.completed, tt.total)
	}
}

func TestReporter_PublishesOnChangeOnly(t *testing.T) {
	sink := &memorySink{}
	r := NewReporter(sink, "acid-base-titration", "sess-1", WithClock(func() time.Time { return fixed }))
	r.Prime(Snapshot{TotalSteps: 4})

	_, sent := r.Update(context.Background(), Snapshot{TotalSteps: 4})
	assert.False(t, sent, "initial state is not a change")

	rec, sent := r.Update(context.Background(), Snapshot{CompletedIDs: []string{"setup"}, TotalSteps: 4, ActiveIndex: 1})
	require.True(t, sent)
	assert.Equal(t, Record{
		SessionID:          "sess-1",
		ExperimentID:       "acid-base-titration",
		CurrentStep:        1,
		ProgressPercentage: 25,
		ReportedAt:         fixed,
	}, rec)

	_, sent = r.Update(context.Background(), Snapshot{CompletedIDs: []string{"setup"}, TotalSteps: 4, ActiveIndex: 1})
	assert.False(t, sent)

	_, sent = r.Update(context.Background(), Snapshot{TotalSteps: 4})
	assert.True(t, sent, "undo is a change")

	assert.Len(t, sink.all(), 2)
}

func TestReporter_Completed(t *testing.T) {
	r := NewReporter(nil, "x", "s")
	rec := r.Derive(Snapshot{CompletedIDs: []string{"a", "b"}, TotalSteps: 2, ActiveIndex: 1})
	assert.True(t, rec.Completed)
	assert.Equal(t, 100, rec.ProgressPercentage)
}

func TestReporter_SinkFailureIsSwallowed(t *testing.T) {
	sink := &memorySink{err: errors.New("endpoint down")}
	r := NewReporter(sink, "x", "s")

	rec, sent := r.Update(context.Background(), Snapshot{CompletedIDs: []string{"a"}, TotalSteps: 2})

	assert.True(t, sent)
	assert.Equal(t, 50, rec.ProgressPercentage)
	assert.Equal(t, rec, r.Last())
}

func TestMultiSink(t *testing.T) {
	ok := &memorySink{}
	bad := &memorySink{err: errors.New("boom")}

	err := MultiSink{ok, bad}.Report(context.Background(), Record{ExperimentID: "x"})

	assert.EqualError(t, err, "boom")
	assert.Len(t, ok.all(), 1)
	assert.Len(t, bad.all(), 1)
}

func TestHTTPSink(t *testing.T) {
	var got Record
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL+"/progress", time.Second)
	sink.Client = srv.Client()
	sink.Token = "secret"
	rec := Record{SessionID: "s", ExperimentID: "x", CurrentStep: 2, ProgressPercentage: 50, ReportedAt: fixed}

	require.NoError(t, sink.Report(context.Background(), rec))
	assert.Equal(t, rec, got)
	assert.Equal(t, "Bearer secret", auth)
}

func TestHTTPSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL, time.Second)
	sink.Client = srv.Client()
	err := sink.Report(context.Background(), Record{})
	assert.ErrorContains(t, err, "500")
}

func TestAsyncSink_DeliversAndDrains(t *testing.T) {
	sink := &memorySink{}
	a := NewAsyncSink(sink, 8, time.Second, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Report(context.Background(), Record{CurrentStep: i}))
	}
	require.NoError(t, a.Close())

	recs := sink.all()
	require.Len(t, recs, 5)
	for i, rec := range recs {
		assert.Equal(t, i, rec.CurrentStep)
	}
	assert.Equal(t, int64(5), a.Sent())
	assert.ErrorIs(t, a.Report(context.Background(), Record{}), ErrSinkClosed)
	assert.NoError(t, a.Close(), "second close is a no-op")
}

func TestAsyncSink_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	blocking := SinkFunc(func(ctx context.Context, rec Record) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	a := NewAsyncSink(blocking, 1, 0, nil)

	require.NoError(t, a.Report(context.Background(), Record{CurrentStep: 1}))
	<-entered
	require.NoError(t, a.Report(context.Background(), Record{CurrentStep: 2}))
	err := a.Report(context.Background(), Record{CurrentStep: 3})

	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), a.Dropped())

	close(release)
	require.NoError(t, a.Close())
	assert.Equal(t, int64(2), a.Sent())
}
