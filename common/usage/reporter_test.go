// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package usage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"relayhub/platform/connectors/base"
	"relayhub/platform/shared/logger"
)

type memorySink struct {
	mu      sync.Mutex
	batches [][]Event
	err     error
	block   chan struct{}
}

func (s *memorySink) Send(ctx context.Context, events []Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, append([]Event(nil), events...))
	return nil
}

func (s *memorySink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []Event
	for _, b := range s.batches {
		all = append(all, b...)
	}
	return all
}

func quietLogger() *logger.Logger {
	core, _ := observer.New(zapcore.DebugLevel)
	return logger.NewWithCore("usage-test", core)
}

func TestReporterBatchesAndDrains(t *testing.T) {
	sink := &memorySink{}
	r := NewReporter(sink, ReporterOptions{BatchSize: 2, FlushInterval: time.Hour, Logger: quietLogger()})

	for i := 0; i < 5; i++ {
		r.Report(Event{Type: TypeConnectorCall, Connector: "notion"})
	}
	require.NoError(t, r.Close(context.Background()))

	events := sink.events()
	require.Len(t, events, 5)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())

	sink.mu.Lock()
	assert.Len(t, sink.batches[0], 2)
	sink.mu.Unlock()
	assert.Equal(t, int64(5), r.Stats().Sent)
}

func TestReporterFlushesOnInterval(t *testing.T) {
	sink := &memorySink{}
	r := NewReporter(sink, ReporterOptions{BatchSize: 100, FlushInterval: 10 * time.Millisecond, Logger: quietLogger()})
	defer func() { _ = r.Close(context.Background()) }()

	r.Report(Event{Type: TypeChainRun})
	assert.Eventually(t, func() bool { return len(sink.events()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestReporterDropsWhenFull(t *testing.T) {
	sink := &memorySink{block: make(chan struct{})}
	r := NewReporter(sink, ReporterOptions{QueueSize: 1, BatchSize: 1, FlushInterval: time.Hour, Logger: quietLogger()})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			r.Report(Event{Type: TypeLLMRequest})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Report blocked on a full queue")
	}
	assert.Greater(t, r.Stats().Dropped, int64(0))

	close(sink.block)
	require.NoError(t, r.Close(context.Background()))
}

func TestReporterAfterClose(t *testing.T) {
	r := NewReporter(&memorySink{}, ReporterOptions{Logger: quietLogger()})
	require.NoError(t, r.Close(context.Background()))
	require.NoError(t, r.Close(context.Background()))

	r.Report(Event{Type: TypeChainRun})
	assert.Equal(t, int64(1), r.Stats().Dropped)
}

func TestReporterCountsSinkFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := &memorySink{err: errors.New("endpoint down")}
	r := NewReporter(sink, ReporterOptions{Logger: logger.NewWithCore("usage-test", core)})

	r.Report(Event{Type: TypeChainRun})
	require.NoError(t, r.Close(context.Background()))

	assert.Equal(t, int64(1), r.Stats().Failed)
	assert.Equal(t, 1, logs.FilterMessage("Failed to deliver usage events").Len())
}

func TestReporterCloseHonoursContext(t *testing.T) {
	sink := &memorySink{block: make(chan struct{})}
	r := NewReporter(sink, ReporterOptions{BatchSize: 1, Logger: quietLogger()})
	r.Report(Event{Type: TypeChainRun})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Close(ctx), context.DeadlineExceeded)
	close(sink.block)
}

func TestWithDefaults(t *testing.T) {
	var got []Event
	rec := WithDefaults(RecorderFunc(func(e Event) { got = append(got, e) }), "tenant-1", "req-1")
	rec.Report(Event{Type: TypeConnectorCall})
	rec.Report(Event{Type: TypeConnectorCall, TenantID: "other"})

	require.Len(t, got, 2)
	assert.Equal(t, "tenant-1", got[0].TenantID)
	assert.Equal(t, "req-1", got[0].RequestID)
	assert.Equal(t, "other", got[1].TenantID)
}

func TestHTTPSink(t *testing.T) {
	var received struct {
		Events []Event `json:"events"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer log-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL+"/v1/logs", "log-key", time.Second)
	err := sink.Send(context.Background(), []Event{{ID: "e1", Type: TypeLLMRequest, Model: "gpt-4o", CostMicros: 7500}})
	require.NoError(t, err)
	require.Len(t, received.Events, 1)
	assert.Equal(t, int64(7500), received.Events[0].CostMicros)
}

func TestHTTPSinkErrorIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid api key"))
	}))
	defer srv.Close()

	err := NewHTTPSink(srv.URL, "", time.Second).Send(context.Background(), []Event{{ID: "e1"}})
	require.Error(t, err)
	assert.True(t, base.IsStatus(err, http.StatusForbidden))
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestSQLSink(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO usage_events"))
	prep.ExpectExec().
		WithArgs("e1", TypeConnectorCall, ts, "t1", nil, "notion", "search", nil, nil,
			0, 0, 0, int64(0), int64(12), true, nil, `{"rows":3}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(
		"e2", TypeLLMRequest, ts, nil, nil, nil, nil, "openai", "gpt-4o",
		10, 5, 15, int64(75), int64(0), false, "timeout", nil,
	).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = NewSQLSink(db).Send(context.Background(), []Event{
		{ID: "e1", Type: TypeConnectorCall, Timestamp: ts, TenantID: "t1", Connector: "notion", Action: "search",
			LatencyMs: 12, Success: true, Fields: map[string]interface{}{"rows": 3}},
		{ID: "e2", Type: TypeLLMRequest, Timestamp: ts, Provider: "openai", Model: "gpt-4o",
			PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, CostMicros: 75, Error: "timeout"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSinkRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO usage_events").ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = NewSQLSink(db).Send(context.Background(), []Event{{ID: "e1", Type: TypeChainRun, Timestamp: time.Now()}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := LogSink{Logger: logger.NewWithCore("usage-test", core)}
	require.NoError(t, sink.Send(context.Background(), []Event{{ID: "e1"}, {ID: "e2"}}))
	assert.Equal(t, 2, logs.FilterMessage("usage event").Len())
}
