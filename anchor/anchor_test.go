package anchor_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/verdant/carbon-ledger/anchor"
	"github.com/verdant/carbon-ledger/ledger"
)

// fakeSink records delivered events.
type fakeSink struct {
	mu     sync.Mutex
	events []anchor.Event
}

func (s *fakeSink) Deliver(_ context.Context, event anchor.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *fakeSink) delivered() []anchor.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]anchor.Event{}, s.events...)
}

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestNotifier_DeliversBothKinds(t *testing.T) {
	sink := &fakeSink{}
	n := anchor.NewNotifier(sink, quietLog())

	now := time.Now().UTC()
	n.AnchorTransaction(&ledger.TransactionRecord{
		ID: "t-1", BatchID: "b-1", BuyerID: "company-a",
		Amount: ledger.NewAmount(60), CreatedAt: now,
	})
	n.AnchorRetirement(&ledger.RetirementRecord{
		ID: "r-1", BatchID: "b-1", BuyerID: "company-a",
		Amount: ledger.NewAmount(20), EcoAction: "reforestation", CreatedAt: now,
	})

	// Close drains the queue before stopping the worker.
	n.Close()

	events := sink.delivered()
	require.Len(t, events, 2)

	assert.Equal(t, "transaction", events[0].Kind)
	assert.Equal(t, "t-1", events[0].RecordID)
	assert.Equal(t, "60", events[0].Amount)
	assert.Empty(t, events[0].EcoAction)

	assert.Equal(t, "retirement", events[1].Kind)
	assert.Equal(t, "reforestation", events[1].EcoAction)
}

func TestNotifier_CloseIsIdempotent(t *testing.T) {
	n := anchor.NewNotifier(&fakeSink{}, quietLog())
	n.Close()
	n.Close()
}

func TestHTTPSink_PostsJSON(t *testing.T) {
	var got anchor.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := anchor.NewHTTPSink(srv.URL)
	err := sink.Deliver(context.Background(), anchor.Event{
		Kind: "transaction", RecordID: "t-1", BatchID: "b-1",
		BuyerID: "company-a", Amount: "60", CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, "t-1", got.RecordID)
	assert.Equal(t, "b-1", got.BatchID)
}

func TestHTTPSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := anchor.NewHTTPSink(srv.URL)
	err := sink.Deliver(context.Background(), anchor.Event{Kind: "transaction", RecordID: "t-1"})
	assert.Error(t, err)
}
