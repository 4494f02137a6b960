/*
Package anchor mirrors committed ledger records to an external proof system.

PURPOSE:
  The marketplace optionally notifies an immutable-ledger mirror (a chain
  gateway, a notarization service) of every committed purchase and
  retirement so proofs can be anchored independently.

BEST-EFFORT CONTRACT:
  Anchoring must never block or roll back a core commit. Records are
  handed to a bounded queue; a background worker delivers them with
  bounded retries and drops on overflow. A dropped notification is a
  warning in the logs, never an error to the committing request.

SINK:
  The Sink interface abstracts the actual delivery. HTTPSink POSTs JSON
  to a configured endpoint; tests use an in-process fake.
*/
package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/verdant/carbon-ledger/ledger"
)

// Sink delivers one anchoring event. Implementations may be called
// concurrently with themselves.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
}

// Event is the wire payload for one anchored record.
type Event struct {
	Kind      string    `json:"kind"` // "transaction" or "retirement"
	RecordID  string    `json:"recordId"`
	BatchID   string    `json:"batchId"`
	BuyerID   string    `json:"buyerId"`
	Amount    string    `json:"amount"`
	EcoAction string    `json:"ecoAction,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// =============================================================================
// NOTIFIER - implements ledger.Anchor
// =============================================================================

// Notifier queues committed records and delivers them out-of-band.
type Notifier struct {
	sink Sink
	log  *logrus.Logger

	queue    chan Event
	retries  int
	interval time.Duration

	stop     chan struct{}
	stopped  sync.Once
	workerWG sync.WaitGroup
}

// NewNotifier starts a notifier over the given sink. Call Close to drain
// and stop the worker.
func NewNotifier(sink Sink, log *logrus.Logger) *Notifier {
	n := &Notifier{
		sink:     sink,
		log:      log,
		queue:    make(chan Event, 256),
		retries:  3,
		interval: 2 * time.Second,
		stop:     make(chan struct{}),
	}
	n.workerWG.Add(1)
	go n.run()
	return n
}

// AnchorTransaction queues a committed purchase. Never blocks.
func (n *Notifier) AnchorTransaction(rec *ledger.TransactionRecord) {
	n.enqueue(Event{
		Kind:      "transaction",
		RecordID:  string(rec.ID),
		BatchID:   string(rec.BatchID),
		BuyerID:   string(rec.BuyerID),
		Amount:    rec.Amount.String(),
		CreatedAt: rec.CreatedAt,
	})
}

// AnchorRetirement queues a committed retirement. Never blocks.
func (n *Notifier) AnchorRetirement(rec *ledger.RetirementRecord) {
	n.enqueue(Event{
		Kind:      "retirement",
		RecordID:  string(rec.ID),
		BatchID:   string(rec.BatchID),
		BuyerID:   string(rec.BuyerID),
		Amount:    rec.Amount.String(),
		EcoAction: rec.EcoAction,
		CreatedAt: rec.CreatedAt,
	})
}

func (n *Notifier) enqueue(event Event) {
	select {
	case n.queue <- event:
	default:
		// Queue full. The core commit already happened; dropping the
		// notification is the contract.
		n.log.WithFields(logrus.Fields{
			"kind":      event.Kind,
			"record_id": event.RecordID,
		}).Warn("anchor queue full, notification dropped")
	}
}

// Close stops the worker after the queue drains.
func (n *Notifier) Close() {
	n.stopped.Do(func() {
		close(n.stop)
		n.workerWG.Wait()
	})
}

func (n *Notifier) run() {
	defer n.workerWG.Done()
	for {
		select {
		case event := <-n.queue:
			n.deliver(event)
		case <-n.stop:
			// Drain what is already queued, then exit.
			for {
				select {
				case event := <-n.queue:
					n.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) deliver(event Event) {
	for attempt := 0; attempt <= n.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(n.interval)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := n.sink.Deliver(ctx, event)
		cancel()
		if err == nil {
			return
		}
		n.log.WithFields(logrus.Fields{
			"kind":      event.Kind,
			"record_id": event.RecordID,
			"attempt":   attempt + 1,
		}).WithError(err).Warn("anchor delivery failed")
	}
	n.log.WithFields(logrus.Fields{
		"kind":      event.Kind,
		"record_id": event.RecordID,
	}).Error("anchor delivery abandoned")
}

// =============================================================================
// HTTP SINK
// =============================================================================

// HTTPSink POSTs events as JSON to an external anchoring endpoint.
type HTTPSink struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPSink(endpoint string) *HTTPSink {
	return &HTTPSink{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *HTTPSink) Deliver(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode anchor event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("anchor endpoint returned %s", resp.Status)
	}
	return nil
}
