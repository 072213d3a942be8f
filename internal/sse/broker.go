// Package sse streams ledger changes to Server-Sent Events clients. Every
// finished ingest batch becomes one defect event per changed record, an
// ingest.completed or ingest.aborted event, and a coalesced document.updated.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/starford/a11yledger/internal/ingest"
)

// Event types.
const (
	TypeDefectInserted  = "defect.inserted"
	TypeDefectMerged    = "defect.merged"
	TypeIngestCompleted = "ingest.completed"
	TypeIngestAborted   = "ingest.aborted"
	TypeDocumentUpdated = "document.updated"
)

// HistorySize is the number of recent events kept for Last-Event-ID replay.
// It matches the per-client buffer so a replay never drops.
const HistorySize = 64

// HeartbeatInterval is how often ServeHTTP writes a keep-alive comment to
// idle clients.
var HeartbeatInterval = 25 * time.Second

// DefectEvent is the payload of defect.inserted and defect.merged.
type DefectEvent struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
}

// BatchEvent is the payload of ingest.completed and ingest.aborted.
type BatchEvent struct {
	RunID     string `json:"run_id"`
	Files     int    `json:"files"`
	Inserted  int    `json:"inserted"`
	Merged    int    `json:"merged"`
	Unchanged int    `json:"unchanged"`
	Conflicts int    `json:"conflicts"`
	Rejected  int    `json:"rejected"`
	Error     string `json:"error,omitempty"`
}

// DocumentEvent is the payload of document.updated. Changed counts the
// defects touched since the previous document.updated; RunID is the latest
// batch among them.
type DocumentEvent struct {
	RunID   string `json:"run_id"`
	Changed int    `json:"changed"`
}

type batchReq struct {
	sum *ingest.Summary
	err error
}

type subscribeReq struct {
	ch     chan []byte
	lastID uint64
}

type message struct {
	id  uint64
	raw []byte
}

// Broker fans batch results out to SSE clients.
//
// A single event loop goroutine owns the client set, the event sequence, the
// replay history and the pending document update; public methods talk to it
// over channels.
type Broker struct {
	documentMin time.Duration

	subscribeCh   chan subscribeReq
	unsubscribeCh chan chan []byte
	batchCh       chan batchReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits document.updated at most once per
// documentThrottle. Changes that arrive inside the window are folded into
// one trailing document.updated.
func NewBroker(documentThrottle time.Duration) *Broker {
	if documentThrottle <= 0 {
		documentThrottle = 2 * time.Second
	}

	b := &Broker{
		documentMin:   documentThrottle,
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan chan []byte),
		batchCh:       make(chan batchReq, 64),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	var (
		clients      = make(map[chan []byte]struct{})
		history      = make([]message, 0, HistorySize)
		seq          uint64
		lastDocument time.Time
		pending      DocumentEvent
		flush        *time.Timer
		flushC       <-chan time.Time
	)

	send := func(typ string, data any) {
		payload, err := json.Marshal(data)
		if err != nil {
			return
		}
		seq++
		raw := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, typ, payload))

		if len(history) == HistorySize {
			copy(history, history[1:])
			history = history[:len(history)-1]
		}
		history = append(history, message{id: seq, raw: raw})

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Slow client; it can catch up with Last-Event-ID.
			}
		}
	}

	emitDocument := func() {
		lastDocument = time.Now()
		send(TypeDocumentUpdated, pending)
		pending = DocumentEvent{}
	}

	for {
		select {
		case <-b.stopCh:
			if flush != nil {
				flush.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case req := <-b.subscribeCh:
			clients[req.ch] = struct{}{}
			if req.lastID == 0 {
				continue
			}
			for _, m := range history {
				if m.id <= req.lastID {
					continue
				}
				select {
				case req.ch <- m.raw:
				default:
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case req := <-b.batchCh:
			ev := batchEvent(req.sum)
			if req.err != nil || req.sum.Aborted {
				if req.err != nil {
					ev.Error = req.err.Error()
				}
				send(TypeIngestAborted, ev)
				continue
			}

			for _, c := range req.sum.Changes {
				var typ string
				switch c.Kind {
				case "inserted":
					typ = TypeDefectInserted
				case "merged":
					typ = TypeDefectMerged
				default:
					continue
				}
				send(typ, DefectEvent{ID: c.ID, Version: c.Version, RunID: req.sum.RunID})
				pending.Changed++
				pending.RunID = req.sum.RunID
			}
			send(TypeIngestCompleted, ev)

			if pending.Changed == 0 || flushC != nil {
				continue
			}
			if wait := b.documentMin - time.Since(lastDocument); wait > 0 {
				flush = time.NewTimer(wait)
				flushC = flush.C
				continue
			}
			emitDocument()

		case <-flushC:
			flush, flushC = nil, nil
			emitDocument()

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

func batchEvent(sum *ingest.Summary) BatchEvent {
	return BatchEvent{
		RunID:     sum.RunID,
		Files:     sum.Files,
		Inserted:  sum.Inserted,
		Merged:    sum.Merged,
		Unchanged: sum.Unchanged,
		Conflicts: sum.Conflicts,
		Rejected:  sum.Rejected,
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel. A non-zero lastID
// first replays the retained events that came after it.
func (b *Broker) Subscribe(lastID uint64) chan []byte {
	ch := make(chan []byte, HistorySize)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscribeReq{ch: ch, lastID: lastID}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// BatchFinished publishes the outcome of an ingest batch. Defect events are
// only sent for committed batches. It matches ingest.NotifyFunc.
func (b *Broker) BatchFinished(sum *ingest.Summary, err error) {
	if sum == nil || b.closed.Load() {
		return
	}
	select {
	case b.batchCh <- batchReq{sum: sum, err: err}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). Clients that
// reconnect with a Last-Event-ID header receive the events they missed while
// those are still retained.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastID, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(lastID)
	defer b.Unsubscribe(ch)

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
