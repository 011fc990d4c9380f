package rntbd

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// recordState is the one-way terminal-transition state of a RequestRecord
// (§3 RequestRecord, §4.6).
type recordState int32

const (
	recordPending recordState = iota
	recordCompleted
	recordFailed
	recordExpired
	recordCancelled
)

// RequestRecord is one in-flight request: its identity, a deadline timer,
// and the mutually exclusive terminal transitions complete/
// completeExceptionally/expire/cancel (§3, §4.6). A second call to any
// terminal transition is a no-op, observable via its bool return.
type RequestRecord struct {
	Args               RequestArgs
	TransportRequestID uint64
	Deadline           time.Time

	mu     sync.Mutex
	state  recordState
	result *StoreResponse
	err    error
	timer  clockwork.Timer
	hooks  []func()
}

func newRequestRecord(args RequestArgs, id uint64, deadline time.Time, clock clockwork.Clock, onExpire func()) *RequestRecord {
	r := &RequestRecord{
		Args:               args,
		TransportRequestID: id,
		Deadline:           deadline,
		state:              recordPending,
	}
	d := deadline.Sub(clock.Now())
	if d < 0 {
		d = 0
	}
	r.timer = clock.AfterFunc(d, onExpire)
	return r
}

// whenComplete registers fn to run exactly once, on whichever terminal
// transition fires first (§4.6 "allows the RequestManager to register a
// removal hook that runs on any terminal transition"). If the record is
// already terminal, fn runs immediately on the calling goroutine.
func (r *RequestRecord) whenComplete(fn func()) {
	r.mu.Lock()
	if r.state != recordPending {
		r.mu.Unlock()
		fn()
		return
	}
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

func (r *RequestRecord) terminal(state recordState, result *StoreResponse, err error) bool {
	r.mu.Lock()
	if r.state != recordPending {
		r.mu.Unlock()
		return false
	}
	r.state = state
	r.result = result
	r.err = err
	r.timer.Stop()
	hooks := r.hooks
	r.hooks = nil
	r.mu.Unlock()

	for _, h := range hooks {
		h()
	}
	return true
}

// complete transitions the record to Completed with resp.
func (r *RequestRecord) complete(resp *StoreResponse) bool {
	return r.terminal(recordCompleted, resp, nil)
}

// completeExceptionally transitions the record to Failed with err.
func (r *RequestRecord) completeExceptionally(err error) bool {
	return r.terminal(recordFailed, nil, err)
}

// expire transitions the record to Expired with ErrRequestTimeout.
func (r *RequestRecord) expire() bool {
	return r.terminal(recordExpired, nil, ErrRequestTimeout)
}

// cancel transitions the record to Cancelled with ErrRequestCancelled.
func (r *RequestRecord) cancel() bool {
	return r.terminal(recordCancelled, nil, ErrRequestCancelled)
}

// Result returns the terminal outcome: the response and error recorded by
// the first terminal transition, both nil while the record is pending.
func (r *RequestRecord) Result() (*StoreResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

// PendingTable is the map from transport_request_id to in-flight
// RequestRecord (§3). Its invariants — one outstanding timer per entry,
// atomic removal-plus-timer-cancellation on completion — hold as long as
// callers serialize access the way Connection does with its own
// pendingMu; PendingTable itself does no locking, mirroring the spec's
// "table mutation occurs only on the connection's serial execution
// context."
type PendingTable struct {
	records map[uint64]*RequestRecord
}

func newPendingTable() *PendingTable {
	return &PendingTable{records: make(map[uint64]*RequestRecord)}
}

// insert adds rec, keyed by its TransportRequestID. A collision is a
// programming error, not a runtime condition (§4.4 "Pending admission"),
// so it panics rather than returning an error.
func (t *PendingTable) insert(rec *RequestRecord) {
	if _, dup := t.records[rec.TransportRequestID]; dup {
		panic(fmt.Sprintf("rntbd: duplicate transport_request_id %d in pending table", rec.TransportRequestID))
	}
	t.records[rec.TransportRequestID] = rec
}

func (t *PendingTable) get(id uint64) (*RequestRecord, bool) {
	rec, ok := t.records[id]
	return rec, ok
}

func (t *PendingTable) remove(id uint64) {
	delete(t.records, id)
}

func (t *PendingTable) len() int { return len(t.records) }

// drain removes and returns every currently pending record, used by the
// fatal-transition path to fail all of them at once (§4.4 step 3).
func (t *PendingTable) drain() []*RequestRecord {
	out := make([]*RequestRecord, 0, len(t.records))
	for id, rec := range t.records {
		out = append(out, rec)
		delete(t.records, id)
	}
	return out
}
