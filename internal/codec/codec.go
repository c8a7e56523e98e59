// Package codec defines the external contract for the codec workers
// (spec.md §4.3, §6.1): isolated encode/decode executors addressed via
// request-id-tagged messages, plus the FIFO ordering discipline the
// encoder and decoder pipelines use to police responses against it. The
// Opus codec and resampler implementations themselves are out of scope
// (spec.md §1) — EncoderWorker and DecoderWorker are satisfied by a real
// codec binding in production and by a deterministic fake in tests.
package codec

import (
	"context"
	"sync"

	"github.com/tphakala/bucketbrigade/internal/errors"
)

// ComponentCodec is the errors.Component tag for this package.
const ComponentCodec = "codec"

// RequestID tags one codec RPC; responses must arrive in the order
// requests were sent, keyed by this ID (spec.md §4.3, §5).
type RequestID uint32

// SetupConfig is the setup payload shared by encoder and decoder workers
// (spec.md §6.1); NumChannels is always 1 per spec.md Non-goals.
type SetupConfig struct {
	SamplingRate    int
	NumChannels     int
	FrameDurationMS int // only meaningful for the encoder
}

// SetupResult is the setup response (spec.md §6.1). Resampling reports
// whether the worker is resampling internally, which feeds
// encoding_latency_ms (spec.md §4.6).
type SetupResult struct {
	Status     int32
	Resampling bool
}

// Packet is one compressed Opus packet as returned by the encoder worker.
type Packet struct {
	Data []byte
}

// EncodeResult is the encoder worker's response shape (spec.md §4.3, §6.1).
type EncodeResult struct {
	RequestID       RequestID
	Status          int32
	Packets         []Packet
	SamplesEncoded  int64
	BufferedSamples int64
}

// DecodeResult is the decoder worker's response shape (spec.md §4.3, §6.1).
type DecodeResult struct {
	RequestID RequestID
	Status    int32
	Samples   []float32
}

// Exception represents a worker-raised fatal exception (spec.md §4.3,
// §7 CodecException), propagated without interpretation.
type Exception struct {
	Payload any
}

func (e *Exception) Error() string {
	return "codec exception"
}

// EncoderWorker is the contract an encoder codec worker satisfies.
type EncoderWorker interface {
	Setup(ctx context.Context, cfg SetupConfig) (SetupResult, error)
	Encode(ctx context.Context, id RequestID, samples []float32) (EncodeResult, error)
	Reset(ctx context.Context) error
}

// DecoderWorker is the contract a decoder codec worker satisfies.
type DecoderWorker interface {
	Setup(ctx context.Context, cfg SetupConfig) (SetupResult, error)
	Decode(ctx context.Context, id RequestID, data []byte) (DecodeResult, error)
	Reset(ctx context.Context) error
}

// PendingQueue enforces the single-executor FIFO ordering guarantee of
// spec.md §4.3/§5: responses must be popped from the front of the queue in
// the order requests were sent. A response whose request_id does not
// match the front is a protocol violation (ResponseOutOfOrder).
type PendingQueue struct {
	mu  sync.Mutex
	ids []RequestID
}

// Push records a dispatched request.
func (q *PendingQueue) Push(id RequestID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
}

// Pop checks that id matches the front of the queue and removes it.
// Returns ResponseOutOfOrder if id does not match, or if the queue is empty.
func (q *PendingQueue) Pop(id RequestID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ids) == 0 {
		return errors.New(nil).
			Component(ComponentCodec).
			Category(errors.CategoryCodecRPC).
			Context("error", "response received with no pending request").
			Context("request_id", uint32(id)).
			Build()
	}
	front := q.ids[0]
	if front != id {
		return errors.New(nil).
			Component(ComponentCodec).
			Category(errors.CategoryCodecRPC).
			Context("error", "response out of order").
			Context("expected", uint32(front)).
			Context("got", uint32(id)).
			Build()
	}
	q.ids = q.ids[1:]
	return nil
}

// Len reports how many requests are currently in flight.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// Reset clears all pending requests, used when a session epoch advances
// and in-flight RPCs from the prior epoch must be discarded (spec.md §5,
// §9 "Epoch handling").
func (q *PendingQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = nil
}

// IDGenerator hands out monotonically increasing RequestIDs for one pipeline.
type IDGenerator struct {
	mu   sync.Mutex
	next RequestID
}

// Next returns the next RequestID, starting at 0.
func (g *IDGenerator) Next() RequestID {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next
	g.next++
	return id
}
