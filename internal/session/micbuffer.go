package session

import (
	"encoding/binary"
	"math"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/bucketbrigade/internal/clock"
	"github.com/tphakala/bucketbrigade/internal/errors"
)

const bytesPerSample = 4 // float32

// micBuffer accumulates 128-sample worklet frames into the encoder's
// sample_batch_size batch (spec.md §4.7's mic_buf), backed by
// smallnest/ringbuffer for O(1) amortized writes instead of an ad hoc
// growing slice.
type micBuffer struct {
	ring    *ringbuffer.RingBuffer
	ref     clock.Reference
	start   int64
	started bool
}

// newMicBuffer constructs an empty buffer sized to hold capacitySamples
// samples. The reference is established on the first Append.
func newMicBuffer(capacitySamples int64) *micBuffer {
	return &micBuffer{ring: ringbuffer.New(int(capacitySamples) * bytesPerSample)}
}

// Append appends chunk's samples, contiguity-checking against any
// previously buffered data.
func (b *micBuffer) Append(chunk clock.AudioChunk) error {
	if !b.started {
		b.ref = chunk.Iv.Reference
		b.start = chunk.Iv.Start()
		b.started = true
	} else if !chunk.Iv.Reference.Equal(b.ref) {
		return errors.New(nil).
			Component(ComponentSession).
			Category(errors.CategoryClockReference).
			Context("error", "mic buffer reference mismatch").
			Build()
	} else if expected := b.start + int64(b.ring.Length()/bytesPerSample); chunk.Iv.Start() != expected {
		return errors.New(nil).
			Component(ComponentSession).
			Category(errors.CategoryContiguity).
			Context("error", "non-contiguous microphone input").
			Context("expected_start", expected).
			Context("got_start", chunk.Iv.Start()).
			Build()
	}

	buf := make([]byte, len(chunk.Data)*bytesPerSample)
	for i, sample := range chunk.Data {
		binary.LittleEndian.PutUint32(buf[i*bytesPerSample:], math.Float32bits(sample))
	}
	_, err := b.ring.Write(buf)
	if err != nil {
		return errors.New(err).
			Component(ComponentSession).
			Category(errors.CategoryGeneric).
			Context("error", "mic buffer write failed").
			Build()
	}
	return nil
}

// Len reports the number of buffered samples.
func (b *micBuffer) Len() int64 {
	return int64(b.ring.Length() / bytesPerSample)
}

// Drain removes exactly n buffered samples and returns them as one
// contiguous AudioChunk.
func (b *micBuffer) Drain(n int64) (clock.AudioChunk, error) {
	raw := make([]byte, n*bytesPerSample)
	read, err := b.ring.Read(raw)
	if err != nil || int64(read) != n*bytesPerSample {
		return clock.AudioChunk{}, errors.New(err).
			Component(ComponentSession).
			Category(errors.CategoryGeneric).
			Context("error", "mic buffer drain short read").
			Context("requested_samples", n).
			Context("read_bytes", read).
			Build()
	}

	samples := make([]float32, n)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*bytesPerSample:]))
	}

	iv := clock.Interval{Reference: b.ref, End: b.start + n, Length: n}
	out, err := clock.NewAudioChunk(iv, samples)
	if err != nil {
		return clock.AudioChunk{}, err
	}
	b.start += n
	return out, nil
}
