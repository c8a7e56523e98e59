// Package encoder implements the client-to-server encoding pipeline
// (spec.md §4.4): it accepts client-referenced chunks in arrival order and
// emits server-referenced chunks, bridging the two clock domains and
// driving one codec.EncoderWorker.
package encoder

import (
	"context"
	"log/slog"
	"time"

	"github.com/tphakala/bucketbrigade/internal/clock"
	"github.com/tphakala/bucketbrigade/internal/codec"
	"github.com/tphakala/bucketbrigade/internal/errors"
	"github.com/tphakala/bucketbrigade/internal/framing"
	"github.com/tphakala/bucketbrigade/internal/metrics"
)

// ComponentEncoder is the errors.Component tag for this package.
const ComponentEncoder = "encoder"

// DriftThresholdSamples is the default non-fatal drift-check threshold
// (spec.md §4.4, §6.6): a predicted-vs-actual client clock gap beyond this
// many samples is logged but never fails the chunk.
const DriftThresholdSamples = 5

// Config configures one pipeline instance (spec.md §4.4, §6.1). ClientRate
// is the source sampling rate; ServerRate is the canonical codec rate the
// worker operates at (typically 48000).
type Config struct {
	ClientRate      int
	ServerRate      int
	FrameDurationMS int
}

// remainder is the queued, signed leftover from the most recent placeholder
// frame-snap (spec.md §4.4 step 3, §9). It is intentionally NOT a
// clock.PlaceholderChunk: its length may be negative (borrowed time), which
// clock.Interval's invariant forbids. end is the client-clock position the
// remainder was produced at; the next chunk must start exactly there.
type remainder struct {
	end    int64
	length int64
}

// Pipeline is the stateful encoder described by spec.md §4.4.
type Pipeline struct {
	worker  codec.EncoderWorker
	pending codec.PendingQueue
	ids     codec.IDGenerator
	logger  *slog.Logger
	metrics *metrics.Collector

	cfg        Config
	opusFrame  int64 // opus_samples: frame duration in server-rate samples
	resampling bool

	clientClock *int64
	serverClock *int64
	pendingRem  *remainder

	// placeholderEnd is a bookkeeping cursor for server-referenced
	// PlaceholderChunk intervals emitted before the clocks are established;
	// it keeps consecutive emitted placeholders mutually contiguous.
	placeholderEnd int64
}

// New constructs a Pipeline. logger and collector may be the zero value /
// nil; both are nil-safe.
func New(worker codec.EncoderWorker, logger *slog.Logger, collector *metrics.Collector) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{worker: worker, logger: logger, metrics: collector}
}

// Setup establishes the pipeline's clock rates and readies the codec
// worker (spec.md §4.4, §6.1).
func (p *Pipeline) Setup(ctx context.Context, cfg Config) error {
	result, err := p.worker.Setup(ctx, codec.SetupConfig{
		SamplingRate:    cfg.ClientRate,
		NumChannels:     1,
		FrameDurationMS: cfg.FrameDurationMS,
	})
	if err != nil {
		p.metrics.RecordCodecError("encoder", "setup")
		return errors.New(err).
			Component(ComponentEncoder).
			Category(errors.CategorySetup).
			Context("error", "encoder worker setup failed").
			Build()
	}

	p.cfg = cfg
	p.resampling = result.Resampling
	p.opusFrame = int64(cfg.FrameDurationMS) * int64(cfg.ServerRate) / 1000
	p.clientClock = nil
	p.serverClock = nil
	p.pendingRem = nil
	p.placeholderEnd = 0
	p.pending.Reset()
	return nil
}

// Resampling reports whether the underlying worker is resampling
// client-rate audio to the server rate (feeds encoding_latency_ms,
// spec.md §4.6).
func (p *Pipeline) Resampling() bool { return p.resampling }

// Reset clears all pipeline state without re-running worker setup
// (spec.md §4.4, used on session reload_settings).
func (p *Pipeline) Reset(ctx context.Context) error {
	if err := p.worker.Reset(ctx); err != nil {
		return errors.New(err).
			Component(ComponentEncoder).
			Category(errors.CategoryCodecRPC).
			Context("error", "encoder worker reset failed").
			Build()
	}
	p.clientClock = nil
	p.serverClock = nil
	p.pendingRem = nil
	p.placeholderEnd = 0
	p.pending.Reset()
	return nil
}

// EncodeChunk processes one client-referenced chunk, returning the
// server-referenced chunk it produces (spec.md §4.4).
func (p *Pipeline) EncodeChunk(ctx context.Context, chunk clock.Chunk) (clock.Chunk, error) {
	if err := clock.CheckReference(chunk, clock.ClientRef(p.cfg.ClientRate)); err != nil {
		return nil, err
	}

	if p.pendingRem != nil && chunk.Interval().Start() != p.pendingRem.end {
		return nil, errors.New(nil).
			Component(ComponentEncoder).
			Category(errors.CategoryContiguity).
			Context("error", "chunk does not continue from queued remainder").
			Context("expected_start", p.pendingRem.end).
			Context("got_start", chunk.Interval().Start()).
			Build()
	}

	switch c := chunk.(type) {
	case clock.PlaceholderChunk:
		return p.encodePlaceholder(c)
	case clock.AudioChunk:
		return p.encodeAudio(ctx, c)
	default:
		return nil, errors.New(nil).
			Component(ComponentEncoder).
			Category(errors.CategoryValidation).
			Context("error", "unsupported chunk type presented to encoder").
			Build()
	}
}

func (p *Pipeline) encodePlaceholder(c clock.PlaceholderChunk) (clock.Chunk, error) {
	if p.clientClock != nil {
		return nil, errors.New(nil).
			Component(ComponentEncoder).
			Category(errors.CategoryState).
			Context("error", "placeholder arrived after clocks were established").
			Build()
	}

	combinedLength := c.Iv.Length
	combinedEnd := c.Iv.End
	if p.pendingRem != nil {
		combinedLength += p.pendingRem.length
		p.pendingRem = nil
	}

	resultLength := clock.Round(combinedLength, p.cfg.ServerRate, p.cfg.ClientRate)
	sendLength := roundToNearestMultiple(resultLength, p.opusFrame)
	leftover := clock.Round(resultLength-sendLength, p.cfg.ClientRate, p.cfg.ServerRate)
	if leftover != 0 {
		p.pendingRem = &remainder{end: combinedEnd, length: leftover}
	}

	p.placeholderEnd += sendLength
	if p.metrics != nil {
		p.metrics.RecordPlaceholderSamples("encoder", sendLength)
	}
	out := clock.NewPlaceholderChunk(clock.ServerRef(p.cfg.ServerRate), p.placeholderEnd, sendLength)
	p.metrics.RecordEncoded("placeholder")
	return out, nil
}

func (p *Pipeline) encodeAudio(ctx context.Context, c clock.AudioChunk) (clock.Chunk, error) {
	samples := c.Data

	if p.clientClock != nil {
		// Once real audio is flowing, per-chunk contiguity is governed by
		// clientClock/serverClock directly; a queued remainder has already
		// served its purpose as a contiguity anchor (spec.md §9).
		p.pendingRem = nil
		if c.Iv.Start() != *p.clientClock {
			return nil, errors.New(nil).
				Component(ComponentEncoder).
				Category(errors.CategoryContiguity).
				Context("error", "non-contiguous audio input").
				Context("expected_start", *p.clientClock).
				Context("got_start", c.Iv.Start()).
				Build()
		}
	} else {
		if rem := p.pendingRem; rem != nil {
			p.pendingRem = nil
			switch {
			case rem.length > 0:
				// The placeholder path still owes this many samples of
				// silence before real audio begins; prepend them by
				// concatenation (spec.md §4.4 step 2) so the emitted
				// server audio accounts for the full input duration.
				samples = append(make([]float32, rem.length), samples...)
			case rem.length < 0:
				// The placeholder path already emitted this many samples
				// ahead of the input (borrowed time); that span is already
				// committed to silence on the server, so the matching
				// prefix of real audio is dropped rather than double-counted.
				borrow := -rem.length
				if borrow > int64(len(samples)) {
					borrow = int64(len(samples))
				}
				samples = samples[borrow:]
			}
		}

		start := c.Iv.Start()
		p.clientClock = &start
		sc := p.placeholderEnd
		if sc == 0 {
			sc = clock.Round(start, p.cfg.ServerRate, p.cfg.ClientRate)
		}
		p.serverClock = &sc
		p.placeholderEnd = sc
	}

	id := p.ids.Next()
	p.pending.Push(id)
	rpcStart := time.Now()
	result, err := p.worker.Encode(ctx, id, samples)
	p.metrics.ObserveRPCDuration("encoder", time.Since(rpcStart).Seconds())
	if err != nil {
		p.metrics.RecordCodecError("encoder", "encode")
		return nil, errors.New(err).
			Component(ComponentEncoder).
			Category(errors.CategoryCodecRPC).
			Context("error", "encoder worker RPC failed").
			Build()
	}
	if popErr := p.pending.Pop(result.RequestID); popErr != nil {
		return nil, popErr
	}

	*p.clientClock = c.Iv.End()
	*p.serverClock += result.SamplesEncoded

	hypotheticalClient := clock.Round(*p.serverClock+result.BufferedSamples, p.cfg.ClientRate, p.cfg.ServerRate)
	if drift := hypotheticalClient - *p.clientClock; drift > DriftThresholdSamples || drift < -DriftThresholdSamples {
		p.metrics.RecordDriftWarning()
		p.logger.Warn("encoder clock drift exceeds threshold",
			"drift_samples", drift,
			"client_clock", *p.clientClock,
			"predicted_client_clock", hypotheticalClient)
	}

	packets := make([][]byte, 0, len(result.Packets))
	for _, pk := range result.Packets {
		packets = append(packets, pk.Data)
	}
	packed := framing.PackMulti(packets)

	p.metrics.SetClocks("encoder", *p.clientClock, *p.serverClock)
	p.metrics.RecordEncoded("audio")

	out, err := clock.NewCompressedAudioChunk(clock.Interval{
		Reference: clock.ServerRef(p.cfg.ServerRate),
		End:       *p.serverClock,
		Length:    result.SamplesEncoded,
	}, packed)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// roundToNearestMultiple rounds n to the nearest multiple of step using
// round-half-away-from-zero (a negative n gives a zero or negative
// multiple), matching spec.md §4.4's
// send_length = round(result_length / opus_samples) * opus_samples.
func roundToNearestMultiple(n, step int64) int64 {
	if step == 0 {
		return 0
	}
	return clock.Round(n, 1, int(step)) * step
}
