package encoder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/tphakala/bucketbrigade/internal/clock"
	"github.com/tphakala/bucketbrigade/internal/codec"
	"github.com/tphakala/bucketbrigade/internal/errors"
)

func mustSetup(t *testing.T, p *Pipeline, cfg Config) {
	t.Helper()
	require.NoError(t, p.Setup(context.Background(), cfg))
}

// S1: straight-through 48kHz, no resampling.
func TestEncodeChunkStraightThrough48k(t *testing.T) {
	t.Parallel()
	worker := &codec.FakeEncoderWorker{
		EncodeFunc: func(samples []float32) codec.EncodeResult {
			return codec.EncodeResult{SamplesEncoded: 2880, Packets: []codec.Packet{{Data: []byte{1, 2, 3}}}}
		},
	}
	p := New(worker, nil, nil)
	mustSetup(t, p, Config{ClientRate: 48000, ServerRate: 48000, FrameDurationMS: 60})

	chunk, err := clock.NewAudioChunk(clock.Interval{Reference: clock.ClientRef(48000), End: 2880, Length: 2880}, make([]float32, 2880))
	require.NoError(t, err)

	out, err := p.EncodeChunk(context.Background(), chunk)
	require.NoError(t, err)
	compressed, ok := out.(clock.CompressedAudioChunk)
	require.True(t, ok)
	assert.Equal(t, int64(2880), compressed.Iv.End)
	assert.Equal(t, int64(2880), compressed.Iv.Length)
	assert.Equal(t, clock.ServerRef(48000), compressed.Iv.Reference)
}

// S2: resample 44100 -> 48000.
func TestEncodeChunkResample44100(t *testing.T) {
	t.Parallel()
	worker := &codec.FakeEncoderWorker{
		SetupResult: codec.SetupResult{Resampling: true},
		EncodeFunc: func(samples []float32) codec.EncodeResult {
			return codec.EncodeResult{SamplesEncoded: 2880}
		},
	}
	p := New(worker, nil, nil)
	mustSetup(t, p, Config{ClientRate: 44100, ServerRate: 48000, FrameDurationMS: 60})
	assert.True(t, p.Resampling())

	chunk, err := clock.NewAudioChunk(clock.Interval{Reference: clock.ClientRef(44100), End: 2646, Length: 2646}, make([]float32, 2646))
	require.NoError(t, err)

	out, err := p.EncodeChunk(context.Background(), chunk)
	require.NoError(t, err)
	compressed := out.(clock.CompressedAudioChunk)
	assert.Equal(t, int64(2880), compressed.Iv.End)
}

// S3: placeholder frame-snap produces a negative queued remainder.
func TestEncodePlaceholderNegativeRemainder(t *testing.T) {
	t.Parallel()
	worker := &codec.FakeEncoderWorker{}
	p := New(worker, nil, nil)
	mustSetup(t, p, Config{ClientRate: 48000, ServerRate: 48000, FrameDurationMS: 60})

	ph := clock.NewPlaceholderChunk(clock.ClientRef(48000), 2700, 2700)
	out, err := p.EncodeChunk(context.Background(), ph)
	require.NoError(t, err)

	placeholder, ok := out.(clock.PlaceholderChunk)
	require.True(t, ok)
	assert.Equal(t, int64(2880), placeholder.Iv.Length)
	require.NotNil(t, p.pendingRem)
	assert.Equal(t, int64(-180), p.pendingRem.length)
	assert.Equal(t, int64(2700), p.pendingRem.end)
}

// S3b: the negative remainder from a non-frame-aligned placeholder is
// applied to the follow-up audio chunk rather than dropped, keeping the
// server timeline contiguous with the already-emitted placeholder.
func TestEncodeAudioAfterNegativeRemainderBorrowsPrefix(t *testing.T) {
	t.Parallel()
	var encodedLen int
	worker := &codec.FakeEncoderWorker{
		EncodeFunc: func(samples []float32) codec.EncodeResult {
			encodedLen = len(samples)
			return codec.EncodeResult{SamplesEncoded: int64(len(samples))}
		},
	}
	p := New(worker, nil, nil)
	mustSetup(t, p, Config{ClientRate: 48000, ServerRate: 48000, FrameDurationMS: 60})

	ph := clock.NewPlaceholderChunk(clock.ClientRef(48000), 2700, 2700)
	phOut, err := p.EncodeChunk(context.Background(), ph)
	require.NoError(t, err)
	placeholder := phOut.(clock.PlaceholderChunk)
	require.Equal(t, int64(2880), placeholder.Iv.End)
	require.NotNil(t, p.pendingRem)
	require.Equal(t, int64(-180), p.pendingRem.length)

	audio, err := clock.NewAudioChunk(
		clock.Interval{Reference: clock.ClientRef(48000), End: 2700 + 2880, Length: 2880},
		make([]float32, 2880),
	)
	require.NoError(t, err)

	out, err := p.EncodeChunk(context.Background(), audio)
	require.NoError(t, err)
	assert.Nil(t, p.pendingRem)
	assert.Equal(t, 2700, encodedLen) // 180 borrowed samples dropped from the prefix

	compressed := out.(clock.CompressedAudioChunk)
	assert.Equal(t, placeholder.Iv.End, compressed.Iv.End-compressed.Iv.Length) // contiguous, no gap or overlap
}

// S4: clock starts from an exact-multiple placeholder, then audio follows
// with no queued remainder.
func TestEncodeClockStartsFromPlaceholderThenAudio(t *testing.T) {
	t.Parallel()
	worker := &codec.FakeEncoderWorker{
		EncodeFunc: func(samples []float32) codec.EncodeResult {
			return codec.EncodeResult{SamplesEncoded: int64(len(samples))}
		},
	}
	p := New(worker, nil, nil)
	mustSetup(t, p, Config{ClientRate: 48000, ServerRate: 48000, FrameDurationMS: 60})

	ph := clock.NewPlaceholderChunk(clock.ClientRef(48000), 2880, 2880)
	out, err := p.EncodeChunk(context.Background(), ph)
	require.NoError(t, err)
	assert.Nil(t, p.pendingRem)
	placeholder := out.(clock.PlaceholderChunk)
	assert.Equal(t, int64(2880), placeholder.Iv.End)

	audio, err := clock.NewAudioChunk(clock.Interval{Reference: clock.ClientRef(48000), End: 5760, Length: 2880}, make([]float32, 2880))
	require.NoError(t, err)

	out2, err := p.EncodeChunk(context.Background(), audio)
	require.NoError(t, err)
	compressed := out2.(clock.CompressedAudioChunk)
	assert.Equal(t, int64(5760), compressed.Iv.End)
}

// S5: a non-contiguous audio chunk is rejected once the clock is established.
func TestEncodeNonContiguousAudioRejected(t *testing.T) {
	t.Parallel()
	worker := &codec.FakeEncoderWorker{
		EncodeFunc: func(samples []float32) codec.EncodeResult {
			return codec.EncodeResult{SamplesEncoded: int64(len(samples))}
		},
	}
	p := New(worker, nil, nil)
	mustSetup(t, p, Config{ClientRate: 48000, ServerRate: 48000, FrameDurationMS: 60})

	first, err := clock.NewAudioChunk(clock.Interval{Reference: clock.ClientRef(48000), End: 2880, Length: 2880}, make([]float32, 2880))
	require.NoError(t, err)
	_, err = p.EncodeChunk(context.Background(), first)
	require.NoError(t, err)

	skipped, err := clock.NewAudioChunk(clock.Interval{Reference: clock.ClientRef(48000), End: 10000, Length: 2880}, make([]float32, 2880))
	require.NoError(t, err)

	_, err = p.EncodeChunk(context.Background(), skipped)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryContiguity))
}

// A placeholder arriving after the clock is established is a protocol
// violation (spec.md §4.4).
func TestEncodePlaceholderAfterClockStartedFails(t *testing.T) {
	t.Parallel()
	worker := &codec.FakeEncoderWorker{
		EncodeFunc: func(samples []float32) codec.EncodeResult {
			return codec.EncodeResult{SamplesEncoded: int64(len(samples))}
		},
	}
	p := New(worker, nil, nil)
	mustSetup(t, p, Config{ClientRate: 48000, ServerRate: 48000, FrameDurationMS: 60})

	audio, err := clock.NewAudioChunk(clock.Interval{Reference: clock.ClientRef(48000), End: 2880, Length: 2880}, make([]float32, 2880))
	require.NoError(t, err)
	_, err = p.EncodeChunk(context.Background(), audio)
	require.NoError(t, err)

	ph := clock.NewPlaceholderChunk(clock.ClientRef(48000), 5760, 2880)
	_, err = p.EncodeChunk(context.Background(), ph)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryState))
}

// A chunk tagged with the wrong clock reference is rejected outright.
func TestEncodeChunkRejectsWrongReference(t *testing.T) {
	t.Parallel()
	p := New(&codec.FakeEncoderWorker{}, nil, nil)
	mustSetup(t, p, Config{ClientRate: 48000, ServerRate: 48000, FrameDurationMS: 60})

	ph := clock.NewPlaceholderChunk(clock.ServerRef(48000), 2880, 2880)
	_, err := p.EncodeChunk(context.Background(), ph)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryClockReference))
}

// Property: for any sequence of same-length audio chunks at a 1:1 clock
// rate, the server clock advances in exact lockstep with the client clock
// (spec.md §8 property 1, clock bijection under identity rate).
func TestEncodeClockBijectionIdentityRate(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		frames := rapid.IntRange(1, 5).Draw(t, "frames")
		worker := &codec.FakeEncoderWorker{
			EncodeFunc: func(samples []float32) codec.EncodeResult {
				return codec.EncodeResult{SamplesEncoded: int64(len(samples))}
			},
		}
		p := New(worker, nil, nil)
		require.NoError(t, p.Setup(context.Background(), Config{ClientRate: 48000, ServerRate: 48000, FrameDurationMS: 60}))

		var pos int64
		for i := 0; i < frames; i++ {
			chunk, err := clock.NewAudioChunk(clock.Interval{Reference: clock.ClientRef(48000), End: pos + 2880, Length: 2880}, make([]float32, 2880))
			require.NoError(t, err)
			out, err := p.EncodeChunk(context.Background(), chunk)
			require.NoError(t, err)
			compressed := out.(clock.CompressedAudioChunk)
			require.Equal(t, pos+2880, compressed.Iv.End)
			pos += 2880
		}
	})
}
