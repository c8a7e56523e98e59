package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/bucketbrigade/internal/clock"
	"github.com/tphakala/bucketbrigade/internal/codec"
	"github.com/tphakala/bucketbrigade/internal/config"
)

func TestBatchSizeSamplesMatchesSpecConstants(t *testing.T) {
	t.Parallel()
	// 48000 samples/s -> 48 samples/ms; 600ms * 48 = 28800 samples = 225 frames of 128.
	assert.Equal(t, int64(28800), BatchSizeSamples(48000, 600, 128))
}

func newTestContext(t *testing.T) *Context {
	t.Helper()
	cfg := config.Defaults()
	encWorker := &codec.FakeEncoderWorker{
		EncodeFunc: func(samples []float32) codec.EncodeResult {
			return codec.EncodeResult{SamplesEncoded: int64(len(samples))}
		},
	}
	decWorker := &codec.FakeDecoderWorker{
		DecodeFunc: func(data []byte) codec.DecodeResult {
			return codec.DecodeResult{Samples: make([]float32, 2880)}
		},
	}
	c := NewContext(cfg, encWorker, decWorker, nil)
	require.NoError(t, c.Start(context.Background()))
	return c
}

func TestContextDrainBatchFillsOnThreshold(t *testing.T) {
	t.Parallel()
	c := newTestContext(t)

	batch := c.SampleBatchSize()
	half := batch / 2

	chunk1, err := clock.NewAudioChunk(clock.Interval{Reference: clock.ClientRef(c.cfg.SamplingRate), End: half, Length: half}, make([]float32, half))
	require.NoError(t, err)
	require.NoError(t, c.AppendMicSamples(chunk1))

	_, ready, err := c.DrainBatch()
	require.NoError(t, err)
	assert.False(t, ready)

	chunk2, err := clock.NewAudioChunk(clock.Interval{Reference: clock.ClientRef(c.cfg.SamplingRate), End: batch, Length: batch - half}, make([]float32, batch-half))
	require.NoError(t, err)
	require.NoError(t, c.AppendMicSamples(chunk2))

	out, ready, err := c.DrainBatch()
	require.NoError(t, err)
	require.True(t, ready)
	assert.Equal(t, batch, out.Iv.Length)
}

func TestContextReloadSettingsAdvancesEpoch(t *testing.T) {
	t.Parallel()
	c := newTestContext(t)
	before := c.Epoch().Current()

	var gotStop, gotParams bool
	c.Dispatcher().Subscribe(MsgStop, func(Message) { gotStop = true })
	c.Dispatcher().Subscribe(MsgAudioParams, func(m Message) { gotParams = true; assert.Equal(t, before+1, m.Epoch) })

	require.NoError(t, c.ReloadSettings(context.Background(), false))
	assert.True(t, gotStop)
	assert.True(t, gotParams)
	assert.Equal(t, before+1, c.Epoch().Current())
}

func TestContextEncodingLatencyForcedZeroForSyntheticSource(t *testing.T) {
	t.Parallel()
	c := newTestContext(t)
	assert.Equal(t, float64(0), c.EncodingLatencyMS(true))
	assert.Greater(t, c.EncodingLatencyMS(false), float64(0))
}

func TestDispatcherSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()
	d := NewDispatcher()
	var calls int
	unsub := d.Subscribe(MsgUnderflow, func(Message) { calls++ })

	d.Publish(Message{Type: MsgUnderflow})
	assert.Equal(t, 1, calls)

	unsub()
	d.Publish(Message{Type: MsgUnderflow})
	assert.Equal(t, 1, calls)
}

func TestEpochDropsStaleTokenAfterAdvance(t *testing.T) {
	t.Parallel()
	e := NewEpoch(0)
	token := e.Track()
	assert.True(t, e.Valid(token))

	e.Advance()
	assert.False(t, e.Valid(token))
}
