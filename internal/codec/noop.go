package codec

import "context"

// NoopEncoderWorker satisfies EncoderWorker without a real Opus binding: it
// reports every sample as encoded and produces no packets. The actual codec
// implementation is an external collaborator (spec.md §1 "OUT OF SCOPE");
// this lets callers wire the surrounding pipeline before one is available.
type NoopEncoderWorker struct{}

func (NoopEncoderWorker) Setup(ctx context.Context, cfg SetupConfig) (SetupResult, error) {
	return SetupResult{}, nil
}

func (NoopEncoderWorker) Encode(ctx context.Context, id RequestID, samples []float32) (EncodeResult, error) {
	return EncodeResult{RequestID: id, SamplesEncoded: int64(len(samples))}, nil
}

func (NoopEncoderWorker) Reset(ctx context.Context) error { return nil }

// NoopDecoderWorker satisfies DecoderWorker without a real Opus binding: it
// reports every request decoded with no samples.
type NoopDecoderWorker struct{}

func (NoopDecoderWorker) Setup(ctx context.Context, cfg SetupConfig) (SetupResult, error) {
	return SetupResult{}, nil
}

func (NoopDecoderWorker) Decode(ctx context.Context, id RequestID, data []byte) (DecodeResult, error) {
	return DecodeResult{RequestID: id}, nil
}

func (NoopDecoderWorker) Reset(ctx context.Context) error { return nil }
