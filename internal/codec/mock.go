package codec

import "context"

// FakeEncoderWorker is a deterministic encoder worker test double: each
// call to Encode is answered by invoking EncodeFunc, letting tests script
// exact {packets, samples_encoded, buffered_samples} responses the way
// spec.md §8's S1/S2 scenarios specify.
type FakeEncoderWorker struct {
	SetupResult SetupResult
	SetupErr    error
	EncodeFunc  func(samples []float32) EncodeResult
	ResetCount  int
}

func (f *FakeEncoderWorker) Setup(ctx context.Context, cfg SetupConfig) (SetupResult, error) {
	return f.SetupResult, f.SetupErr
}

func (f *FakeEncoderWorker) Encode(ctx context.Context, id RequestID, samples []float32) (EncodeResult, error) {
	result := f.EncodeFunc(samples)
	result.RequestID = id
	return result, nil
}

func (f *FakeEncoderWorker) Reset(ctx context.Context) error {
	f.ResetCount++
	return nil
}

// FakeDecoderWorker is a deterministic decoder worker test double.
type FakeDecoderWorker struct {
	SetupResult SetupResult
	SetupErr    error
	DecodeFunc  func(data []byte) DecodeResult
	ResetCount  int
}

func (f *FakeDecoderWorker) Setup(ctx context.Context, cfg SetupConfig) (SetupResult, error) {
	return f.SetupResult, f.SetupErr
}

func (f *FakeDecoderWorker) Decode(ctx context.Context, id RequestID, data []byte) (DecodeResult, error) {
	result := f.DecodeFunc(data)
	result.RequestID = id
	return result, nil
}

func (f *FakeDecoderWorker) Reset(ctx context.Context) error {
	f.ResetCount++
	return nil
}
