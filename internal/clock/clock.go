// Package clock provides the immutable audio-interval value types that
// bridge the local (client) sample clock and the canonical (server) sample
// clock: ClockReference, ClockInterval, AudioChunk, CompressedAudioChunk,
// and PlaceholderChunk. See spec.md §3-4.1.
package clock

import (
	"fmt"

	"github.com/tphakala/bucketbrigade/internal/errors"
)

// ComponentClock is the errors.Component tag for this package.
const ComponentClock = "clock"

// Variant distinguishes the two disjoint ClockReference tags.
type Variant int

const (
	// Client identifies samples measured in the local audio hardware rate.
	Client Variant = iota
	// Server identifies samples measured in the canonical codec/server rate.
	Server
)

func (v Variant) String() string {
	switch v {
	case Client:
		return "client"
	case Server:
		return "server"
	default:
		return "unknown"
	}
}

// Reference is a tagged sample rate. Equality is by variant and rate;
// mixing samples measured against two different References is a bug this
// type exists to prevent.
type Reference struct {
	Variant Variant
	Rate    int
}

// ClientRef constructs a Client-tagged reference at the given rate.
func ClientRef(rate int) Reference { return Reference{Variant: Client, Rate: rate} }

// ServerRef constructs a Server-tagged reference at the given rate.
func ServerRef(rate int) Reference { return Reference{Variant: Server, Rate: rate} }

// Equal reports whether two references share variant and rate.
func (r Reference) Equal(other Reference) bool {
	return r.Variant == other.Variant && r.Rate == other.Rate
}

func (r Reference) String() string {
	return fmt.Sprintf("%s@%dHz", r.Variant, r.Rate)
}

// Interval is a half-open sample interval {reference, end, length} with
// implied start = end - length. Invariant: length >= 0; end >= length.
type Interval struct {
	Reference Reference
	End       int64
	Length    int64
}

// Start returns the implied interval start.
func (iv Interval) Start() int64 { return iv.End - iv.Length }

// Valid reports whether the interval satisfies its invariants.
func (iv Interval) Valid() bool {
	return iv.Length >= 0 && iv.End >= iv.Length
}

// contiguousWith reports whether other begins exactly where iv ends.
func (iv Interval) contiguousWith(other Interval) bool {
	return iv.End == other.Start()
}

// concatInterval merges two contiguous, same-reference intervals.
func concatInterval(a, b Interval) (Interval, error) {
	if !a.Reference.Equal(b.Reference) {
		return Interval{}, errors.New(nil).
			Component(ComponentClock).
			Category(errors.CategoryClockReference).
			Context("error", "concat across different clock references").
			Context("a", a.Reference.String()).
			Context("b", b.Reference.String()).
			Build()
	}
	if !a.contiguousWith(b) {
		return Interval{}, errors.New(nil).
			Component(ComponentClock).
			Category(errors.CategoryContiguity).
			Context("error", "non-contiguous intervals").
			Context("a_end", a.End).
			Context("b_start", b.Start()).
			Build()
	}
	return Interval{Reference: a.Reference, End: b.End, Length: a.Length + b.Length}, nil
}

// Chunk is the common shape shared by every chunk variant: it carries one
// interval and can report whether it is a placeholder (no samples).
type Chunk interface {
	Interval() Interval
	IsPlaceholder() bool
}

// AudioChunk carries client-referenced PCM samples.
type AudioChunk struct {
	Iv   Interval
	Data []float32
}

// NewAudioChunk constructs an AudioChunk, validating data length against
// the interval and that the reference is a Client reference.
func NewAudioChunk(iv Interval, data []float32) (AudioChunk, error) {
	if iv.Reference.Variant != Client {
		return AudioChunk{}, errors.New(nil).
			Component(ComponentClock).
			Category(errors.CategoryClockReference).
			Context("error", "AudioChunk requires a client reference").
			Context("reference", iv.Reference.String()).
			Build()
	}
	if int64(len(data)) != iv.Length {
		return AudioChunk{}, errors.New(nil).
			Component(ComponentClock).
			Category(errors.CategoryValidation).
			Context("error", "AudioChunk data length mismatch").
			Context("data_len", len(data)).
			Context("interval_length", iv.Length).
			Build()
	}
	return AudioChunk{Iv: iv, Data: data}, nil
}

func (c AudioChunk) Interval() Interval   { return c.Iv }
func (c AudioChunk) IsPlaceholder() bool { return false }

// CompressedAudioChunk carries server-referenced opaque packed bytes (§6.2).
type CompressedAudioChunk struct {
	Iv   Interval
	Data []byte
}

// NewCompressedAudioChunk constructs a CompressedAudioChunk, validating
// that the reference is a Server reference.
func NewCompressedAudioChunk(iv Interval, data []byte) (CompressedAudioChunk, error) {
	if iv.Reference.Variant != Server {
		return CompressedAudioChunk{}, errors.New(nil).
			Component(ComponentClock).
			Category(errors.CategoryClockReference).
			Context("error", "CompressedAudioChunk requires a server reference").
			Context("reference", iv.Reference.String()).
			Build()
	}
	return CompressedAudioChunk{Iv: iv, Data: data}, nil
}

func (c CompressedAudioChunk) Interval() Interval   { return c.Iv }
func (c CompressedAudioChunk) IsPlaceholder() bool { return false }

// PlaceholderChunk carries no samples; it represents a time interval for
// which the sender had no audio (muted, not yet started). May be tagged
// with either reference.
type PlaceholderChunk struct {
	Iv Interval
}

// NewPlaceholderChunk constructs a PlaceholderChunk for the given reference and length.
func NewPlaceholderChunk(ref Reference, end, length int64) PlaceholderChunk {
	return PlaceholderChunk{Iv: Interval{Reference: ref, End: end, Length: length}}
}

func (c PlaceholderChunk) Interval() Interval   { return c.Iv }
func (c PlaceholderChunk) IsPlaceholder() bool { return true }

// CheckReference fails with ClockReferenceMismatch if chunk's reference
// differs from want by variant or rate.
func CheckReference(chunk Chunk, want Reference) error {
	got := chunk.Interval().Reference
	if got.Equal(want) {
		return nil
	}
	return errors.New(nil).
		Component(ComponentClock).
		Category(errors.CategoryClockReference).
		Context("error", "clock reference mismatch").
		Context("want", want.String()).
		Context("got", got.String()).
		Build()
}

// ConcatAudio concatenates contiguous AudioChunks sharing one reference.
func ConcatAudio(chunks []AudioChunk) (AudioChunk, error) {
	if len(chunks) == 0 {
		return AudioChunk{}, errors.New(nil).
			Component(ComponentClock).
			Category(errors.CategoryValidation).
			Context("error", "concat of empty chunk list").
			Build()
	}
	acc := chunks[0]
	for _, next := range chunks[1:] {
		iv, err := concatInterval(acc.Iv, next.Iv)
		if err != nil {
			return AudioChunk{}, err
		}
		data := make([]float32, 0, len(acc.Data)+len(next.Data))
		data = append(data, acc.Data...)
		data = append(data, next.Data...)
		acc = AudioChunk{Iv: iv, Data: data}
	}
	return acc, nil
}

// ConcatPlaceholder concatenates contiguous PlaceholderChunks sharing one reference.
func ConcatPlaceholder(chunks []PlaceholderChunk) (PlaceholderChunk, error) {
	if len(chunks) == 0 {
		return PlaceholderChunk{}, errors.New(nil).
			Component(ComponentClock).
			Category(errors.CategoryValidation).
			Context("error", "concat of empty chunk list").
			Build()
	}
	acc := chunks[0]
	for _, next := range chunks[1:] {
		iv, err := concatInterval(acc.Iv, next.Iv)
		if err != nil {
			return PlaceholderChunk{}, err
		}
		acc = PlaceholderChunk{Iv: iv}
	}
	return acc, nil
}

// Round implements round-half-away-from-zero on rational n*num/den, matching
// the "round(n * r_target / r_source)" operation used throughout spec.md §4.
func Round(n int64, num, den int) int64 {
	if den == 0 {
		return 0
	}
	numerator := n * int64(num)
	d := int64(den)
	if (numerator < 0) != (d < 0) {
		return -roundDiv(-numerator, d)
	}
	return roundDiv(numerator, d)
}

func roundDiv(numerator, den int64) int64 {
	if den < 0 {
		numerator, den = -numerator, -den
	}
	return (numerator + den/2) / den
}
