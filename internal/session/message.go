// Package session owns the audio-graph endpoints and the pub/sub message
// bus that replaces the source's invasive player-node handler rebinding
// (spec.md §4.6, §9 "Invasive coupling → publish/subscribe").
package session

import "github.com/tphakala/bucketbrigade/internal/clock"

// MessageType tags one player-node message (spec.md §6.3, §6.4).
type MessageType string

// context -> worklet
const (
	MsgStop                  MessageType = "stop"
	MsgAudioParams           MessageType = "audio_params"
	MsgSamplesIn             MessageType = "samples_in"
	MsgLatencyEstimationMode MessageType = "latency_estimation_mode"
	MsgVolumeEstimationMode  MessageType = "volume_estimation_mode"
	MsgIgnoreInput           MessageType = "ignore_input"
	MsgClickVolumeChange     MessageType = "click_volume_change"
	MsgLocalLatency          MessageType = "local_latency"
	MsgRequestCurClock       MessageType = "request_cur_clock"
	MsgSetAlarm              MessageType = "set_alarm"
)

// worklet -> context
const (
	MsgSamplesOut      MessageType = "samples_out"
	MsgUnderflow       MessageType = "underflow"
	MsgNoMicInput      MessageType = "no_mic_input"
	MsgCurrentVolume   MessageType = "current_volume"
	MsgInputGain       MessageType = "input_gain"
	MsgLatencyEstimate MessageType = "latency_estimate"
	MsgCurClock        MessageType = "cur_clock"
	MsgAlarm           MessageType = "alarm"
	MsgException       MessageType = "exception"
)

// Message is the value-typed player-node message carried on the
// Dispatcher bus (spec.md §9 "Dynamic reblessing": a tagged sum type
// decoded at the boundary rather than re-prototyped in place).
type Message struct {
	Type MessageType

	Chunk clock.Chunk

	// audio_params
	SyntheticSource bool
	ClickInterval   int
	LoopbackMode    bool
	Epoch           uint64

	// *_mode / ignore_input
	Enabled bool

	// click_volume_change / current_volume
	Value float32

	// local_latency
	LocalLatency int64

	// input_gain
	InputGain float32

	// latency_estimate
	Samples int
	P25     *float64
	P50     *float64
	P75     *float64
	Jank    *float64

	// cur_clock / set_alarm / alarm
	ClockValue int64
	Time       int64

	// exception
	Exception any
}
