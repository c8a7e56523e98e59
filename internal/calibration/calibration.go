// Package calibration implements the two alternate consumers of the
// player-node message stream described in spec.md §4.8: a volume
// calibrator (RMS readback) and a latency calibrator (click/echo), each
// substituting itself onto the session's message bus for the duration of
// its mode rather than rebinding a single global handler (spec.md §9
// "Invasive coupling → publish/subscribe").
package calibration

import (
	"log/slog"
	"math"

	"github.com/tphakala/bucketbrigade/internal/config"
	"github.com/tphakala/bucketbrigade/internal/logging"
	"github.com/tphakala/bucketbrigade/internal/session"
)

// ComponentCalibration is the errors.Component tag for this package.
const ComponentCalibration = "calibration"

// humanReadableDivisor converts a linear volume sample into the
// human-readable decibel-like scale spec.md §4.8 defines for VolumeCalibrator.
const humanReadableDivisor = 6.908

// EventType tags one calibration-observable event (spec.md §4.8).
type EventType string

const (
	EventVolumeChange     EventType = "volumeChange"
	EventVolumeCalibrated EventType = "volumeCalibrated"
	EventMicInputChange   EventType = "micInputChange"
	EventBeep             EventType = "beep"
)

// Event is the value-typed calibration event delivered to a caller-supplied
// Handler; only the fields relevant to Type are populated.
type Event struct {
	Type EventType

	// volumeChange
	Volume        float32
	HumanReadable float64

	// volumeCalibrated
	InputGain float32

	// micInputChange
	HasMicInput bool

	// beep
	Samples      int
	Done         bool
	EstLatencyMS *float64
	Est25To75MS  *float64
	Jank         *float64
	Success      *bool
}

// Handler receives calibration events as they occur.
type Handler func(Event)

// VolumeCalibrator drives the player node's volume_estimation_mode and
// reports human-readable volume samples until input_gain arrives
// (spec.md §4.8).
type VolumeCalibrator struct {
	ctx     *session.Context
	onEvent Handler
	logger  *slog.Logger

	hasMicInput bool
	unsubscribe []func()
	running     bool
}

// NewVolumeCalibrator constructs a VolumeCalibrator bound to ctx's
// dispatcher. onEvent may be nil.
func NewVolumeCalibrator(ctx *session.Context, onEvent Handler) *VolumeCalibrator {
	logger := logging.ForService("calibration")
	if logger == nil {
		logger = slog.Default()
	}
	return &VolumeCalibrator{ctx: ctx, onEvent: onEvent, logger: logger.With("mode", "volume")}
}

// Start enables volume_estimation_mode and begins observing readback.
func (v *VolumeCalibrator) Start() {
	if v.running {
		return
	}
	d := v.ctx.Dispatcher()
	v.unsubscribe = append(v.unsubscribe,
		d.Subscribe(session.MsgCurrentVolume, v.handleCurrentVolume),
		d.Subscribe(session.MsgInputGain, v.handleInputGain),
		d.Subscribe(session.MsgNoMicInput, v.handleNoMicInput),
	)
	d.Publish(session.Message{Type: session.MsgVolumeEstimationMode, Enabled: true})
	v.running = true
}

// Stop disables volume_estimation_mode and releases the subscriptions.
func (v *VolumeCalibrator) Stop() {
	if !v.running {
		return
	}
	for _, unsub := range v.unsubscribe {
		unsub()
	}
	v.unsubscribe = nil
	v.ctx.Dispatcher().Publish(session.Message{Type: session.MsgVolumeEstimationMode, Enabled: false})
	v.running = false
}

func (v *VolumeCalibrator) handleCurrentVolume(m session.Message) {
	humanReadable := math.Log(float64(m.Value)*1000) / humanReadableDivisor
	v.emit(Event{Type: EventVolumeChange, Volume: m.Value, HumanReadable: humanReadable})
}

func (v *VolumeCalibrator) handleInputGain(m session.Message) {
	v.emit(Event{Type: EventVolumeCalibrated, InputGain: m.InputGain})
	v.Stop()
}

func (v *VolumeCalibrator) handleNoMicInput(m session.Message) {
	hasMicInput := !m.Enabled
	if hasMicInput == v.hasMicInput {
		return
	}
	v.hasMicInput = hasMicInput
	v.emit(Event{Type: EventMicInputChange, HasMicInput: hasMicInput})
}

func (v *VolumeCalibrator) emit(e Event) {
	v.logger.Debug("volume calibration event", "type", e.Type)
	if v.onEvent != nil {
		v.onEvent(e)
	}
}

// LatencyCalibrator drives the player node's latency_estimation_mode,
// observing click/echo round-trip statistics until the completion
// criterion of spec.md §4.8/§8 property 8 is met: a single `done` beep,
// fired exactly once, the first time the worklet reports at least
// CalibrationSampleMinimum samples.
type LatencyCalibrator struct {
	ctx     *session.Context
	cfg     config.Settings
	onEvent Handler
	logger  *slog.Logger

	clickVolume float32
	doneFired   bool
	hasMicInput bool
	unsubscribe []func()
	running     bool
}

// NewLatencyCalibrator constructs a LatencyCalibrator bound to ctx's
// dispatcher. onEvent may be nil.
func NewLatencyCalibrator(ctx *session.Context, cfg config.Settings, onEvent Handler) *LatencyCalibrator {
	logger := logging.ForService("calibration")
	if logger == nil {
		logger = slog.Default()
	}
	return &LatencyCalibrator{ctx: ctx, cfg: cfg, onEvent: onEvent, clickVolume: 1.0, logger: logger.With("mode", "latency")}
}

// SetClickVolume adjusts the click-train loudness used by the player's
// echo probe. Takes effect on the next Start, or immediately if running.
func (l *LatencyCalibrator) SetClickVolume(volume float32) {
	l.clickVolume = volume
	if l.running {
		l.ctx.Dispatcher().Publish(session.Message{Type: session.MsgClickVolumeChange, Value: volume})
	}
}

// Start enables latency_estimation_mode and begins observing estimates.
func (l *LatencyCalibrator) Start() {
	if l.running {
		return
	}
	l.doneFired = false
	d := l.ctx.Dispatcher()
	l.unsubscribe = append(l.unsubscribe,
		d.Subscribe(session.MsgLatencyEstimate, l.handleLatencyEstimate),
		d.Subscribe(session.MsgNoMicInput, l.handleNoMicInput),
	)
	d.Publish(session.Message{Type: session.MsgLatencyEstimationMode, Enabled: true})
	d.Publish(session.Message{Type: session.MsgClickVolumeChange, Value: l.clickVolume})
	l.running = true
}

// Stop disables latency_estimation_mode and releases the subscriptions.
func (l *LatencyCalibrator) Stop() {
	if !l.running {
		return
	}
	for _, unsub := range l.unsubscribe {
		unsub()
	}
	l.unsubscribe = nil
	l.ctx.Dispatcher().Publish(session.Message{Type: session.MsgLatencyEstimationMode, Enabled: false})
	l.running = false
}

func (l *LatencyCalibrator) handleLatencyEstimate(m session.Message) {
	done := !l.doneFired && m.Samples >= l.cfg.CalibrationSampleMinimum
	if done {
		l.doneFired = true
	}

	event := Event{Type: EventBeep, Samples: m.Samples, Done: done, Jank: m.Jank}
	if m.P50 != nil {
		event.EstLatencyMS = m.P50
	}
	if m.P25 != nil && m.P75 != nil {
		window := *m.P75 - *m.P25
		event.Est25To75MS = &window
		success := window <= l.cfg.CalibrationSuccessWindowMS
		event.Success = &success
		if success && done && m.P50 != nil {
			l.pushLocalLatency(*m.P50)
		}
	}

	l.emit(event)
	if done {
		l.Stop()
	}
}

func (l *LatencyCalibrator) pushLocalLatency(latencyMS float64) {
	samples := int64(latencyMS * float64(l.cfg.SamplingRate) / 1000)
	l.ctx.Dispatcher().Publish(session.Message{Type: session.MsgLocalLatency, LocalLatency: samples})
}

func (l *LatencyCalibrator) handleNoMicInput(m session.Message) {
	hasMicInput := !m.Enabled
	if hasMicInput == l.hasMicInput {
		return
	}
	l.hasMicInput = hasMicInput
	l.emit(Event{Type: EventMicInputChange, HasMicInput: hasMicInput})
}

func (l *LatencyCalibrator) emit(e Event) {
	l.logger.Debug("latency calibration event", "type", e.Type, "samples", e.Samples, "done", e.Done)
	if l.onEvent != nil {
		l.onEvent(e)
	}
}
