// Package audio handles device discovery, microphone capture, and PCM playback.
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const applicationName = "voicebridge"

// ErrDevice marks microphone failures: no device, permission denied, or stream setup errors.
var ErrDevice = errors.New("audio device unavailable")

// CaptureError reports a failed capture attempt for one device.
type CaptureError struct {
	Device string
	Err    error
}

func (e *CaptureError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("capture: %v", e.Err)
	}
	return fmt.Sprintf("capture %q: %v", e.Device, e.Err)
}

func (e *CaptureError) Unwrap() []error {
	return []error{ErrDevice, e.Err}
}

// Device describes one Pulse input source.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// Selection is the resolved capture source plus optional fallback warning context.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

// Constraints is the capture request. Processing flags are preferences:
// they steer source selection toward echo-cancel / noise-suppression
// sources when such sources exist.
type Constraints struct {
	Format           Format
	BufferSamples    int
	EchoCancellation bool
	NoiseSuppression bool
}

// DefaultConstraints requests mono 16 kHz with both processing stages.
func DefaultConstraints() Constraints {
	return Constraints{
		Format:           Wire,
		BufferSamples:    DefaultBufferSamples,
		EchoCancellation: true,
		NoiseSuppression: true,
	}
}

func newPulseClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(applicationName),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// ListDevices returns available Pulse input sources with default/availability metadata.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}
	defaultID := defaultSource.ID()

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(sourceInfos))
	for _, source := range sourceInfos {
		if source == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          source.SourceName,
			Description: source.Device,
			State:       sourceStateString(source.State),
			Available:   sourceAvailable(source),
			Muted:       source.Mute,
			Default:     source.SourceName == defaultID,
		})
	}
	return devices, nil
}

// SelectDevice resolves audio.input/audio.fallback preferences against live devices.
func SelectDevice(ctx context.Context, input string, fallback string, constraints Constraints) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return selectDeviceFromList(devices, input, fallback, constraints)
}

// selectDeviceFromList applies selection policy to a pre-fetched device list.
func selectDeviceFromList(devices []Device, input string, fallback string, constraints Constraints) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, errors.New("no audio input devices found")
	}

	var (
		defaultDevice *Device
		byInput       *Device
		byFallback    *Device
	)

	input = strings.TrimSpace(strings.ToLower(input))
	fallback = strings.TrimSpace(strings.ToLower(fallback))

	for i := range devices {
		dev := &devices[i]
		if dev.Default {
			defaultDevice = dev
		}
		if byInput == nil && input != "" && input != "default" && deviceMatches(*dev, input) {
			byInput = dev
		}
		if byFallback == nil && fallback != "" && fallback != "default" && deviceMatches(*dev, fallback) {
			byFallback = dev
		}
	}

	chooseDefault := func() (*Device, error) {
		if processed := processedSource(devices, constraints); processed != nil {
			return processed, nil
		}
		if defaultDevice == nil {
			return nil, errors.New("default audio source is unavailable")
		}
		return defaultDevice, nil
	}

	selectPrimary := func() (*Device, error) {
		if input == "" || input == "default" {
			return chooseDefault()
		}
		if byInput != nil {
			return byInput, nil
		}
		return nil, fmt.Errorf("audio.input %q did not match any device", input)
	}

	primary, err := selectPrimary()
	if err != nil {
		return Selection{}, err
	}
	if primary.Available && !primary.Muted {
		return Selection{Device: *primary}, nil
	}

	primaryReason := "unavailable"
	if primary.Muted {
		primaryReason = "muted"
	}

	fallbackDevice := primary
	if fallback != "" && fallback != "default" {
		if byFallback == nil {
			return Selection{}, fmt.Errorf("primary input %q is %s and fallback %q not found", primary.ID, primaryReason, fallback)
		}
		fallbackDevice = byFallback
	} else {
		if defaultDevice == nil {
			return Selection{}, fmt.Errorf("primary input %q is %s and no usable fallback: default audio source is unavailable", primary.ID, primaryReason)
		}
		fallbackDevice = defaultDevice
	}

	if !fallbackDevice.Available {
		return Selection{}, fmt.Errorf("audio fallback device %q is not available", fallbackDevice.ID)
	}
	if fallbackDevice.Muted {
		return Selection{}, fmt.Errorf("audio fallback device %q is muted", fallbackDevice.ID)
	}

	return Selection{
		Device:   *fallbackDevice,
		Warning:  fmt.Sprintf("audio.input %q is %s; falling back to %q", primary.ID, primaryReason, fallbackDevice.ID),
		Fallback: primary.ID != fallbackDevice.ID,
	}, nil
}

// processedSource picks a usable echo-cancel or noise-suppression source
// when the constraints ask for one. Echo cancellation wins when both exist.
func processedSource(devices []Device, constraints Constraints) *Device {
	type want struct {
		enabled bool
		terms   []string
	}
	wants := []want{
		{enabled: constraints.EchoCancellation, terms: []string{"echo-cancel", "echo_cancel", "echocancel"}},
		{enabled: constraints.NoiseSuppression, terms: []string{"noise", "rnnoise", "denoise"}},
	}
	for _, w := range wants {
		if !w.enabled {
			continue
		}
		for i := range devices {
			dev := &devices[i]
			if !dev.Available || dev.Muted || isMonitorSource(*dev) {
				continue
			}
			for _, term := range w.terms {
				if deviceMatches(*dev, term) {
					return dev
				}
			}
		}
	}
	return nil
}

// isMonitorSource reports Pulse monitor sources, which capture sink output rather than a microphone.
func isMonitorSource(device Device) bool {
	return strings.HasSuffix(strings.ToLower(device.ID), ".monitor")
}

// deviceMatches reports whether a search term matches a device id or description.
func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	id := strings.ToLower(device.ID)
	desc := strings.ToLower(device.Description)
	return strings.Contains(id, term) || strings.Contains(desc, term)
}

// BufferFunc receives one fixed-length buffer of wire-format samples.
// It runs on the capture goroutine and must not block.
type BufferFunc func(samples []float32)

// Capture streams fixed-length float buffers from one selected Pulse source.
type Capture struct {
	device  Device
	format  Format
	size    int
	onBuf   BufferFunc
	client  *pulse.Client
	stream  *pulse.RecordStream
	stopCh  chan struct{}
	mu      sync.Mutex
	pending []float32
	partial []byte
	stopped bool

	inflight sync.WaitGroup
	buffers  atomic.Int64
}

// StartCapture creates and starts a float32 record stream on the selected source.
func StartCapture(ctx context.Context, selected Device, constraints Constraints, onBuffer BufferFunc) (*Capture, error) {
	format := constraints.Format
	if format.SampleRate <= 0 {
		format.SampleRate = SampleRate
	}
	if format.Channels <= 0 {
		format.Channels = Channels
	}
	size := constraints.BufferSamples
	if size <= 0 {
		size = DefaultBufferSamples
	}

	client, err := newPulseClient()
	if err != nil {
		return nil, &CaptureError{Device: selected.ID, Err: err}
	}

	source, err := client.SourceByID(selected.ID)
	if err != nil {
		client.Close()
		return nil, &CaptureError{Device: selected.ID, Err: fmt.Errorf("resolve source: %w", err)}
	}

	capture := &Capture{
		device: selected,
		format: format,
		size:   size,
		onBuf:  onBuffer,
		client: client,
		stopCh: make(chan struct{}),
	}

	channelOpt := pulse.RecordMono
	if format.Channels == 2 {
		channelOpt = pulse.RecordStereo
	}

	writer := pulse.NewWriter(writerFunc(capture.onPCM), pulseproto.FormatFloat32LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		channelOpt,
		pulse.RecordSampleRate(format.SampleRate),
		pulse.RecordBufferFragmentSize(uint32(size*4*format.Channels)),
		pulse.RecordMediaName("voicebridge push-to-talk"),
	)
	if err != nil {
		capture.Close()
		return nil, &CaptureError{Device: selected.ID, Err: fmt.Errorf("create pulse record stream: %w", err)}
	}

	capture.stream = stream
	stream.Start()

	go func() {
		select {
		case <-ctx.Done():
			_ = capture.Stop()
		case <-capture.stopCh:
		}
	}()

	return capture, nil
}

// Device returns capture metadata for logging and diagnostics.
func (c *Capture) Device() Device {
	return c.device
}

// Buffers reports how many fixed-length buffers were delivered.
func (c *Capture) Buffers() int64 {
	return c.buffers.Load()
}

// Stop halts the stream and releases the Pulse client. Buffered samples that
// do not fill a whole buffer are discarded. Safe to call more than once.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	c.inflight.Wait()

	c.mu.Lock()
	c.pending = nil
	c.partial = nil
	c.mu.Unlock()
	return nil
}

// Close is a convenience alias for Stop.
func (c *Capture) Close() {
	_ = c.Stop()
}

// onPCM receives raw float32 frames from Pulse and emits fixed-length wire buffers.
func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	select {
	case <-c.stopCh:
		return 0, io.EOF
	default:
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return 0, io.EOF
	}
	// Guard Add under the same mutex as c.stopped to avoid Add/Wait races.
	c.inflight.Add(1)

	raw := append(c.partial, buffer...)
	frameBytes := 4 * c.format.Channels
	usable := len(raw) - len(raw)%frameBytes
	c.partial = append([]byte(nil), raw[usable:]...)

	c.pending = append(c.pending, Normalize(decodeFloat32LE(raw[:usable]), c.format)...)

	buffers := make([][]float32, 0, len(c.pending)/c.size)
	for len(c.pending) >= c.size {
		buf := make([]float32, c.size)
		copy(buf, c.pending[:c.size])
		c.pending = c.pending[c.size:]
		buffers = append(buffers, buf)
	}
	c.mu.Unlock()
	defer c.inflight.Done()

	for _, buf := range buffers {
		select {
		case <-c.stopCh:
			return 0, io.EOF
		default:
		}
		c.buffers.Add(1)
		if c.onBuf != nil {
			c.onBuf(buf)
		}
	}

	return len(buffer), nil
}

func decodeFloat32LE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}

// sourceStateString maps Pulse source state constants to human-readable values.
func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// sourceAvailable maps Pulse source port availability to a simple boolean.
func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	if len(source.Ports) == 0 {
		return true
	}
	for _, port := range source.Ports {
		if port.Name != source.ActivePortName {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.Available == 0 || port.Available == 2
	}
	return true
}
