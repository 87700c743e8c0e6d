// Package resolver turns "some HDMI capture dongle is plugged in somewhere"
// into a concrete, validated device selection: a video node proven usable and
// optionally the ALSA card living on the same USB device.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/smazurov/hdmistream/internal/events"
	"github.com/smazurov/hdmistream/internal/v4l2"
)

// VideoProber is the slice of the v4l2 client the resolver needs.
type VideoProber interface {
	Probe(ctx context.Context, path string) (v4l2.Capability, error)
	QueryOK(ctx context.Context, path string) bool
	StreamTest(ctx context.Context, path string) bool
	SetFormat(ctx context.Context, path, pixelFormat string, width, height int)
	ListCandidates(ctx context.Context) ([]string, error)
}

// TopologyMatcher pairs device nodes with sound cards by USB address.
type TopologyMatcher interface {
	AddressOf(videoPath string) (string, error)
	MatchAudioCards(usbAddr string) ([]int, error)
}

// AudioVerifier proves a sound card can record.
type AudioVerifier interface {
	HasCaptureDevice(card int) bool
	TestCapture(ctx context.Context, card int) bool
	CardID(card int) string
}

// NoAudioCard marks a resolution that carries no audio.
const NoAudioCard = -1

// ErrNoDevice is returned when no candidate passed validation.
var ErrNoDevice = errors.New("no usable capture device found")

// StuckError reports a device that answers capability queries but cannot
// stream. Recovery needs physical or driver-level intervention outside this
// process's authority, so the message carries the exact steps instead of
// attempting a reset.
type StuckError struct {
	Path string
}

// Error implements the error interface.
func (e *StuckError) Error() string {
	return fmt.Sprintf("device %s is stuck (describes itself but cannot stream); "+
		"try: replug the device, or `usb_modeswitch -v 0x534d -p 0x2109 -R`, "+
		"or `modprobe -r uvcvideo && modprobe uvcvideo`", e.Path)
}

// Resolved is a validated device selection. AudioCard is NoAudioCard when
// the stream is video-only.
type Resolved struct {
	VideoPath     string
	UsbAddress    string
	AudioCard     int
	SupportsMJPEG bool
}

// HasAudio reports whether an audio card was paired.
func (r Resolved) HasAudio() bool { return r.AudioCard != NoAudioCard }

// Options control one resolution attempt.
type Options struct {
	// PreferredDevice pins the video node instead of scanning.
	PreferredDevice string
	// ForceAudioCard pins the ALSA card, bypassing topology pairing.
	// NoAudioCard means pair by topology.
	ForceAudioCard int
	// DisableAudio skips audio pairing entirely.
	DisableAudio bool
	// RepairSettle is the pause after a format reset before re-testing.
	RepairSettle time.Duration
}

// Resolver owns the probe/validate/pair sequence.
type Resolver struct {
	video  VideoProber
	topo   TopologyMatcher
	audio  AudioVerifier
	bus    *events.Bus
	logger *slog.Logger
	sleep  func(time.Duration)
}

// New creates a resolver. bus may be nil when no one listens for
// resolution events.
func New(video VideoProber, topo TopologyMatcher, audio AudioVerifier, bus *events.Bus, logger *slog.Logger) *Resolver {
	return &Resolver{
		video:  video,
		topo:   topo,
		audio:  audio,
		bus:    bus,
		logger: logger,
		sleep:  time.Sleep,
	}
}

// Resolve selects and validates a capture device. Candidates are tried in
// enumeration order and the first one that passes wins; remaining candidates
// are never probed. Audio failures degrade to a video-only result, device
// failures move to the next candidate, and only exhausting all candidates is
// an error.
func (r *Resolver) Resolve(ctx context.Context, opts Options) (Resolved, error) {
	candidates, err := r.candidates(ctx, opts)
	if err != nil {
		return Resolved{}, err
	}
	if len(candidates) == 0 {
		return Resolved{}, ErrNoDevice
	}

	var lastErr error
	for _, path := range candidates {
		cap, err := r.video.Probe(ctx, path)
		if err != nil {
			r.logger.Info("candidate rejected", "device", path, "error", err)
			lastErr = err
			continue
		}
		if err := r.EnsureUsable(ctx, path, opts.RepairSettle); err != nil {
			r.logger.Warn("candidate unusable", "device", path, "error", err)
			lastErr = err
			continue
		}

		resolved := Resolved{
			VideoPath:     path,
			AudioCard:     NoAudioCard,
			SupportsMJPEG: cap.SupportsMJPEG,
		}
		r.pairAudio(ctx, &resolved, opts)

		r.logger.Info("device resolved",
			"video", resolved.VideoPath,
			"usb", resolved.UsbAddress,
			"audio_card", resolved.AudioCard,
			"mjpeg", resolved.SupportsMJPEG)
		r.publish(resolved)
		return resolved, nil
	}

	if lastErr != nil {
		return Resolved{}, fmt.Errorf("%w: last candidate error: %w", ErrNoDevice, lastErr)
	}
	return Resolved{}, ErrNoDevice
}

// EnsureUsable runs the two-phase device validation. Phase one re-runs the
// capability query, catching devices unplugged between enumeration and use.
// Phase two is a bounded real streaming test; the stuck signature there means
// the device needs physical or driver intervention, and no automatic reset is
// attempted because that requires privileges this process does not hold.
// A usable device then gets one explicit low-resolution format negotiation
// plus a settle pause, shaking the driver out of any latent bad state left by
// a crashed prior consumer. That reset is best effort and never fails
// validation.
func (r *Resolver) EnsureUsable(ctx context.Context, path string, settle time.Duration) error {
	if !r.video.QueryOK(ctx, path) {
		return fmt.Errorf("device %s stopped answering capability queries", path)
	}
	if !r.video.StreamTest(ctx, path) {
		return &StuckError{Path: path}
	}

	r.video.SetFormat(ctx, path, "MJPG", 640, 480)
	if settle <= 0 {
		settle = 200 * time.Millisecond
	}
	r.sleep(settle)
	return nil
}

func (r *Resolver) candidates(ctx context.Context, opts Options) ([]string, error) {
	if opts.PreferredDevice != "" {
		return []string{opts.PreferredDevice}, nil
	}
	candidates, err := r.video.ListCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate capture devices: %w", err)
	}
	return candidates, nil
}

// pairAudio fills in the audio card. Every failure path here downgrades to
// video-only; a capture stream without sound beats no stream at all.
func (r *Resolver) pairAudio(ctx context.Context, resolved *Resolved, opts Options) {
	if opts.DisableAudio {
		return
	}

	if opts.ForceAudioCard != NoAudioCard {
		if r.verifyCard(ctx, opts.ForceAudioCard) {
			resolved.AudioCard = opts.ForceAudioCard
		} else {
			r.logger.Warn("forced audio card failed verification, continuing video-only",
				"card", opts.ForceAudioCard)
		}
		return
	}

	addr, err := r.topo.AddressOf(resolved.VideoPath)
	if err != nil {
		r.logger.Warn("cannot determine usb address, continuing video-only",
			"device", resolved.VideoPath, "error", err)
		return
	}
	resolved.UsbAddress = addr

	cards, err := r.topo.MatchAudioCards(addr)
	if err != nil {
		r.logger.Warn("sound card enumeration failed, continuing video-only", "error", err)
		return
	}
	if len(cards) == 0 {
		r.logger.Info("no sound card on device, continuing video-only", "usb", addr)
		return
	}

	// Only the first address-matched card is considered. A match that cannot
	// capture is a broken or wrongly-exposed device, not a reason to gamble
	// on a sibling card.
	card := cards[0]
	if !r.verifyCard(ctx, card) {
		r.logger.Warn("matched audio card failed verification, continuing video-only",
			"card", card, "usb", addr)
		return
	}
	resolved.AudioCard = card
}

func (r *Resolver) verifyCard(ctx context.Context, card int) bool {
	if !r.audio.HasCaptureDevice(card) {
		r.logger.Debug("card has no capture pcm", "card", card)
		return false
	}
	if !r.audio.TestCapture(ctx, card) {
		return false
	}
	if id := r.audio.CardID(card); id != "" {
		r.logger.Debug("audio card verified", "card", card, "id", id)
	}
	return true
}

func (r *Resolver) publish(resolved Resolved) {
	if r.bus == nil {
		return
	}
	audio := ""
	if resolved.HasAudio() {
		audio = strconv.Itoa(resolved.AudioCard)
	}
	r.bus.Publish(events.DeviceResolvedEvent{
		VideoPath:  resolved.VideoPath,
		AudioCard:  audio,
		UsbAddress: resolved.UsbAddress,
		Timestamp:  time.Now().Format(time.RFC3339Nano),
	})
}
