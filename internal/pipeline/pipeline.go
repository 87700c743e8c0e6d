// Package pipeline builds GStreamer launch descriptions from a resolved
// device selection. Building is pure: no probing, no environment reads, no
// side effects. The same inputs always yield a structurally identical spec,
// and the textual form is only rendered at the media-runtime boundary.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/smazurov/hdmistream/internal/config"
	"github.com/smazurov/hdmistream/internal/resolver"
)

// Mode selects which media branches the pipeline carries.
type Mode string

// Pipeline modes.
const (
	ModeVideoOnly     Mode = "video-only"
	ModeAudioOnly     Mode = "audio-only"
	ModeVideoAndAudio Mode = "video+audio"
)

// CodecPath selects the video decode strategy.
type CodecPath string

// Codec paths.
const (
	// PathPassthroughMJPEG taps the dongle's hardware MJPEG encoder and
	// decodes it directly. Preferred when the probe reported MJPEG support;
	// skipping generic negotiation saves a decode stage of CPU.
	PathPassthroughMJPEG CodecPath = "mjpeg-passthrough"
	// PathGenericDecode lets decodebin negotiate whatever raw format the
	// device offers.
	PathGenericDecode CodecPath = "generic-decode"
	// PathNone means the pipeline has no video branch.
	PathNone CodecPath = "none"
)

// Spec is a fully-determined pipeline description. AudioDeviceSpec is set
// exactly when Mode requires audio.
type Spec struct {
	Mode            Mode
	VideoCodecPath  CodecPath
	VideoDevice     string
	AudioDeviceSpec string
	Video           config.VideoSettings
	Audio           config.AudioSettings
}

// BuildError reports an impossible mode request.
type BuildError struct {
	Reason string
}

// Error implements the error interface.
func (e *BuildError) Error() string { return "build pipeline: " + e.Reason }

// Build maps a resolved device to a pipeline spec. All decisions reduce to
// values already on the resolution; audio availability was proven by a real
// capture during pairing, so presence of an audio card here means usable.
func Build(resolved resolver.Resolved, settings config.Settings, audioOnly bool) (Spec, error) {
	spec := Spec{
		VideoDevice: resolved.VideoPath,
		Video:       settings.Video,
		Audio:       settings.Audio,
	}

	hasAudio := resolved.HasAudio() && !settings.Audio.Disabled
	if hasAudio {
		spec.AudioDeviceSpec = fmt.Sprintf("plughw:%d,0", resolved.AudioCard)
	}

	switch {
	case audioOnly:
		if !hasAudio {
			return Spec{}, &BuildError{Reason: "audio-only mode requested but no audio card resolved"}
		}
		spec.Mode = ModeAudioOnly
		spec.VideoCodecPath = PathNone
		spec.VideoDevice = ""
	case hasAudio:
		spec.Mode = ModeVideoAndAudio
		spec.VideoCodecPath = videoPath(resolved.SupportsMJPEG)
	default:
		spec.Mode = ModeVideoOnly
		spec.VideoCodecPath = videoPath(resolved.SupportsMJPEG)
	}
	return spec, nil
}

func videoPath(mjpeg bool) CodecPath {
	if mjpeg {
		return PathPassthroughMJPEG
	}
	return PathGenericDecode
}

// HasVideo reports whether the spec carries a video branch.
func (s Spec) HasVideo() bool { return s.VideoCodecPath != PathNone }

// HasAudio reports whether the spec carries an audio branch.
func (s Spec) HasAudio() bool { return s.AudioDeviceSpec != "" }

// Render produces the gst-launch-1.0 stage chain for the spec. The RTSP
// server enumerates payloaders from pay0 upward, so the first branch present
// is always pay0: video in the combined modes, audio when audio-only.
func (s Spec) Render() string {
	var stages []string
	if s.HasVideo() {
		stages = append(stages, s.videoStages())
	}
	if s.HasAudio() {
		payload := "pay1"
		if !s.HasVideo() {
			payload = "pay0"
		}
		stages = append(stages, s.audioStages(payload))
	}
	return strings.Join(stages, " ")
}

func (s Spec) videoStages() string {
	var b strings.Builder
	fmt.Fprintf(&b, "v4l2src device=%s", s.VideoDevice)

	if s.VideoCodecPath == PathPassthroughMJPEG {
		b.WriteString(" ! image/jpeg ! jpegdec")
	} else {
		b.WriteString(" ! queue ! decodebin")
	}

	b.WriteString(" ! videoconvert ! video/x-raw,format=I420")
	fmt.Fprintf(&b,
		" ! x264enc tune=zerolatency key-int-max=%d bitrate=%d speed-preset=%s byte-stream=true threads=%d",
		s.Video.KeyframeInterval, s.Video.BitrateKbps, s.Video.SpeedPreset, s.Video.Threads)
	b.WriteString(" ! h264parse config-interval=1")
	b.WriteString(" ! video/x-h264,stream-format=avc,alignment=au")
	b.WriteString(" ! rtph264pay config-interval=1 pt=96 name=pay0")
	return b.String()
}

func (s Spec) audioStages(payload string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "alsasrc device=%s", s.AudioDeviceSpec)
	b.WriteString(" ! queue max-size-time=1000000000")
	b.WriteString(" ! audioconvert ! audioresample")
	b.WriteString(" ! audio/x-raw,format=S16LE,rate=48000,channels=2")
	fmt.Fprintf(&b, " ! voaacenc bitrate=%d", s.Audio.BitrateBps)
	fmt.Fprintf(&b, " ! rtpmp4gpay pt=97 name=%s", payload)
	return b.String()
}
