package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/hdmistream/internal/events"
	"github.com/smazurov/hdmistream/internal/logging"
	"github.com/smazurov/hdmistream/internal/resolver"
)

// StatusBody is the supervisor snapshot returned by /api/status.
type StatusBody struct {
	State      string `json:"state" example:"running" doc:"Supervisor lifecycle state"`
	Mode       string `json:"mode,omitempty" example:"video+audio" doc:"Pipeline mode of the current run"`
	CodecPath  string `json:"codec_path,omitempty" example:"mjpeg-passthrough" doc:"Video decode strategy"`
	VideoPath  string `json:"video_path,omitempty" example:"/dev/video0"`
	AudioCard  int    `json:"audio_card" example:"1" doc:"ALSA card index, -1 when video-only"`
	UsbAddress string `json:"usb_address,omitempty" example:"1-2.1"`
}

// StatusOutput wraps the status body.
type StatusOutput struct {
	Body StatusBody
}

// LogsOutput returns the in-memory log ring buffer.
type LogsOutput struct {
	Body struct {
		Entries []logging.LogEntry `json:"entries"`
		Count   int                `json:"count" doc:"Number of entries returned"`
	}
}

func (s *Server) registerStatusRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Supervisor status",
		Tags:        []string{"status"},
	}, func(ctx context.Context, _ *struct{}) (*StatusOutput, error) {
		resolved := s.sup.Resolved()
		spec := s.sup.Spec()

		out := &StatusOutput{}
		out.Body = StatusBody{
			State:      s.sup.State().String(),
			Mode:       string(spec.Mode),
			CodecPath:  string(spec.VideoCodecPath),
			VideoPath:  resolved.VideoPath,
			AudioCard:  resolved.AudioCard,
			UsbAddress: resolved.UsbAddress,
		}
		if resolved == (resolver.Resolved{}) {
			out.Body.AudioCard = resolver.NoAudioCard
		}
		return out, nil
	})
}

// DeviceBody describes the resolved capture hardware.
type DeviceBody struct {
	Resolved   bool   `json:"resolved" doc:"Whether a device resolution has completed"`
	VideoPath  string `json:"video_path,omitempty" example:"/dev/video0"`
	UsbAddress string `json:"usb_address,omitempty" example:"1-2.1"`
	AudioCard  int    `json:"audio_card" example:"1" doc:"ALSA card index, -1 when video-only"`
	HasAudio   bool   `json:"has_audio"`
}

// DeviceOutput wraps the device body.
type DeviceOutput struct {
	Body DeviceBody
}

func (s *Server) registerDeviceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-device",
		Method:      http.MethodGet,
		Path:        "/api/device",
		Summary:     "Resolved capture device",
		Tags:        []string{"status"},
	}, func(ctx context.Context, _ *struct{}) (*DeviceOutput, error) {
		resolved := s.sup.Resolved()

		out := &DeviceOutput{}
		out.Body = DeviceBody{
			Resolved:   resolved != (resolver.Resolved{}),
			VideoPath:  resolved.VideoPath,
			UsbAddress: resolved.UsbAddress,
			AudioCard:  resolved.AudioCard,
			HasAudio:   resolved.HasAudio(),
		}
		if !out.Body.Resolved {
			out.Body.AudioCard = resolver.NoAudioCard
			out.Body.HasAudio = false
		}
		return out, nil
	})
}

func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent logs",
		Description: "Returns the contents of the in-memory log ring buffer.",
		Tags:        []string{"logs"},
	}, func(ctx context.Context, _ *struct{}) (*LogsOutput, error) {
		out := &LogsOutput{}
		if buffer := logging.GetBuffer(); buffer != nil {
			out.Body.Entries = buffer.ReadAll()
		}
		out.Body.Count = len(out.Body.Entries)
		return out, nil
	})
}

func (s *Server) registerEventRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Event stream",
		Description: "Real-time supervisor, fault, and hotplug events via Server-Sent Events.",
		Tags:        []string{"events"},
	}, map[string]any{
		"state":   events.PipelineStateEvent{},
		"fault":   events.PipelineFaultEvent{},
		"hotplug": events.DeviceHotplugEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		stateCh := make(chan any, 16)
		faultCh := make(chan any, 16)
		hotplugCh := make(chan any, 16)

		defer events.SubscribeToChannel[events.PipelineStateEvent](s.bus, stateCh)()
		defer events.SubscribeToChannel[events.PipelineFaultEvent](s.bus, faultCh)()
		defer events.SubscribeToChannel[events.DeviceHotplugEvent](s.bus, hotplugCh)()

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-stateCh:
				if err := send.Data(event); err != nil {
					return
				}
			case event := <-faultCh:
				if err := send.Data(event); err != nil {
					return
				}
			case event := <-hotplugCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
