package events

// Event type constants for kelindar/event.
const (
	TypeDeviceResolved uint32 = iota + 1
	TypePipelineState
	TypePipelineFault
	TypeDeviceHotplug
)

// Event is the interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// DeviceResolvedEvent is published when the resolver settles on a capture
// device pair.
type DeviceResolvedEvent struct {
	VideoPath  string `json:"video_path" example:"/dev/video2" doc:"Resolved video device node"`
	AudioCard  string `json:"audio_card,omitempty" example:"3" doc:"Paired ALSA card number, empty when video-only"`
	UsbAddress string `json:"usb_address,omitempty" example:"3-8.3.3" doc:"USB bus-port chain of the adapter"`
	Timestamp  string `json:"timestamp" doc:"Resolution timestamp"`
}

// Type returns the event type identifier for DeviceResolvedEvent.
func (e DeviceResolvedEvent) Type() uint32 { return TypeDeviceResolved }

// PipelineStateEvent is published on every supervisor state transition.
type PipelineStateEvent struct {
	From      string `json:"from" example:"starting" doc:"Previous supervisor state"`
	To        string `json:"to" example:"running" doc:"New supervisor state"`
	Timestamp string `json:"timestamp" doc:"Transition timestamp"`
}

// Type returns the event type identifier for PipelineStateEvent.
func (e PipelineStateEvent) Type() uint32 { return TypePipelineState }

// PipelineFaultEvent is published for every classified pipeline message.
// Only Fatal severity causes a supervisor transition.
type PipelineFaultEvent struct {
	Severity  string `json:"severity" example:"fatal" doc:"Classified severity: info, warning, fatal"`
	Message   string `json:"message" doc:"Raw pipeline message text"`
	Timestamp string `json:"timestamp" doc:"Classification timestamp"`
}

// Type returns the event type identifier for PipelineFaultEvent.
func (e PipelineFaultEvent) Type() uint32 { return TypePipelineFault }

// DeviceHotplugEvent is published by the netlink hotplug monitor.
type DeviceHotplugEvent struct {
	Action    string `json:"action" example:"remove" doc:"Kernel uevent action"`
	Subsystem string `json:"subsystem" example:"video4linux" doc:"Device subsystem"`
	DevPath   string `json:"dev_path,omitempty" example:"/dev/video2" doc:"Device node, when known"`
	KObj      string `json:"kobj,omitempty" doc:"Kernel object path"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceHotplugEvent.
func (e DeviceHotplugEvent) Type() uint32 { return TypeDeviceHotplug }
