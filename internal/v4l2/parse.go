package v4l2

import (
	"regexp"
	"strings"
)

// Tokens that identify an HDMI-class capture device in `v4l2-ctl --all`
// output. Resolution matches are advisory; the "Video Capture" marker is not.
var resolutionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)1920.*1080`),
	regexp.MustCompile(`(?i)1280.*720`),
	regexp.MustCompile(`(?i)1920x1080`),
	regexp.MustCompile(`(?i)1280x720`),
	regexp.MustCompile(`(?i)Width/Height.*1920`),
	regexp.MustCompile(`(?i)Width/Height.*1280`),
}

var devNodeRe = regexp.MustCompile(`^/dev/video\d+$`)

// parseCapability extracts capture and resolution facts from --all output.
func parseCapability(out string) Capability {
	cap := Capability{
		HasCapture:         strings.Contains(out, "Video Capture"),
		ExpectedResolution: PresenceAbsent,
	}
	for _, re := range resolutionPatterns {
		if re.MatchString(out) {
			cap.ExpectedResolution = PresenceFound
			break
		}
	}
	return cap
}

// parseDeviceList returns the device nodes indented under a
// "USB Video: USB Video" header in --list-devices output. The block ends at
// the first blank line or the next unindented header.
func parseDeviceList(out string) []string {
	var nodes []string
	inBlock := false
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.Contains(line, "USB Video: USB Video"):
			inBlock = true
		case inBlock && trimmed == "":
			inBlock = false
		case inBlock && !strings.HasPrefix(line, "\t") && !strings.HasPrefix(line, " "):
			inBlock = false
		case inBlock && devNodeRe.MatchString(trimmed):
			nodes = append(nodes, trimmed)
		}
	}
	return nodes
}
