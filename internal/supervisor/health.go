package supervisor

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/hdmistream/internal/events"
)

// Severity classifies a pipeline runtime message.
type Severity int

// Severities.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityFatal
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityFatal:
		return "fatal"
	default:
		return "info"
	}
}

// fatalMarkers flag resource contention, explicit failure, or impossibility.
// A message carrying one means the pipeline cannot continue and a retry
// without operator intervention will hit the same wall.
var fatalMarkers = []string{
	"resource busy",
	"failed to",
	"cannot",
}

// warningMarkers cover decode and negotiation hiccups the pipeline survives.
var warningMarkers = []string{
	"warning",
	"could not",
	"dropping",
}

// Classify maps a raw pipeline output line to a severity. Matching is
// case-insensitive substring presence; pipeline runtimes do not emit
// structured errors on their message stream.
func Classify(line string) Severity {
	lower := strings.ToLower(line)
	for _, marker := range fatalMarkers {
		if strings.Contains(lower, marker) {
			return SeverityFatal
		}
	}
	for _, marker := range warningMarkers {
		if strings.Contains(lower, marker) {
			return SeverityWarning
		}
	}
	return SeverityInfo
}

// HealthMonitor watches the pipeline's output stream. It logs every line at
// its classified level and raises the fault callback exactly once, on the
// first fatal message.
type HealthMonitor struct {
	logger  *slog.Logger
	bus     *events.Bus
	onFatal func(message string)
	once    sync.Once
}

// NewHealthMonitor creates a monitor. bus may be nil; onFatal must not be.
func NewHealthMonitor(logger *slog.Logger, bus *events.Bus, onFatal func(message string)) *HealthMonitor {
	return &HealthMonitor{logger: logger, bus: bus, onFatal: onFatal}
}

// HandleLine implements process.OutputHandler.
func (m *HealthMonitor) HandleLine(source, line string) {
	severity := Classify(line)
	switch severity {
	case SeverityFatal:
		m.logger.Error("CRITICAL pipeline failure", "source", source, "message", line)
		m.publish(severity, line)
		m.once.Do(func() { m.onFatal(line) })
	case SeverityWarning:
		m.logger.Warn("Pipeline warning", "source", source, "message", line)
		m.publish(severity, line)
	default:
		m.logger.Debug(line, "source", source)
	}
}

func (m *HealthMonitor) publish(severity Severity, line string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.PipelineFaultEvent{
		Severity:  severity.String(),
		Message:   line,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
}
