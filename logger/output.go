package logger

// Output controls what categories of information are shown at each verbosity level.
//
// Unlike log levels (which filter by severity), output categories control
// WHAT types of information are displayed regardless of severity.
//
// Verbosity Levels:
//
//	0 (default) - User-facing output only: tool results, errors with hints
//	1 (-v)      - + connection lifecycle, change-group lifecycle, startup banner
//	2 (-vv)     - + command timing, retry attempts, config loaded
//	3 (-vvv)    - + wire frames in/out, circuit breaker transitions
//	4 (-vvvv)   - + SQL queries, full tool request/response bodies

// OutputCategory defines a category of output that can be enabled/disabled.
type OutputCategory int

const (
	// Level 0 (default) - Always shown
	OutputResults    OutputCategory = iota // Tool results
	OutputErrors                           // Errors with category and hints
	OutputUserStatus                       // Final connection/tool success-failure status

	// Level 1 (-v) - Informational
	OutputProgress        // Reconnect attempts, retention sweep runs
	OutputStartup         // Startup banner, config summary
	OutputConnectionState // Connected/Disconnected/Error transitions
	OutputChangeGroupLife // Change-group create/destroy/autoPoll start-stop

	// Level 2 (-vv) - Detailed
	OutputTiming       // Command round-trip timing
	OutputConfig       // Config values loaded/applied
	OutputRetry        // Per-command and per-control retry attempts
	OutputPollTicks    // Auto-poll tick summaries (changed count)
	OutputDBStats      // Event store statistics

	// Level 3 (-vvv) - Debug
	OutputWireFrames      // frame:in / frame:out payloads
	OutputCircuitBreaker  // Closed/Open/HalfOpen transitions
	OutputInternalFlow    // Internal operation flow (function entry/exit)

	// Level 4 (-vvvv) - Full dump
	OutputSQLQueries // Full SQL statements executed against the event store
	OutputSQLResults // SQL query result summaries
	OutputToolBody   // Full tool request/response JSON bodies
	OutputDataDump   // Full data structure contents
)

// categoryLevels maps each output category to its minimum verbosity level.
var categoryLevels = map[OutputCategory]int{
	OutputResults:    VerbosityUser,
	OutputErrors:     VerbosityUser,
	OutputUserStatus: VerbosityUser,

	OutputProgress:        VerbosityInfo,
	OutputStartup:         VerbosityInfo,
	OutputConnectionState: VerbosityInfo,
	OutputChangeGroupLife: VerbosityInfo,

	OutputTiming:    VerbosityDebug,
	OutputConfig:    VerbosityDebug,
	OutputRetry:     VerbosityDebug,
	OutputPollTicks: VerbosityDebug,
	OutputDBStats:   VerbosityDebug,

	OutputWireFrames:     VerbosityTrace,
	OutputCircuitBreaker: VerbosityTrace,
	OutputInternalFlow:   VerbosityTrace,

	OutputSQLQueries: VerbosityAll,
	OutputSQLResults: VerbosityAll,
	OutputToolBody:   VerbosityAll,
	OutputDataDump:   VerbosityAll,
}

// ShouldOutput returns true if the given category should be shown at the given verbosity.
func ShouldOutput(verbosity int, category OutputCategory) bool {
	minLevel, ok := categoryLevels[category]
	if !ok {
		return verbosity >= VerbosityAll
	}
	return verbosity >= minLevel
}

var categoryNames = map[OutputCategory]string{
	OutputResults:         "results",
	OutputErrors:          "errors",
	OutputUserStatus:      "status",
	OutputProgress:        "progress",
	OutputStartup:         "startup",
	OutputConnectionState: "connection-state",
	OutputChangeGroupLife: "change-group-lifecycle",
	OutputTiming:          "timing",
	OutputConfig:          "config",
	OutputRetry:           "retry",
	OutputPollTicks:       "poll-ticks",
	OutputDBStats:         "db-stats",
	OutputWireFrames:      "wire-frames",
	OutputCircuitBreaker:  "circuit-breaker",
	OutputInternalFlow:    "internal-flow",
	OutputSQLQueries:      "sql-queries",
	OutputSQLResults:      "sql-results",
	OutputToolBody:        "tool-body",
	OutputDataDump:        "data-dump",
}

// CategoryName returns the human-readable name for an output category.
func CategoryName(category OutputCategory) string {
	if name, ok := categoryNames[category]; ok {
		return name
	}
	return "unknown"
}

// EnabledCategories returns all output categories enabled at the given verbosity.
func EnabledCategories(verbosity int) []OutputCategory {
	var enabled []OutputCategory
	for cat, minLevel := range categoryLevels {
		if verbosity >= minLevel {
			enabled = append(enabled, cat)
		}
	}
	return enabled
}

// VerbosityDescription returns a description of what's shown at each level.
func VerbosityDescription(verbosity int) string {
	switch verbosity {
	case VerbosityUser:
		return "tool results and errors only"
	case VerbosityInfo:
		return "above + connection and change-group lifecycle"
	case VerbosityDebug:
		return "above + command timing, retries, poll ticks"
	case VerbosityTrace:
		return "above + wire frames, circuit breaker transitions"
	case VerbosityAll:
		return "above + SQL queries, full tool bodies"
	default:
		if verbosity > VerbosityAll {
			return "maximum verbosity"
		}
		return "unknown verbosity level"
	}
}

// ShouldShowWireFrames returns true if raw wire frames should be logged.
func ShouldShowWireFrames(verbosity int) bool {
	return ShouldOutput(verbosity, OutputWireFrames)
}

// ShouldShowSQL returns true if event-store SQL statements should be logged.
func ShouldShowSQL(verbosity int) bool {
	return ShouldOutput(verbosity, OutputSQLQueries)
}

// Timing helpers

// SlowThresholdMS is the threshold in milliseconds above which timing is always shown.
const SlowThresholdMS = 100

// ShouldShowTiming returns true if timing info should be displayed.
// Shows if: verbosity >= 2 (-vv) OR the operation exceeded the slow threshold.
func ShouldShowTiming(verbosity int, durationMS int64) bool {
	if durationMS >= SlowThresholdMS {
		return true
	}
	return ShouldOutput(verbosity, OutputTiming)
}

// ShouldShowTimingAlways returns true if timing should always be shown (slow operation).
func ShouldShowTimingAlways(durationMS int64) bool {
	return durationMS >= SlowThresholdMS
}
