package debug

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (calibration result, commands)
	LevelLive    = 2 // Live info (edges found, moves started/finished)
	LevelVerbose = 3 // Verbose (config details, per-interval data)
	LevelTrace   = 4 // Trace (GPIO, very low level)
)

var (
	level  int
	logger = newLogger()
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.TraceLevel)
	l.SetFormatter(&logrus.TextFormatter{})
	return l
}

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (calibration result, commands)
// 2 = live info (edges, movements)
// 3 = verbose (configuration, intervals)
// 4 = trace (GPIO, very low level)
//
// Filtering happens on the debug level; the underlying logrus logger always
// accepts everything it is given.
func Init(debugLevel int) {
	level = debugLevel
}

// Level returns the current debug level.
func Level() int {
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return level >= minLevel
}

// SetOutput redirects log output (default: stderr).
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetFormatter replaces the logrus formatter.
func SetFormatter(f logrus.Formatter) {
	logger.SetFormatter(f)
}

// AddHook registers a logrus hook, e.g. to forward entries to web clients.
func AddHook(h logrus.Hook) {
	logger.AddHook(h)
}

// Logger exposes the underlying logger for libraries that take a
// logrus.FieldLogger (HTTP request logging).
func Logger() *logrus.Logger {
	return logger
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if level >= LevelInfo {
		logger.Infof(format, args...)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if level >= LevelInfo {
		logger.Info("═══════════════════════════════════════")
		logger.Infof("  %s", title)
		logger.Info("═══════════════════════════════════════")
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if level >= LevelInfo {
		logger.WithField(name, value).Info("value")
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if level >= LevelLive {
		logger.WithField("stage", "live").Debugf(format, args...)
	}
}

// Move prints a motor movement (level 2).
func Move(steps uint32, stepsPerRev uint32) {
	if level >= LevelLive {
		logger.WithFields(logrus.Fields{
			"steps":       steps,
			"stepsPerRev": stepsPerRev,
		}).Debug("motor: moving")
	}
}

// Edge prints a detected falling edge (level 2).
func Edge(n int, step uint32) {
	if level >= LevelLive {
		logger.WithFields(logrus.Fields{
			"edge": n,
			"step": step,
		}).Debug("sensor: falling edge")
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose {
		logger.WithField("stage", "verbose").Debugf(format, args...)
	}
}

// Printf is an alias for Verbose.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if level >= LevelVerbose {
		logger.WithField("stage", "verbose").Debugf("%s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if level >= LevelVerbose {
		logger.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		logger.Debugf("  %s", name)
		logger.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if level >= LevelVerbose {
		logger.WithField("stage", "verbose").Debugf("Step %d: %s", num, description)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO).
func Trace(format string, args ...interface{}) {
	if level >= LevelTrace {
		logger.Tracef(format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if level >= LevelTrace {
		logger.WithFields(logrus.Fields{
			"pin":   pin,
			"value": value,
		}).Trace("gpio: " + operation)
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if level >= LevelInfo {
		logger.WithError(err).Error("error")
	}
}

// Fmt is a helper function that returns a formatted string
// only if debug is enabled (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if level > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
