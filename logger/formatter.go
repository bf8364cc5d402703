package logger

import (
	"bytes"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	resetColorCode         = 0
	defaultFieldSeparator  = " | "
	defaultTimestampFormat = time.RFC3339
)

// LevelNameDisplayMode defines how log level names are displayed.
type LevelNameDisplayMode int

const (
	// ShowAll shows all level names.
	ShowAll LevelNameDisplayMode = iota
	// ShowAboveWarn shows level names for WARN, ERROR, FATAL, PANIC.
	ShowAboveWarn
	// HideAll hides all level names.
	HideAll
)

// Formatter implements logrus.Formatter with ordered scope fields
// (Run, Play, Task, Host) rendered before the message.
type Formatter struct {
	// TimestampFormat specifies the format of the timestamp. Default: time.RFC3339.
	TimestampFormat string
	// NoColors disables colorized output.
	NoColors bool
	// DisableTimestamp disables timestamp output.
	DisableTimestamp bool
	// DisplayLevelName configures which log level names are displayed.
	DisplayLevelName LevelNameDisplayMode
	// FieldsDisplayWithOrder lists field keys to display first, in order.
	// Remaining fields are appended alphabetically.
	FieldsDisplayWithOrder []string
	// FieldSeparator separates fields. Default: " | ".
	FieldSeparator string
	// DisableCaller disables caller information output.
	DisableCaller bool
	// CustomCallerFormatter overrides the default caller rendering.
	CustomCallerFormatter func(*runtime.Frame) string
}

// Format renders a log entry.
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := &bytes.Buffer{}

	if !f.DisableTimestamp {
		format := f.TimestampFormat
		if format == "" {
			format = defaultTimestampFormat
		}
		b.WriteString(entry.Time.Format(format))
		b.WriteString(" ")
	}

	showLevel := false
	switch f.DisplayLevelName {
	case ShowAll:
		showLevel = true
	case ShowAboveWarn:
		showLevel = entry.Level <= logrus.WarnLevel
	case HideAll:
		showLevel = false
	}

	if showLevel {
		if !f.NoColors {
			fmt.Fprintf(b, "\x1b[%dm", colorByLevel(entry.Level))
		}
		level := strings.ToUpper(entry.Level.String())
		if len(level) > 4 {
			level = level[:4]
		}
		fmt.Fprintf(b, "[%s]", level)
		if !f.NoColors {
			fmt.Fprintf(b, "\x1b[%dm", resetColorCode)
		}
		b.WriteString(" ")
	}

	if len(entry.Data) > 0 {
		separator := f.FieldSeparator
		if separator == "" {
			separator = defaultFieldSeparator
		}
		b.WriteString("[")
		f.writeFields(b, entry, separator)
		b.WriteString("] ")
	}

	b.WriteString(entry.Message)

	if !f.DisableCaller && entry.HasCaller() {
		b.WriteString(" ")
		f.writeCaller(b, entry)
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

func (f *Formatter) writeFields(b *bytes.Buffer, entry *logrus.Entry, separator string) {
	written := 0
	inOrder := make(map[string]bool, len(f.FieldsDisplayWithOrder))

	for _, key := range f.FieldsDisplayWithOrder {
		value, ok := entry.Data[key]
		if !ok {
			continue
		}
		if written > 0 {
			b.WriteString(separator)
		}
		fmt.Fprintf(b, "%s:%v", key, value)
		inOrder[key] = true
		written++
	}

	rest := make([]string, 0, len(entry.Data)-written)
	for key := range entry.Data {
		if !inOrder[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)

	for _, key := range rest {
		if written > 0 {
			b.WriteString(separator)
		}
		fmt.Fprintf(b, "%s:%v", key, entry.Data[key])
		written++
	}
}

func (f *Formatter) writeCaller(b *bytes.Buffer, entry *logrus.Entry) {
	if f.CustomCallerFormatter != nil {
		fmt.Fprint(b, f.CustomCallerFormatter(entry.Caller))
		return
	}
	function := filepath.Base(entry.Caller.Function)
	if parts := strings.Split(function, "."); len(parts) > 1 {
		function = parts[len(parts)-1]
	}
	fmt.Fprintf(b, "(%s:%d %s)", filepath.Base(entry.Caller.File), entry.Caller.Line, function)
}

const (
	colorRed    = 31
	colorYellow = 33
	colorBlue   = 36
	colorGray   = 37
)

func colorByLevel(level logrus.Level) int {
	switch level {
	case logrus.TraceLevel:
		return colorGray
	case logrus.DebugLevel:
		return colorBlue
	case logrus.WarnLevel:
		return colorYellow
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return colorRed
	default:
		return colorGray
	}
}
