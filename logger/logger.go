package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"

	"github.com/mensylisir/xmplay/common"
)

// Log is the global logger instance.
var Log *PlayLog

func init() {
	// A console-only logger is always available; Init replaces it when the
	// CLI has parsed its flags.
	_ = Init("", false)
}

// PlayLog wraps logrus.Logger for engine-wide structured logging.
type PlayLog struct {
	*logrus.Logger
}

var scopeFieldOrder = []string{
	common.LogFieldRun, common.LogFieldPlay, common.LogFieldTask, common.LogFieldHost,
}

// Init initializes the global Log. When outputDir is non-empty, log lines are
// written to a daily-rotated file under it instead of the console.
func Init(outputDir string, verbose bool) error {
	l := logrus.New()

	level := logrus.InfoLevel
	displayLevel := ShowAboveWarn
	if verbose {
		level = logrus.DebugLevel
		displayLevel = ShowAll
	}
	l.SetLevel(level)

	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return fmt.Errorf("failed to create log output directory %s: %w", outputDir, err)
		}
		logFilePath := filepath.Join(outputDir, common.AppName+".log")

		writer, err := rotatelogs.New(
			logFilePath+".%Y%m%d", // daily rotation
			rotatelogs.WithLinkName(logFilePath),
			rotatelogs.WithMaxAge(7*24*time.Hour),
			rotatelogs.WithRotationTime(24*time.Hour),
		)
		if err != nil {
			return fmt.Errorf("failed to initialize rotatelogs for %s: %w", logFilePath, err)
		}

		l.SetReportCaller(true)
		fileFormatter := &Formatter{
			TimestampFormat:        "2006-01-02 15:04:05.000 MST",
			NoColors:               true,
			DisplayLevelName:       displayLevel,
			FieldsDisplayWithOrder: scopeFieldOrder,
			CustomCallerFormatter: func(frame *runtime.Frame) string {
				return fmt.Sprintf(" [%s:%d]", filepath.Base(frame.File), frame.Line)
			},
		}
		l.SetFormatter(fileFormatter)

		writers := lfshook.WriterMap{}
		for _, lvl := range logrus.AllLevels {
			if l.IsLevelEnabled(lvl) {
				writers[lvl] = writer
			}
		}
		l.Hooks.Add(lfshook.NewHook(writers, fileFormatter))
		// The hook owns the file output; the default stream would double-write.
		l.SetOutput(io.Discard)
	} else {
		l.SetFormatter(&Formatter{
			TimestampFormat:        "15:04:05",
			DisplayLevelName:       displayLevel,
			DisableCaller:          true,
			FieldsDisplayWithOrder: scopeFieldOrder,
		})
		l.SetOutput(os.Stdout)
	}

	Log = &PlayLog{Logger: l}
	return nil
}

// ForRun returns an entry scoped to a run ID.
func (pl *PlayLog) ForRun(runID string) *logrus.Entry {
	return pl.WithField(common.LogFieldRun, runID)
}
