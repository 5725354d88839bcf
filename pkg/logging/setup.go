package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	ProjectDirectoryName = "termstore"
	ModuleName           = "github.com/treeverse/termstore"

	callerSearchDepth = 25
)

var (
	reportCallerOnce sync.Once
	defaultLogger    = logrus.New()
)

// Level reports the current level name of the default logger.
func Level() string {
	return defaultLogger.GetLevel().String()
}

// SetLevel sets the default logger level. "none" (or "null") silences it.
// Unknown names are ignored.
func SetLevel(level string) {
	level = strings.ToLower(level)
	if level == "none" || level == "null" {
		defaultLogger.SetLevel(logrus.PanicLevel)
		defaultLogger.SetOutput(io.Discard)
		return
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	defaultLogger.SetLevel(lvl)
}

// SetOutputs routes the default logger to outputs. "-" is stdout, "=" is
// stderr and any other value names a file rotated once it reaches
// fileMaxSizeMB, keeping filesKeep old copies. No outputs keeps the current
// writer.
func SetOutputs(outputs []string, fileMaxSizeMB, filesKeep int) error {
	writers := make([]io.Writer, 0, len(outputs))
	for _, output := range outputs {
		switch output {
		case "":
		case "-":
			writers = append(writers, os.Stdout)
		case "=":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil { //nolint:mnd
				return fmt.Errorf("log output %s: %w", output, err)
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   output,
				MaxSize:    fileMaxSizeMB,
				MaxBackups: filesKeep,
			})
		}
	}
	switch len(writers) {
	case 0:
	case 1:
		defaultLogger.SetOutput(writers[0])
	default:
		defaultLogger.SetOutput(io.MultiWriter(writers...))
	}
	return nil
}

// SetOutputFormat selects "text" or "json" entries. Other names are ignored.
func SetOutputFormat(format string) {
	var next logrus.Formatter
	switch strings.ToLower(format) {
	case "json":
		next = &logrus.JSONFormatter{CallerPrettyfier: logCallerTrimmer}
	case "text":
		next = &logrus.TextFormatter{
			FullTimestamp:          true,
			PadLevelText:           true,
			DisableLevelTruncation: true,
			QuoteEmptyFields:       true,
			CallerPrettyfier:       logCallerTrimmer,
		}
	default:
		return
	}
	defaultLogger.SetFormatter(callerFormatter{next: next})
}

// logCallerTrimmer reports caller file and function relative to the project root.
func logCallerTrimmer(frame *runtime.Frame) (function string, file string) {
	file = frame.File
	if i := strings.Index(strings.ToLower(file), ProjectDirectoryName); i >= 0 {
		file = file[i+len(ProjectDirectoryName):]
	}
	file = strings.TrimPrefix(file, string(os.PathSeparator)) + fmt.Sprintf(":%d", frame.Line)
	function = strings.TrimPrefix(frame.Function, ModuleName+string(os.PathSeparator))
	return function, file
}

// callerFormatter replaces the caller logrus found with the first frame
// outside logrus and this package.
type callerFormatter struct {
	next logrus.Formatter
}

func (f callerFormatter) Format(e *logrus.Entry) ([]byte, error) {
	if e.HasCaller() {
		e.Caller = findCaller()
	}
	return f.next.Format(e)
}

func findCaller() *runtime.Frame {
	pcs := make([]uintptr, callerSearchDepth)
	n := runtime.Callers(3, pcs) //nolint:mnd
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.Function, "sirupsen/logrus") &&
			!strings.HasPrefix(frame.Function, ModuleName+"/pkg/logging.") {
			return &frame
		}
		if !more {
			return nil
		}
	}
}
