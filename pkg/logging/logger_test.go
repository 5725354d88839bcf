package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestSetOutputs(t *testing.T) {
	original := defaultLogger.Out
	t.Cleanup(func() { defaultLogger.SetOutput(original) })

	cases := []struct {
		name    string
		outputs []string
		want    io.Writer
	}{
		{name: "none keeps current", outputs: nil, want: original},
		{name: "empty entries ignored", outputs: []string{""}, want: original},
		{name: "stdout", outputs: []string{"-"}, want: os.Stdout},
		{name: "stderr", outputs: []string{"="}, want: os.Stderr},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			defaultLogger.SetOutput(original)
			if err := SetOutputs(tt.outputs, 0, 0); err != nil {
				t.Fatal(err)
			}
			if defaultLogger.Out != tt.want {
				t.Errorf("output is %T, expected %T", defaultLogger.Out, tt.want)
			}
		})
	}
}

func TestSetLevel(t *testing.T) {
	level := defaultLogger.GetLevel()
	out := defaultLogger.Out
	t.Cleanup(func() {
		defaultLogger.SetLevel(level)
		defaultLogger.SetOutput(out)
	})

	SetLevel("WARNING")
	if got := Level(); got != "warning" {
		t.Errorf("level %s, expected warning", got)
	}
	SetLevel("no-such-level")
	if got := Level(); got != "warning" {
		t.Errorf("unknown level changed level to %s", got)
	}
	SetLevel("none")
	if defaultLogger.Out != io.Discard {
		t.Error("level none should discard output")
	}
}

func TestLogCallerTrimmer(t *testing.T) {
	tests := []struct {
		name             string
		file             string
		function         string
		expectedFile     string
		expectedFunction string
	}{
		{
			name:             "project directory",
			file:             "/home/user/work/termstore/pkg/logging/logger.go",
			function:         "github.com/treeverse/termstore/pkg/logging.TestFunc",
			expectedFile:     "pkg/logging/logger.go",
			expectedFunction: "pkg/logging.TestFunc",
		},
		{
			name:             "uppercase directory",
			file:             "/home/user/work/TermStore/pkg/commit/orchestrator.go",
			function:         "github.com/treeverse/termstore/pkg/commit.Run",
			expectedFile:     "pkg/commit/orchestrator.go",
			expectedFunction: "pkg/commit.Run",
		},
		{
			name:             "outside project",
			file:             "/home/user/other/project/main.go",
			function:         "github.com/other/project.Main",
			expectedFile:     "home/user/other/project/main.go",
			expectedFunction: "github.com/other/project.Main",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := &runtime.Frame{
				File:     tt.file,
				Line:     42,
				Function: tt.function,
			}

			gotFunction, gotFile := logCallerTrimmer(frame)

			expectedFileWithLine := fmt.Sprintf("%s:42", tt.expectedFile)
			if gotFile != expectedFileWithLine {
				t.Errorf("file = %q, want %q", gotFile, expectedFileWithLine)
			}
			if gotFunction != tt.expectedFunction {
				t.Errorf("function = %q, want %q", gotFunction, tt.expectedFunction)
			}
		})
	}
}

func TestContextFields(t *testing.T) {
	var buf bytes.Buffer
	out := defaultLogger.Out
	level := defaultLogger.GetLevel()
	defaultLogger.SetOutput(&buf)
	SetOutputFormat("json")
	SetLevel("info")
	t.Cleanup(func() {
		defaultLogger.SetOutput(out)
		defaultLogger.SetLevel(level)
		SetOutputFormat("text")
	})

	ctx := AddFields(context.Background(), Fields{BranchIDFieldKey: 3})
	inner := AddFields(ctx, Fields{CommitTimeFieldKey: 150})
	FromContext(inner).WithField("took", time.Second).Info("commit done")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse log line %q: %s", buf.String(), err)
	}
	if entry[BranchIDFieldKey] != float64(3) {
		t.Errorf("%s = %v, expected 3", BranchIDFieldKey, entry[BranchIDFieldKey])
	}
	if entry[CommitTimeFieldKey] != float64(150) {
		t.Errorf("%s = %v, expected 150", CommitTimeFieldKey, entry[CommitTimeFieldKey])
	}
	if entry["msg"] != "commit done" {
		t.Errorf("msg = %v, expected 'commit done'", entry["msg"])
	}

	// outer context must not see fields added to inner
	if _, ok := ctx.Value(LogFieldsContextKey).(Fields)[CommitTimeFieldKey]; ok {
		t.Errorf("AddFields modified the parent context fields")
	}
}

func TestSetOutputsFile(t *testing.T) {
	out := defaultLogger.Out
	t.Cleanup(func() { defaultLogger.SetOutput(out) })

	logFile := filepath.Join(t.TempDir(), "termstore.log")
	if err := SetOutputs([]string{logFile}, 1, 1); err != nil {
		t.Fatal(err)
	}
	const content = "hello log"
	if _, err := defaultLogger.Out.Write([]byte(content)); err != nil {
		t.Fatal("write to log file", err)
	}
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal("read log file", err)
	}
	if string(data) != content {
		t.Fatalf("log content '%s', expected '%s'", string(data), content)
	}
}
