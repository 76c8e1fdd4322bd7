// Package workfile reads and writes the files a running workflow shares
// with its observers: the step queue, the stdout/stderr logs, and the
// status document. Readers and the writer run in different processes,
// so every open retries with a backoff instead of failing outright.
package workfile

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/agdrone/atlana/pkg/log"
	"github.com/agdrone/atlana/pkg/metrics"
	"github.com/agdrone/atlana/pkg/types"
)

// File names within a workflow's working folder
const (
	QueueFileName    = "queue"
	StdoutFileName   = "messages.txt"
	StderrFileName   = "errors.txt"
	StatusFileName   = "status.json"
	WorkflowFileName = "_workflow"
	ParamsFileName   = "_params"
)

// MaxCachedOutputLines is the number of output lines buffered before
// they are flushed to disk
const MaxCachedOutputLines = 40

// Writer retry tuning. The schedule runs through the fixed backoffs
// first and then falls back to a random interval for the remaining
// attempts.
var (
	WriteRetryCount    = 30
	WriteRetryBackoffs = []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		600 * time.Millisecond,
		700 * time.Millisecond,
	}
	WriteRetryRandMin = 100 * time.Millisecond
	WriteRetryRandMax = 5 * time.Second
)

// Reader retry tuning. Attempts must not exceed the schedule lengths.
var (
	ReadRetryCount     = 3
	StatusReadBackoffs = []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		700 * time.Millisecond,
	}
	MessageReadBackoffs = []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}
)

// PendingStatus is returned when the status file exists but could not
// be read before the retries ran out
var PendingStatus = map[string]any{"status": "Pending..."}

// WriteLines writes lines to a log file, retrying the open when another
// process holds the file. With append false an existing file is
// replaced. A false return without an error means the open never
// succeeded.
func WriteLines(filename string, lines []string, append bool) (bool, error) {
	logger := log.WithComponent("workfile")

	flags := os.O_WRONLY | os.O_CREATE
	if append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	var opened *os.File
	for tryCount := 0; tryCount < WriteRetryCount; tryCount++ {
		f, err := os.OpenFile(filename, flags, 0o644)
		if err == nil {
			opened = f
			break
		}
		logger.Warn().Err(err).Str("file", filename).Msg("failed to open log file, backing off")
		metrics.LogWriteRetries.Inc()

		var sleepTime time.Duration
		if tryCount < len(WriteRetryBackoffs) {
			sleepTime = WriteRetryBackoffs[tryCount]
		} else {
			spread := WriteRetryRandMax - WriteRetryRandMin
			sleepTime = WriteRetryRandMin + time.Duration(rand.Int63n(int64(spread)))
		}
		time.Sleep(sleepTime)
	}

	if opened == nil {
		logger.Error().Str("file", filename).Msg("unable to open log file for writing")
		return false, nil
	}
	defer opened.Close()

	for _, line := range lines {
		if _, err := opened.WriteString(line); err != nil {
			return false, fmt.Errorf("failed to write log file %s: %w", filename, err)
		}
	}

	return true, nil
}

// WriteError appends a message and optional error detail to an error
// log file
func WriteError(filename, message string, cause error) {
	line := message
	if cause != nil {
		line = fmt.Sprintf("%s: %v", message, cause)
	}
	_, _ = WriteLines(filename, []string{line + "\n"}, true)
}

// WriteStatus replaces the status file with the given document. The
// write goes through a temporary file and a rename so readers never see
// a partial document.
func WriteStatus(workingFolder string, status map[string]any) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}

	target := filepath.Join(workingFolder, StatusFileName)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write status file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to replace status file: %w", err)
	}

	return nil
}

// ReadStatus returns the workflow's status document. A missing file
// yields nil (the workflow has not started). A document holding the
// completion key is unwrapped to that key's value. If the file exists
// but stays unreadable through the retries, PendingStatus is returned.
func ReadStatus(workingFolder string) (any, error) {
	statusPath := filepath.Join(workingFolder, StatusFileName)
	if _, err := os.Stat(statusPath); os.IsNotExist(err) {
		return nil, nil
	}

	logger := log.WithComponent("workfile")

	var current map[string]any
	loaded := false
	for attempt := 0; attempt < ReadRetryCount; attempt++ {
		raw, err := os.ReadFile(statusPath)
		if err == nil {
			if err := json.Unmarshal(raw, &current); err == nil {
				loaded = true
				break
			}
			logger.Warn().Str("file", statusPath).Msg("status file holds a partial document, backing off")
		} else {
			logger.Warn().Err(err).Str("file", statusPath).Msg("failed to read status file, backing off")
		}
		time.Sleep(StatusReadBackoffs[attempt])
	}

	if !loaded {
		return PendingStatus, nil
	}

	if completed, ok := current[types.StatusCompleted]; ok {
		return completed, nil
	}
	return current, nil
}

// RunStateFor maps the status document to a coarse run state: no file
// means not started, a running key means still executing, anything else
// means finished
func RunStateFor(workingFolder string) (types.RunState, error) {
	status, err := ReadStatus(workingFolder)
	if err != nil {
		return types.StateNotStarted, err
	}
	if status == nil {
		return types.StateNotStarted, nil
	}

	if doc, ok := status.(map[string]any); ok {
		if _, running := doc[types.StatusRunning]; running {
			return types.StateRunning, nil
		}
	}

	return types.StateFinished, nil
}

// ReadMessages returns the workflow's stdout and stderr lines. A
// missing log yields an empty list for that side, never nil, so the
// result always serialises as a list; an unreadable log stays empty
// after the retries run out.
func ReadMessages(workingFolder string) (messages, errors []string) {
	messages = readLog(filepath.Join(workingFolder, StdoutFileName))
	errors = readLog(filepath.Join(workingFolder, StderrFileName))
	return messages, errors
}

func readLog(filename string) []string {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return []string{}
	}

	logger := log.WithComponent("workfile")

	for attempt := 0; attempt < ReadRetryCount; attempt++ {
		raw, err := os.ReadFile(filename)
		if err == nil {
			return splitLines(string(raw))
		}
		logger.Warn().Err(err).Str("file", filename).Msg("failed to read log file, backing off")
		time.Sleep(MessageReadBackoffs[attempt])
	}

	return []string{}
}

// splitLines breaks text into lines, keeping each line's trailing
// newline the way the log writers produced them
func splitLines(text string) []string {
	if text == "" {
		return []string{}
	}

	var lines []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		lines = append(lines, text[start:])
	}
	return lines
}

// LoadJSONFile decodes a JSON document into out
func LoadJSONFile(filename string, out any) error {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filename, err)
	}
	return nil
}

// SaveJSONFile encodes a document to a JSON file
func SaveJSONFile(filename string, doc any) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filename, err)
	}
	if err := os.WriteFile(filename, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	return nil
}
