package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RunLogger keeps a plain-text log for a single extraction pass.
type RunLogger struct {
	passID    string
	logFile   *os.File
	mutex     sync.Mutex
	startTime time.Time
}

var (
	currentLogger *RunLogger
	loggerMutex   sync.Mutex
)

// StartRunLogging opens run_logs/pass_<id>_<timestamp>.log under dir and makes it current.
func StartRunLogging(dir, passID string) (*RunLogger, error) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if currentLogger != nil {
		currentLogger.closeFile()
	}

	if dir == "" {
		dir = "run_logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	logPath := filepath.Join(dir, fmt.Sprintf("pass_%s_%s.log", passID, timestamp))
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger := &RunLogger{
		passID:    passID,
		logFile:   logFile,
		startTime: time.Now(),
	}
	logger.writeHeader()
	currentLogger = logger
	return logger, nil
}

// GetCurrentLogger returns the logger of the running pass, or nil.
func GetCurrentLogger() *RunLogger {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	return currentLogger
}

// PassID returns the identifier the logger was started with.
func (r *RunLogger) PassID() string {
	if r == nil {
		return ""
	}
	return r.passID
}

// Log writes a timestamped line to the pass log and mirrors it at debug level.
func (r *RunLogger) Log(format string, args ...interface{}) {
	if r == nil {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	msg := fmt.Sprintf(format, args...)
	if r.logFile != nil {
		elapsed := time.Since(r.startTime).Round(time.Millisecond)
		fmt.Fprintf(r.logFile, "[%s] [+%v] %s\n", time.Now().Format("15:04:05.000"), elapsed, msg)
	}
	log.Debug().Str("pass_id", r.passID).Msg(msg)
}

// LogSection writes a banner line.
func (r *RunLogger) LogSection(title string) {
	if r == nil {
		return
	}
	separator := strings.Repeat("=", 80)
	r.Log("%s", separator)
	r.Log("= %s", title)
	r.Log("%s", separator)
}

// LogRequest records a model request for an item or batch.
func (r *RunLogger) LogRequest(label, model string, prompt string) {
	if r == nil {
		return
	}
	r.LogSection(fmt.Sprintf("LLM REQUEST - %s", label))
	r.Log("Model: %s", model)
	r.Log("Prompt length: %d characters", len(prompt))
}

// LogResponse records the raw response size and token usage.
func (r *RunLogger) LogResponse(label string, response string, inputTokens, outputTokens int) {
	if r == nil {
		return
	}
	r.LogSection(fmt.Sprintf("LLM RESPONSE - %s", label))
	r.Log("Response length: %d characters (tokens in=%d out=%d)", len(response), inputTokens, outputTokens)
}

// LogError records an error with the place it happened.
func (r *RunLogger) LogError(where string, err error) {
	if r == nil {
		return
	}
	r.Log("ERROR in %s: %v", where, err)
}

// Close writes the trailer, closes the file and clears the current logger.
func (r *RunLogger) Close() {
	if r == nil {
		return
	}

	loggerMutex.Lock()
	if currentLogger == r {
		currentLogger = nil
	}
	loggerMutex.Unlock()

	r.closeFile()
}

func (r *RunLogger) closeFile() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.logFile == nil {
		return
	}
	fmt.Fprintf(r.logFile, "[%s] Pass logging completed. Total duration: %v\n",
		time.Now().Format("15:04:05.000"), time.Since(r.startTime).Round(time.Millisecond))
	r.logFile.Sync()
	r.logFile.Close()
	r.logFile = nil
}

func (r *RunLogger) writeHeader() {
	fmt.Fprintf(r.logFile, "MCPHARVEST EXTRACTION PASS LOG\nPass ID: %s\nStart Time: %s\n%s\n\n",
		r.passID, r.startTime.Format(time.RFC3339), strings.Repeat("=", 80))
}
