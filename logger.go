package nutritionagent

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// TurnLogger records what each stage of a turn consumed and produced.
type TurnLogger interface {
	LogStage(stage StageLog) error
}

// NewTurnLogFilePath returns a file path derived from the backend name so logs from different models are easy to tell apart.
func NewTurnLogFilePath(backend string) string {
	return fmt.Sprintf(
		"./logs/%d.%s.json",
		time.Now().Unix(),
		strings.ReplaceAll(strings.ToLower(backend), ":", "_"),
	)
}

// StageLog represents one stage transition within a turn
type StageLog struct {
	SessionID string    `json:"session_id"`
	Stage     Stage     `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	Duration  string    `json:"duration,omitempty"`
	Input     any       `json:"input,omitempty"`
	Output    any       `json:"output,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// FileTurnLogger accumulates stage logs and flushes them at the end
type FileTurnLogger struct {
	mu     sync.Mutex
	stages []StageLog
	writer io.Writer
}

func NewFileTurnLogger(writer io.Writer) *FileTurnLogger {
	return &FileTurnLogger{
		stages: make([]StageLog, 0),
		writer: writer,
	}
}

func (l *FileTurnLogger) LogStage(stage StageLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stages = append(l.stages, stage)
	return nil
}

// Flush writes all accumulated stage logs to the writer
func (l *FileTurnLogger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer == nil {
		return nil
	}

	data, err := json.MarshalIndent(map[string]any{
		"conversation": map[string]any{
			"timestamp": time.Now(),
			"stages":    l.stages,
		},
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal turn log: %w", err)
	}

	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write turn log: %w", err)
	}

	l.stages = l.stages[:0]
	return nil
}

type NoOpTurnLogger struct{}

func NewNoOpTurnLogger() *NoOpTurnLogger {
	return &NoOpTurnLogger{}
}

func (nop *NoOpTurnLogger) LogStage(stage StageLog) error {
	return nil
}

// StdoutTurnLogger writes each stage as a JSON line (for Lambda/CloudWatch)
type StdoutTurnLogger struct {
	w io.Writer
}

func NewStdoutTurnLogger() *StdoutTurnLogger {
	return &StdoutTurnLogger{w: os.Stdout}
}

func (l *StdoutTurnLogger) LogStage(stage StageLog) error {
	data, err := json.Marshal(stage)
	if err != nil {
		return err
	}
	fmt.Fprintln(l.w, string(data))
	return nil
}
