// Package logger records script runs in Asciinema v2 format so finished
// runs can be replayed outside the live page.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// AsciinemaHeader represents the header of an Asciinema v2 recording.
type AsciinemaHeader struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Env       map[string]string `json:"env,omitempty"`
}

// AsciinemaEvent is a single output event. Wire format: [offset, "o", data].
type AsciinemaEvent struct {
	TimeOffset float64
	Data       string
}

// MarshalJSON implements custom JSON marshaling for AsciinemaEvent.
func (e AsciinemaEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.TimeOffset, "o", e.Data})
}

// CastRecorder writes one run's terminal output as an Asciinema v2
// JSON-Lines file.
type CastRecorder struct {
	writer    io.Writer
	file      *os.File // only set if we own the file
	startTime time.Time
	mu        sync.Mutex
}

// NewCastRecorder creates a recorder writing to the given file path.
func NewCastRecorder(filePath string) (*CastRecorder, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create cast file: %w", err)
	}

	return &CastRecorder{
		writer:    file,
		file:      file,
		startTime: time.Now(),
	}, nil
}

// NewCastRecorderWithWriter creates a recorder writing to the given writer.
// This is useful for testing.
func NewCastRecorderWithWriter(w io.Writer) *CastRecorder {
	return &CastRecorder{
		writer:    w,
		startTime: time.Now(),
	}
}

// WriteHeader writes the Asciinema v2 header. Call once, before any output.
func (r *CastRecorder) WriteHeader(cols, rows int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	header := AsciinemaHeader{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: r.startTime.Unix(),
		Env:       map[string]string{"TERM": "xterm-256color"},
	}

	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	return nil
}

// WriteOutput appends one output event.
func (r *CastRecorder) WriteOutput(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event := AsciinemaEvent{
		TimeOffset: time.Since(r.startTime).Seconds(),
		Data:       string(data),
	}

	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := r.writer.Write(append(eventData, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// Close closes the underlying file if the recorder owns one.
func (r *CastRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
