package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aluiziolira/go-scrape-novels/models"
)

// Mode selects whether an existing novel file is replaced or extended.
type Mode int

const (
	// ModeOverwrite truncates the file before writing.
	ModeOverwrite Mode = iota
	// ModeAppend adds to the end of the file, creating it if missing.
	ModeAppend
)

func (m Mode) String() string {
	if m == ModeAppend {
		return "append"
	}
	return "overwrite"
}

// ChapterWriter defines the interface for novel output.
type ChapterWriter interface {
	Write(chapters []models.DownloadedChapter) error
	Close() error
	Validate() error
}

// TextWriter writes chapters as "# title" blocks of plain text.
type TextWriter struct {
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

// NewTextWriter opens filename for mode.
func NewTextWriter(filename string, mode Mode) (*TextWriter, error) {
	f, err := openOutput(filename, mode)
	if err != nil {
		return nil, fmt.Errorf("create text file: %w", err)
	}
	return &TextWriter{
		file:   f,
		writer: bufio.NewWriter(f),
	}, nil
}

// Write appends chapters in the order given.
func (tw *TextWriter) Write(chapters []models.DownloadedChapter) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	for _, ch := range chapters {
		if _, err := fmt.Fprintf(tw.writer, "# %s\n\n%s\n\n", ch.Title, ch.Content); err != nil {
			return fmt.Errorf("write chapter %q: %w", ch.Title, err)
		}
	}
	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("flush text writer: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (tw *TextWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("flush text writer: %w", err)
	}
	return tw.file.Close()
}

// Validate ensures the text file has content.
func (tw *TextWriter) Validate() error {
	return validateFile(tw.file, "text")
}

// JSONWriter writes newline-delimited JSON chapters.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter opens filename for mode.
func NewJSONWriter(filename string, mode Mode) (*JSONWriter, error) {
	f, err := openOutput(filename, mode)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: encoder,
	}, nil
}

// Write appends chapters in JSONL format.
func (jw *JSONWriter) Write(chapters []models.DownloadedChapter) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, ch := range chapters {
		if err := jw.encoder.Encode(ch); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}
	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	return validateFile(jw.file, "json")
}

func openOutput(filename string, mode Mode) (*os.File, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	flags := os.O_CREATE | os.O_WRONLY
	if mode == ModeAppend {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	return os.OpenFile(filename, flags, 0o644)
}

func validateFile(f *os.File, kind string) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s file: %w", kind, err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("%s file is empty", kind)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
