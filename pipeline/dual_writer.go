package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aluiziolira/go-scrape-novels/models"
)

// DualWriter writes the text and JSONL renditions of a novel side by side.
type DualWriter struct {
	textWriter *TextWriter
	jsonWriter *JSONWriter
	mu         sync.Mutex
}

// NewDualWriter opens both output files for mode.
func NewDualWriter(textFilename, jsonFilename string, mode Mode) (*DualWriter, error) {
	textWriter, err := NewTextWriter(textFilename, mode)
	if err != nil {
		return nil, err
	}

	jsonWriter, err := NewJSONWriter(jsonFilename, mode)
	if err != nil {
		textWriter.Close()
		return nil, err
	}

	return &DualWriter{
		textWriter: textWriter,
		jsonWriter: jsonWriter,
	}, nil
}

// Write writes chapters to both files.
func (dw *DualWriter) Write(chapters []models.DownloadedChapter) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.textWriter.Write(chapters); err != nil {
		return fmt.Errorf("text write failed: %w", err)
	}
	if err := dw.jsonWriter.Write(chapters); err != nil {
		return fmt.Errorf("json write failed: %w", err)
	}
	return nil
}

// Close closes both writers.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	var errs []error
	if err := dw.textWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("text close failed: %w", err))
	}
	if err := dw.jsonWriter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("json close failed: %w", err))
	}
	return errors.Join(errs...)
}

// Validate validates both output files.
func (dw *DualWriter) Validate() error {
	var errs []error
	if err := dw.textWriter.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := dw.jsonWriter.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
