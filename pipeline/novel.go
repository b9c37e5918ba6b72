package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aluiziolira/go-scrape-novels/config"
	"github.com/aluiziolira/go-scrape-novels/models"
	"github.com/aluiziolira/go-scrape-novels/parser"
)

// ErrNoChapters is returned by WriteNovel when there is nothing to write.
var ErrNoChapters = errors.New("pipeline: no chapters to write")

// NovelPath returns the primary output file of title under dir for format.
func NovelPath(dir, title, format string) string {
	ext := ".txt"
	if format == config.FormatJSONL {
		ext = ".jsonl"
	}
	return filepath.Join(dir, parser.FileStem(title)+ext)
}

// WriteNovel writes chapters to dir under the sanitized title and returns
// the primary file path. No file is touched when chapters is empty.
func WriteNovel(dir, title string, chapters []models.DownloadedChapter, mode Mode, format string) (string, error) {
	if len(chapters) == 0 {
		return "", ErrNoChapters
	}
	if format == "" {
		format = config.FormatText
	}

	path := NovelPath(dir, title, format)
	writer, err := createWriter(format, path, mode)
	if err != nil {
		return "", err
	}

	if err := writer.Write(chapters); err != nil {
		writer.Close()
		return "", fmt.Errorf("write novel %q: %w", title, err)
	}
	if err := writer.Validate(); err != nil {
		writer.Close()
		return "", fmt.Errorf("validate novel %q: %w", title, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close novel %q: %w", title, err)
	}

	slog.Info("novel written",
		slog.String("path", path),
		slog.String("format", format),
		slog.String("mode", mode.String()),
		slog.Int("chapters", len(chapters)),
	)
	return path, nil
}

func createWriter(format, filename string, mode Mode) (ChapterWriter, error) {
	switch format {
	case config.FormatText:
		return NewTextWriter(filename, mode)
	case config.FormatJSONL:
		return NewJSONWriter(filename, mode)
	case config.FormatDual:
		jsonFilename := filename[:len(filename)-len(filepath.Ext(filename))] + ".jsonl"
		return NewDualWriter(filename, jsonFilename, mode)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
