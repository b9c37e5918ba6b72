package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aluiziolira/go-scrape-novels/models"
	"github.com/aluiziolira/go-scrape-novels/parser"
)

// CategoriesFile is the file name of the persisted category list.
const CategoriesFile = "short_story_categories.json"

// Path returns where the catalog of name is stored under dir.
func Path(dir, name string) string {
	return filepath.Join(dir, parser.FileStem(name)+"_chapters.json")
}

// Save writes records as indented UTF-8 JSON, replacing any previous catalog.
func Save(dir, name string, records []models.ChapterRecord) (string, error) {
	path := Path(dir, name)
	if err := writeJSON(path, records); err != nil {
		return "", fmt.Errorf("save catalog: %w", err)
	}
	return path, nil
}

// Load reads a catalog written by Save and checks that its ids are dense
// and 1-based.
func Load(dir, name string) ([]models.ChapterRecord, error) {
	path := Path(dir, name)

	var records []models.ChapterRecord
	if err := readJSON(path, &records); err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyCatalog)
	}
	for i, r := range records {
		if r.ID != i+1 {
			return nil, fmt.Errorf("%s: chapter %d has id %d, ids must be contiguous from 1", path, i+1, r.ID)
		}
		if err := parser.ValidateChapter(r); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return records, nil
}

// CategoriesPath returns where the category list is stored under dir.
func CategoriesPath(dir string) string {
	return filepath.Join(dir, CategoriesFile)
}

// SaveCategories writes the category list, replacing any previous one.
func SaveCategories(dir string, categories []models.CategoryRecord) (string, error) {
	path := CategoriesPath(dir)
	if err := writeJSON(path, categories); err != nil {
		return "", fmt.Errorf("save categories: %w", err)
	}
	return path, nil
}

// LoadCategories reads the category list written by SaveCategories.
func LoadCategories(dir string) ([]models.CategoryRecord, error) {
	var categories []models.CategoryRecord
	if err := readJSON(CategoriesPath(dir), &categories); err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	if len(categories) == 0 {
		return nil, ErrNoCategories
	}
	return categories, nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", filepath.Dir(path), err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
