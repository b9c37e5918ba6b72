// Package models defines data structures for the scraper.
package models

import "time"

// ChapterRecord is one entry of a novel's catalog.
type ChapterRecord struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// CategoryRecord is a short story category discovered from the site index.
type CategoryRecord struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// StoryRecord is one story listed on a category page.
type StoryRecord struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// DownloadedChapter holds the extracted text of one chapter.
type DownloadedChapter struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// DownloadResult holds the overall result of a download run.
type DownloadResult struct {
	StartTime  time.Time
	EndTime    time.Time
	Total      int
	Succeeded  int
	Failed     int
	FailedURLs []string
	CacheHits  int
}

// Duration reports how long the run took.
func (r *DownloadResult) Duration() time.Duration {
	if r == nil {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}
