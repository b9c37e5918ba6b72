// Package site describes the page structure of the supported source sites.
package site

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Profile holds the structural parameters that distinguish one source site
// from another: URL templates, selectors and navigation markers.
type Profile struct {
	Name               string   `json:"name" yaml:"name"`
	LabelURLTemplate   string   `json:"label_url_template,omitempty" yaml:"label_url_template,omitempty"`
	FeedURLTemplate    string   `json:"feed_url_template,omitempty" yaml:"feed_url_template,omitempty"`
	CategoriesURL      string   `json:"categories_url,omitempty" yaml:"categories_url,omitempty"`
	MaxResults         int      `json:"max_results" yaml:"max_results"`
	FeedPageSize       int      `json:"feed_page_size" yaml:"feed_page_size"`
	ListingSelector    string   `json:"listing_selector" yaml:"listing_selector"`
	IndexSelector      string   `json:"index_selector" yaml:"index_selector"`
	IndexTitleSelector string   `json:"index_title_selector" yaml:"index_title_selector"`
	CategoriesSelector string   `json:"categories_selector" yaml:"categories_selector"`
	ContentSelectors   []string `json:"content_selectors" yaml:"content_selectors"`
	ListingMarkers     []string `json:"listing_markers" yaml:"listing_markers"`
	BodyNavMarkers     []string `json:"body_nav_markers" yaml:"body_nav_markers"`
}

const (
	// Book is the long-form novel site, one label per novel.
	Book = "book"
	// Blog is the short story site, grouped into categories.
	Blog = "blog"
)

// Builtin returns fresh copies of the built-in profiles keyed by name.
func Builtin() map[string]Profile {
	markers := func() []string { return []string{"下一页", "主页"} }
	nav := func() []string { return []string{"上一页", "下一页"} }

	return map[string]Profile{
		Book: {
			Name:               Book,
			LabelURLTemplate:   "https://book.xbookcn.net/search/label/%s",
			FeedURLTemplate:    "https://book.xbookcn.net/feeds/posts/default/-/%s",
			MaxResults:         9999,
			FeedPageSize:       150,
			ListingSelector:    "h3",
			IndexSelector:      "div#list",
			IndexTitleSelector: "h1",
			CategoriesSelector: "div.post-body",
			ContentSelectors:   []string{"div.post-body", `div[itemprop="description articleBody"]`},
			ListingMarkers:     markers(),
			BodyNavMarkers:     nav(),
		},
		Blog: {
			Name:               Blog,
			LabelURLTemplate:   "https://blog.xbookcn.net/search/label/%s",
			FeedURLTemplate:    "https://blog.xbookcn.net/feeds/posts/default/-/%s",
			CategoriesURL:      "https://blog.xbookcn.net/p/all.html",
			MaxResults:         9999,
			FeedPageSize:       150,
			ListingSelector:    "h3",
			IndexSelector:      "div#list",
			IndexTitleSelector: "h1",
			CategoriesSelector: "div.post-body",
			ContentSelectors:   []string{"div.post-body"},
			ListingMarkers:     markers(),
			BodyNavMarkers:     nav(),
		},
	}
}

// Lookup resolves a profile by name, preferring overrides over built-ins.
func Lookup(name string, overrides map[string]Profile) (Profile, error) {
	if p, ok := overrides[name]; ok {
		if p.Name == "" {
			p.Name = name
		}
		return p, p.Validate()
	}
	if p, ok := Builtin()[name]; ok {
		return p, nil
	}
	return Profile{}, fmt.Errorf("unknown site profile %q", name)
}

// Validate checks that the profile can drive every extraction mode it names.
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("site profile name cannot be empty")
	}
	if p.MaxResults <= 0 {
		return fmt.Errorf("site %s: max results must be positive", p.Name)
	}
	if p.ListingSelector == "" {
		return fmt.Errorf("site %s: listing selector cannot be empty", p.Name)
	}
	if len(p.ContentSelectors) == 0 {
		return fmt.Errorf("site %s: at least one content selector is required", p.Name)
	}
	for field, tmpl := range map[string]string{"label": p.LabelURLTemplate, "feed": p.FeedURLTemplate} {
		if tmpl != "" && strings.Count(tmpl, "%s") != 1 {
			return fmt.Errorf("site %s: %s url template must contain exactly one %%s", p.Name, field)
		}
	}
	return nil
}

// LabelURL builds the listing URL of every post tagged with label.
func (p Profile) LabelURL(label string) (string, error) {
	if p.LabelURLTemplate == "" {
		return "", fmt.Errorf("site %s has no label url template", p.Name)
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return "", fmt.Errorf("label cannot be empty")
	}
	return p.ListingURL(fmt.Sprintf(p.LabelURLTemplate, url.PathEscape(label)))
}

// ListingURL asks the listing at rawURL to return all results on one page.
func (p Profile) ListingURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse listing url: %w", err)
	}
	q := u.Query()
	q.Set("max-results", strconv.Itoa(p.MaxResults))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FeedURL builds one page of the Atom feed for label. start is 1-based.
func (p Profile) FeedURL(label string, start, size int) (string, error) {
	if p.FeedURLTemplate == "" {
		return "", fmt.Errorf("site %s has no feed url template", p.Name)
	}
	u, err := url.Parse(fmt.Sprintf(p.FeedURLTemplate, url.PathEscape(strings.TrimSpace(label))))
	if err != nil {
		return "", fmt.Errorf("parse feed url: %w", err)
	}
	q := u.Query()
	q.Set("alt", "atom")
	q.Set("start-index", strconv.Itoa(start))
	q.Set("max-results", strconv.Itoa(size))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Hosts lists the hostnames the profile fetches from.
func (p Profile) Hosts() []string {
	seen := make(map[string]struct{})
	for _, raw := range []string{p.LabelURLTemplate, p.FeedURLTemplate, p.CategoriesURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(strings.ReplaceAll(raw, "%s", "x"))
		if err != nil || u.Hostname() == "" {
			continue
		}
		seen[u.Hostname()] = struct{}{}
	}
	hosts := make([]string, 0, len(seen))
	for h := range seen {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}
