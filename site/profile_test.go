package site

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinProfilesValidate(t *testing.T) {
	for name, p := range Builtin() {
		assert.NoError(t, p.Validate(), name)
		assert.Equal(t, name, p.Name)
	}
}

func TestLabelURL(t *testing.T) {
	p := Builtin()[Book]

	got, err := p.LabelURL("烈火凤凰")
	require.NoError(t, err)
	assert.Equal(t, "https://book.xbookcn.net/search/label/%E7%83%88%E7%81%AB%E5%87%A4%E5%87%B0?max-results=9999", got)

	_, err = p.LabelURL("   ")
	assert.Error(t, err)
}

func TestListingURLKeepsExistingQuery(t *testing.T) {
	p := Builtin()[Blog]

	got, err := p.ListingURL("https://blog.xbookcn.net/search/label/abc?by-date=false")
	require.NoError(t, err)
	assert.Equal(t, "https://blog.xbookcn.net/search/label/abc?by-date=false&max-results=9999", got)
}

func TestFeedURL(t *testing.T) {
	p := Builtin()[Book]

	got, err := p.FeedURL("novel", 151, 150)
	require.NoError(t, err)
	assert.Equal(t, "https://book.xbookcn.net/feeds/posts/default/-/novel?alt=atom&max-results=150&start-index=151", got)
}

func TestLookup(t *testing.T) {
	p, err := Lookup(Blog, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://blog.xbookcn.net/p/all.html", p.CategoriesURL)

	_, err = Lookup("missing", nil)
	assert.Error(t, err)

	custom := Builtin()[Book]
	custom.Name = ""
	custom.LabelURLTemplate = "http://example.test/label/%s"
	p, err = Lookup("mirror", map[string]Profile{"mirror": custom})
	require.NoError(t, err)
	assert.Equal(t, "mirror", p.Name)
	assert.Equal(t, []string{"book.xbookcn.net", "example.test"}, p.Hosts())
}

func TestValidateRejectsBadTemplate(t *testing.T) {
	p := Builtin()[Book]
	p.LabelURLTemplate = "https://book.xbookcn.net/search/label/"
	assert.ErrorContains(t, p.Validate(), "label url template")

	p = Builtin()[Book]
	p.ContentSelectors = nil
	assert.ErrorContains(t, p.Validate(), "content selector")
}
