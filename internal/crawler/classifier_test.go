package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLinkClassifier(t *testing.T) {
	t.Parallel()

	links := []Link{
		{URL: "https://example.com/about#team", AnchorText: "About"},
		{URL: "https://other.com/", AnchorText: "Other"},
		{URL: "https://blog.example.com/post", AnchorText: "Blog"},
		{URL: "mailto:hi@example.com", AnchorText: "Mail"},
		{URL: "https://EXAMPLE.com/contact", AnchorText: "Contact", Nofollow: true},
		{URL: "https://notexample.com/", AnchorText: "Lookalike"},
	}

	t.Run("exact host", func(t *testing.T) {
		t.Parallel()
		c := NewLinkClassifier("https://example.com", false)
		internal, external := c.Classify(links)
		require.Equal(t, []Link{
			{URL: "https://example.com/about", AnchorText: "About"},
			{URL: "https://example.com/contact", AnchorText: "Contact", Nofollow: true},
		}, internal)
		require.Len(t, external, 4)
		require.Equal(t, "https://other.com/", external[0].URL)
		require.Equal(t, "mailto:hi@example.com", external[2].URL)
	})

	t.Run("include subdomains", func(t *testing.T) {
		t.Parallel()
		c := NewLinkClassifier("https://example.com", true)
		internal, external := c.Classify(links)
		require.Len(t, internal, 3)
		require.Equal(t, "https://blog.example.com/post", internal[1].URL)
		require.Len(t, external, 3)
		require.False(t, c.IsInternal("https://notexample.com/"))
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()
		internal, external := NewLinkClassifier("https://example.com", false).Classify(nil)
		require.Empty(t, internal)
		require.Empty(t, external)
		require.NotNil(t, external)
	})
}
