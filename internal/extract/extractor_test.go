package extract

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-audit-crawler/internal/crawler"
)

const samplePage = `<!doctype html>
<html lang="en-GB">
<head>
  <title>  Example Home  </title>
  <meta name="description" content="The example home page">
  <meta name="keywords" content="seo, audit,, crawler ,">
  <meta name="robots" content="index,follow">
  <meta property="og:title" content="OG Home">
  <meta property="og:description" content="OG description">
  <meta property="og:image" content="https://example.com/og.png">
  <meta name="twitter:title" content="TW Home">
  <meta name="twitter:description" content="TW description">
  <meta name="twitter:image" content="https://example.com/tw.png">
  <link rel="canonical" href="https://example.com/">
  <script type="application/ld+json">{"@type":"Organization","name":"Example"}</script>
  <style>.hidden { display: none }</style>
</head>
<body>
  <h1> Welcome </h1>
  <h2>First</h2><h2>Second</h2>
  <h3>Deep</h3>
  <p>Some visible words here.</p>
  <a href="/about#team">About us</a>
  <a href="https://other.com/page" rel="nofollow noopener">Partner</a>
  <a href="mailto:hi@example.com">Mail</a>
  <a href="http://[::1]:namedport">Broken</a>
  <a href="">Empty</a>
  <img src="/logo.png" alt="Logo" width="120" height="40px">
  <img src="banner.jpg">
  <img src="http://[::1]:bad/x.png" alt="broken">
  <script>var ignored = "these words are not visible";</script>
</body>
</html>`

func TestExtractFields(t *testing.T) {
	t.Parallel()

	fields, err := New(nil).Extract("https://example.com/dir/index.html", []byte(samplePage), true)
	require.NoError(t, err)

	require.Equal(t, "Example Home", fields.Title)
	require.Equal(t, "The example home page", fields.MetaDescription)
	require.Equal(t, []string{"seo", "audit", "crawler"}, fields.MetaKeywords)
	require.Equal(t, []string{"Welcome"}, fields.H1)
	require.Equal(t, []string{"First", "Second"}, fields.H2)
	require.Equal(t, []string{"Deep"}, fields.H3)
	require.Empty(t, fields.H4)
	require.NotNil(t, fields.H6)
	require.Equal(t, "https://example.com/", fields.CanonicalURL)
	require.Equal(t, "index,follow", fields.RobotsMeta)
	require.Equal(t, "en-GB", fields.Language)
	require.Equal(t, []string{`{"@type":"Organization","name":"Example"}`}, fields.SchemaMarkup)
	require.Equal(t, crawler.SocialMeta{
		OGTitle:            "OG Home",
		OGDescription:      "OG description",
		OGImage:            "https://example.com/og.png",
		TwitterTitle:       "TW Home",
		TwitterDescription: "TW description",
		TwitterImage:       "https://example.com/tw.png",
	}, fields.SocialMeta)

	require.Equal(t, []crawler.Link{
		{URL: "https://example.com/about", AnchorText: "About us"},
		{URL: "https://other.com/page", AnchorText: "Partner", Nofollow: true},
		{URL: "mailto:hi@example.com", AnchorText: "Mail"},
	}, fields.Links)

	require.Len(t, fields.Images, 2)
	require.Equal(t, "https://example.com/logo.png", fields.Images[0].Src)
	require.Equal(t, "Logo", fields.Images[0].Alt)
	require.Equal(t, 120, *fields.Images[0].Width)
	require.Equal(t, 40, *fields.Images[0].Height)
	require.Equal(t, "https://example.com/dir/banner.jpg", fields.Images[1].Src)
	require.Empty(t, fields.Images[1].Alt)
	require.Nil(t, fields.Images[1].Width)

	require.Equal(t, 2, fields.SkippedElements, "one bad link and one bad image")
}

func TestExtractWordCountIgnoresScriptsAndStyles(t *testing.T) {
	t.Parallel()

	body := `<html><head><title>T</title></head><body>
	<p>one two   three</p>
	<div>four
	five</div>
	<script>six seven</script><style>p{}</style><noscript>eight</noscript>
	</body></html>`
	fields, err := New(nil).Extract("https://example.com/", []byte(body), false)
	require.NoError(t, err)
	require.Equal(t, 5, fields.WordCount)
}

func TestExtractSkipsImagesWhenDisabled(t *testing.T) {
	t.Parallel()

	fields, err := New(nil).Extract("https://example.com/", []byte(`<body><img src="/a.png"></body>`), false)
	require.NoError(t, err)
	require.Empty(t, fields.Images)
	require.NotNil(t, fields.Images)
}

func TestExtractEmptyDocument(t *testing.T) {
	t.Parallel()

	fields, err := New(nil).Extract("https://example.com/", nil, true)
	require.NoError(t, err)
	require.Empty(t, fields.Title)
	require.Zero(t, fields.WordCount)
	require.Empty(t, fields.Links)
	require.Empty(t, fields.MetaKeywords)
}

func TestExtractRejectsBadPageURL(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Extract("http://%zz", []byte("<html></html>"), true)
	require.Error(t, err)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://example.com/a/b")
	require.NoError(t, err)

	ok := Resolve(base, "link", " ../c?x=1#frag ")
	require.True(t, ok.OK())
	require.Equal(t, "https://example.com/c?x=1", ok.Value)

	bad := Resolve(base, "image", "http://[::1]:port")
	require.False(t, bad.OK())
	var extractionErr *crawler.ExtractionError
	require.ErrorAs(t, bad.Err, &extractionErr)
	require.Equal(t, "image", extractionErr.Element)
}
