package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitHeadline(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want Headline
	}{
		{"three parts", "Jane Doe - Partner - Acme Capital | LinkedIn", Headline{"Jane Doe", "Partner", "Acme Capital"}},
		{"middle parts joined", "Jane Doe - Partner - Head of Credit - Acme", Headline{"Jane Doe", "Partner - Head of Credit", "Acme"}},
		{"title at company", "Jane Doe - Partner at Acme Capital", Headline{"Jane Doe", "Partner", "Acme Capital"}},
		{"title only", "Jane Doe - Investor", Headline{Name: "Jane Doe", Title: "Investor"}},
		{"name only", "Jane Doe | LinkedIn", Headline{Name: "Jane Doe"}},
		{"pipe fallback", "Jane Doe | Partner | Acme", Headline{"Jane Doe", "Partner", "Acme"}},
		{"long suffix", "Jane Doe - Partner - Acme | Professional Profile | LinkedIn", Headline{"Jane Doe", "Partner", "Acme"}},
		{"profile suffix", "Jane Doe - Partner - Acme | LinkedIn Profile", Headline{"Jane Doe", "Partner", "Acme"}},
		{"nbsp and runs", "Jane\u00a0Doe  -   Partner -\tAcme", Headline{"Jane Doe", "Partner", "Acme"}},
		{"blank", "   ", Headline{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, SplitHeadline(tc.in))
		})
	}
}

func TestExtract_OGTitle(t *testing.T) {
	t.Parallel()

	body := `<html><head>
<meta property="og:title" content="Jane Doe - Senior Engineer - Globex | LinkedIn">
<meta name="twitter:title" content="Other - Ignored - Corp">
</head></html>`
	res := Extract([]byte(body))
	require.True(t, res.IsFound())
	assert.Equal(t, Headline{"Jane Doe", "Senior Engineer", "Globex"}, res.Headline)
}

func TestExtract_TwitterTitleFillsMissingTitle(t *testing.T) {
	t.Parallel()

	body := `<html><head>
<meta property="og:title" content="Jane Doe">
<meta property="twitter:title" content="J. Doe - Partner - Acme">
</head></html>`
	res := Extract([]byte(body))
	require.True(t, res.IsFound())
	assert.Equal(t, Headline{"Jane Doe", "Partner", "Acme"}, res.Headline)
}

func TestExtract_DescriptionRequiresDash(t *testing.T) {
	t.Parallel()

	withDash := `<html><head><meta name="description" content="Jane Doe - Analyst - Initech"></head></html>`
	res := Extract([]byte(withDash))
	require.True(t, res.IsFound())
	assert.Equal(t, Headline{"Jane Doe", "Analyst", "Initech"}, res.Headline)

	withoutDash := `<html><head><meta name="description" content="Experienced analyst at Initech"></head></html>`
	res = Extract([]byte(withoutDash))
	assert.False(t, res.IsFound())
	assert.Equal(t, ReasonNoHeadline, res.Reason)
}

func TestExtract_TwitterDescription(t *testing.T) {
	t.Parallel()

	body := `<html><head><meta name="twitter:description" content="Jane Doe | Partner | Acme"></head></html>`
	res := Extract([]byte(body))
	require.True(t, res.IsFound())
	assert.Equal(t, Headline{"Jane Doe", "Partner", "Acme"}, res.Headline)
}

func TestExtract_JSONLDPerson(t *testing.T) {
	t.Parallel()

	body := `<html><head>
<script type="application/ld+json">{not json</script>
<script type="application/ld+json">
{"@context":"https://schema.org","@graph":[
  {"@type":"WebPage","name":"Profile"},
  {"@type":"Person","name":"Jane Doe","jobTitle":["Managing Director"],"worksFor":[{"@type":"Organization","name":"Acme Capital"}]}
]}
</script>
</head><body></body></html>`
	res := Extract([]byte(body))
	require.True(t, res.IsFound())
	assert.Equal(t, Headline{"Jane Doe", "Managing Director", "Acme Capital"}, res.Headline)
}

func TestExtract_JSONLDArray(t *testing.T) {
	t.Parallel()

	body := `<script type="application/ld+json">[{"@type":"Person","name":"Jane Doe","jobTitle":"CFO","worksFor":{"name":"Hooli"}}]</script>`
	res := Extract([]byte(body))
	require.True(t, res.IsFound())
	assert.Equal(t, Headline{"Jane Doe", "CFO", "Hooli"}, res.Headline)
}

func TestExtract_TitleElement(t *testing.T) {
	t.Parallel()

	body := `<html><head><title>Jane Doe - VP Sales at Umbrella | LinkedIn</title></head></html>`
	res := Extract([]byte(body))
	require.True(t, res.IsFound())
	assert.Equal(t, Headline{"Jane Doe", "VP Sales", "Umbrella"}, res.Headline)
}

func TestExtract_Unavailable(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		body   string
		reason string
	}{
		"empty":      {"", ReasonEmptyDocument},
		"whitespace": {"  \n\t ", ReasonEmptyDocument},
		"no meta":    {"<html><body><p>Sign in</p></body></html>", ReasonNoHeadline},
		"garbage":    {"<<<>>><meta property=og:title", ReasonNoHeadline},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			res := Extract([]byte(tc.body))
			assert.Equal(t, KindUnavailable, res.Kind)
			assert.Equal(t, tc.reason, res.Reason)
			assert.Equal(t, Headline{}, res.Headline)
		})
	}
}

func TestCleanText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a b c", CleanText(" a\u00a0 b\n\nc "))
	assert.Equal(t, "", CleanText(""))
}
