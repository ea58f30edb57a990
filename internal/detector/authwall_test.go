package detector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/headline-tracker/internal/tracker"
)

func TestAuthWall_BlockedStatus(t *testing.T) {
	t.Parallel()

	d := NewAuthWall(nil)
	for _, code := range []int{401, 403, 999} {
		reason, ok := d.Check(tracker.Page{StatusCode: code})
		require.True(t, ok, "status %d", code)
		require.Contains(t, reason, "status:")
	}
}

func TestAuthWall_LoginRedirect(t *testing.T) {
	t.Parallel()

	d := NewAuthWall(nil)
	reason, ok := d.Check(tracker.Page{
		StatusCode: 200,
		URL:        "https://www.linkedin.com/in/jane",
		FinalURL:   "https://www.linkedin.com/authwall?trk=gf&sessionRedirect=x",
		Body:       []byte("<html></html>"),
	})
	require.True(t, ok)
	require.Equal(t, "redirect:/authwall", reason)
}

func TestAuthWall_BodyMarkerCaseInsensitive(t *testing.T) {
	t.Parallel()

	d := NewAuthWall(nil)
	reason, ok := d.Check(tracker.Page{
		StatusCode: 200,
		FinalURL:   "https://example.com/in/jane",
		Body:       []byte(`<h1>Sign In to view Jane's full profile</h1>`),
	})
	require.True(t, ok)
	require.Equal(t, "marker:sign in to view", reason)
}

func TestAuthWall_CustomMarkers(t *testing.T) {
	t.Parallel()

	d := NewAuthWall([]string{"  Members Only ", ""})
	_, ok := d.Check(tracker.Page{StatusCode: 200, Body: []byte("MEMBERS ONLY area")})
	require.True(t, ok)

	_, ok = d.Check(tracker.Page{StatusCode: 200, Body: []byte("authwall")})
	require.False(t, ok, "custom markers replace the defaults")
}

func TestAuthWall_PublicPage(t *testing.T) {
	t.Parallel()

	d := NewAuthWall(nil)
	_, ok := d.Check(tracker.Page{
		StatusCode: 200,
		FinalURL:   "https://example.com/in/jane",
		Body:       []byte(`<meta property="og:title" content="Jane - Partner - Acme">`),
	})
	require.False(t, ok)

	_, ok = d.Check(tracker.Page{StatusCode: 404})
	require.False(t, ok, "404 is a fetch error, not an auth wall")
}

func TestAuthWall_PublicPageWithSignInLink(t *testing.T) {
	t.Parallel()

	body := `<html><head>
<meta property="og:title" content="Jane Doe - Partner - Acme | LinkedIn">
</head><body>
<h2>Sign in to view Jane's full profile</h2>
<a href="/login?session_redirect=%2Fin%2Fjane">Sign in</a>
</body></html>`
	d := NewAuthWall(nil)
	reason, ok := d.Check(tracker.Page{
		StatusCode: 200,
		FinalURL:   "https://www.linkedin.com/in/jane",
		Body:       []byte(body),
	})
	require.False(t, ok, "matched %q on a page with a headline", reason)

	_, ok = d.Check(tracker.Page{
		StatusCode: 200,
		FinalURL:   "https://www.linkedin.com/in/jane",
		Body:       []byte(`<h2>Sign in to view Jane's full profile</h2><a href="/login?session_redirect=x">Sign in</a>`),
	})
	require.True(t, ok, "markers still apply when nothing extracts")
}
