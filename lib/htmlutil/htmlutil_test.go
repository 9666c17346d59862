package htmlutil

import (
	"context"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

const loginPage = `<html><body>
<form method="POST" action="https://auth.mail.ru/cgi-bin/auth">
	<input type="hidden" name="page" value="https://connect.mail.ru/oauth/authorize" />
	<input type="hidden" name="FailPage" value="" />
	<input type="text" name="Login" />
	<input type="password" name="Password" />
	<input type="submit" value="Войти" />
</form>
</body></html>`

func TestParseForm(t *testing.T) {
	form, err := ParseForm(context.Background(), loginPage)
	require.NoError(t, err)

	require.Equal(t, "https://auth.mail.ru/cgi-bin/auth", form.Action)
	require.Equal(t, map[string]string{
		"page":     "https://connect.mail.ru/oauth/authorize",
		"FailPage": "",
		"Login":    "",
		"Password": "",
	}, form.Fields)
}

func TestParseFormNoPostForm(t *testing.T) {
	_, err := ParseForm(context.Background(), `<form method="get" action="/search"><input name="q" /></form>`)
	require.Error(t, err)
}

func TestGetAnchors(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<div><a href="/mail/john.doe">  John   Doe </a><a href="/mail/jane">Jane</a></div>`,
	))
	require.NoError(t, err)

	anchors := GetAnchors(context.Background(), doc.Find("a"))
	require.Equal(t, []Anchor{
		{Name: "John Doe", Href: "/mail/john.doe"},
		{Name: "Jane", Href: "/mail/jane"},
	}, anchors)
}
