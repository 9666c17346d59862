package myworld

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"mailru-platform/lib/telemetry"
)

// LinkResolver maps community profile links to platform uids.
type LinkResolver interface {
	ResolveLink(ctx context.Context, link string) (string, error)
}

// publicResolver fetches the profile page without authentication and
// reads the uid marker off its markup. Results are cached by url slug,
// community uids never change.
type publicResolver struct {
	http *resty.Client

	mu    sync.Mutex
	cache map[string]string
}

func NewLinkResolver() LinkResolver {
	client := resty.New()
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetTimeout(time.Second * 30)
	telemetry.InstrumentResty(client, "myworld/http")

	return &publicResolver{http: client, cache: map[string]string{}}
}

func (r *publicResolver) ResolveLink(ctx context.Context, link string) (string, error) {
	slug := linkSlug(link)
	r.mu.Lock()
	uid, hit := r.cache[slug]
	r.mu.Unlock()
	if hit {
		return uid, nil
	}

	target := link
	if strings.HasPrefix(link, "/") {
		target = MyWorldUrl + link
	}

	res, err := r.http.R().SetContext(ctx).Get(target)
	if err != nil {
		return "", err
	}
	if res.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("profile page %s returned status %d", target, res.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return "", err
	}
	uid, found := doc.Find("[data-group-id]").First().Attr("data-group-id")
	if !found || uid == "" {
		return "", fmt.Errorf("profile page %s carries no uid marker", target)
	}

	r.mu.Lock()
	r.cache[slug] = uid
	r.mu.Unlock()
	return uid, nil
}

// linkSlug is the last path segment of a profile link, the part
// my.mail.ru keys profiles on.
func linkSlug(link string) string {
	trimmed := strings.Trim(link, "/")
	if u, err := url.Parse(link); err == nil && u.Path != "" {
		trimmed = strings.Trim(u.Path, "/")
	}
	segments := strings.Split(trimmed, "/")
	return segments[len(segments)-1]
}
