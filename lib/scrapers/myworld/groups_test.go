package myworld

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"mailru-platform/lib/platform"
	"mailru-platform/lib/telemetry"
)

func catalogItem(i int) string {
	return fmt.Sprintf(`<div class="groups__item"><a class="groups__avatar" href="/community/group%d/?ref="></a></div>`, i)
}

// newCatalogPage renders total catalog items, initial of them up
// front and pageSize more per "load more" click.
func newCatalogPage(total, initial, pageSize int) *fakePage {
	items := make([]string, total)
	for i := range items {
		items[i] = catalogItem(i)
	}
	visible := initial

	page := &fakePage{url: communitiesUrl}
	page.html = func(selector string) []string {
		if selector != groupItemSelector {
			return nil
		}
		return items[:visible]
	}
	page.visible = func(selector string) bool {
		return selector == showMoreSelector && visible < len(items)
	}
	page.onClick = func(selector string) {
		if selector == showMoreSelector {
			visible = min(visible+pageSize, len(items))
		}
	}
	return page
}

func TestGroupsGetWindow(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:myworld")
	defer cleanup()

	page := newCatalogPage(25, 15, 10)
	source := &fakeSource{page: page}
	resolver := &fakeResolver{}
	api := &fakeApi{results: map[string]string{"users.getInfo": selfRecord}}
	scraper := newTestScraper(t, source, resolver, api)

	result, err := scraper.Method("groups").Method("get").Call(context.Background(), platform.Params{
		"scrape": 1,
		"offset": 10,
		"limit":  10,
	})
	require.NoError(t, err)

	var uids []string
	require.NoError(t, json.Unmarshal(result, &uids))
	require.Equal(t, []string{
		"group10", "group11", "group12", "group13", "group14",
		"group15", "group16", "group17", "group18", "group19",
	}, uids)

	// one page turn is enough for the 20th item
	require.Equal(t, 1, page.clicks[showMoreSelector])
	// only the requested window gets resolved
	require.Len(t, resolver.calls, 10)

	require.Len(t, source.requests, 1)
	req := source.requests[0]
	require.Equal(t, communitiesUrl, req.Url)
	require.Equal(t, "session key", req.SessionKey)
	require.False(t, req.Fresh)
	require.NotEmpty(t, req.Cookies)
	require.Equal(t, "Mpop", req.Cookies[0].Name)
}

func TestGroupsGetExhaustion(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:myworld")
	defer cleanup()

	{ // a catalog shorter than the limit comes back whole
		page := newCatalogPage(8, 8, 10)
		api := &fakeApi{results: map[string]string{"users.getInfo": selfRecord}}
		scraper := newTestScraper(t, &fakeSource{page: page}, &fakeResolver{}, api)

		result, err := scraper.Call(context.Background(), "groups.get", platform.Params{"scrape": 1})
		require.NoError(t, err)

		var uids []string
		require.NoError(t, json.Unmarshal(result, &uids))
		require.Len(t, uids, 8)
		require.Equal(t, 0, page.clicks[showMoreSelector])
	}
	{ // an offset past the end yields an empty window
		page := newCatalogPage(25, 15, 10)
		api := &fakeApi{results: map[string]string{"users.getInfo": selfRecord}}
		scraper := newTestScraper(t, &fakeSource{page: page}, &fakeResolver{}, api)

		result, err := scraper.Call(context.Background(), "groups.get", platform.Params{
			"scrape": 1,
			"offset": 30,
			"limit":  10,
		})
		require.NoError(t, err)

		var uids []string
		require.NoError(t, json.Unmarshal(result, &uids))
		require.Empty(t, uids)
		require.Equal(t, 1, page.clicks[showMoreSelector])
	}
}

func TestGroupsGetStalled(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:myworld")
	defer cleanup()

	page := newCatalogPage(25, 8, 10)
	// the control stays up but clicking it loads nothing
	page.onClick = func(string) {}

	api := &fakeApi{results: map[string]string{"users.getInfo": selfRecord}}
	scraper := newTestScraper(t, &fakeSource{page: page}, &fakeResolver{}, api)

	_, err := scraper.Call(context.Background(), "groups.get", platform.Params{"scrape": 1})
	require.ErrorIs(t, err, PaginationStalled)
	require.ErrorContains(t, err, "stopped growing")
}

func TestGroupsGetExt(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:myworld")
	defer cleanup()

	records := `[{"uid":"111","name":"group zero"},{"uid":"222","name":"group one"}]`
	page := newCatalogPage(2, 2, 10)
	api := &fakeApi{results: map[string]string{
		"users.getInfo":  selfRecord,
		"groups.getInfo": records,
	}}
	scraper := newTestScraper(t, &fakeSource{page: page}, &fakeResolver{}, api)

	result, err := scraper.Call(context.Background(), "groups.get", platform.Params{
		"scrape": 1,
		"ext":    1,
		"limit":  2,
	})
	require.NoError(t, err)
	require.JSONEq(t, records, string(result))

	require.Equal(t, []string{"users.getInfo", "groups.getInfo"}, api.methods())
	require.Equal(t, "group0,group1", api.calls[1].Get("uids"))
}

func TestGroupsGetInfoOverlay(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:myworld")
	defer cleanup()

	page := &fakePage{url: "https://my.mail.ru/community/kittens"}
	page.html = func(selector string) []string {
		if selector == groupNameSelector {
			return []string{`<div class="group__name">Kittens Club</div>`}
		}
		return nil
	}
	page.exists = func(selector string) bool {
		return selector == joinedButtonSelector
	}

	source := &fakeSource{page: page}
	api := &fakeApi{results: map[string]string{
		"groups.getInfo": `[{"uid":"5396991818946538245","name":"api name","link":"https://my.mail.ru/community/kittens"},{"uid":"42"}]`,
	}}
	scraper := newTestScraper(t, source, &fakeResolver{}, api)

	result, err := scraper.Call(context.Background(), "groups.getInfo", platform.Params{
		"scrape": 1,
		"uids":   "5396991818946538245,42",
	})
	require.NoError(t, err)

	var records []map[string]any
	require.NoError(t, json.Unmarshal(result, &records))
	require.Len(t, records, 2)

	// the rendered profile wins over the api record
	require.Equal(t, "Kittens Club", records[0]["name"])
	require.Equal(t, float64(1), records[0]["is_member"])

	// records without a link stay untouched
	require.NotContains(t, records[1], "is_member")
	require.Len(t, source.requests, 1)
	require.Equal(t, "https://my.mail.ru/community/kittens", source.requests[0].Url)
}

func TestGroupsGetInfoRequiresUids(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:myworld")
	defer cleanup()

	api := &fakeApi{results: map[string]string{}}
	scraper := newTestScraper(t, &fakeSource{}, &fakeResolver{}, api)

	_, err := scraper.Call(context.Background(), "groups.getInfo", platform.Params{"scrape": 1})
	var scrapeErr *ScrapeError
	require.ErrorAs(t, err, &scrapeErr)
	require.Equal(t, "groups.getInfo", scrapeErr.Method)
	require.Contains(t, scrapeErr.Detail, "uids")
}

func TestGroupsJoin(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:myworld")
	defer cleanup()

	groupRecord := `[{"uid":"42","link":"https://my.mail.ru/community/kittens"}]`

	{ // an existing membership short-circuits
		page := &fakePage{}
		page.exists = func(selector string) bool {
			return selector == joinedButtonSelector
		}
		api := &fakeApi{results: map[string]string{"groups.getInfo": groupRecord}}
		scraper := newTestScraper(t, &fakeSource{page: page}, &fakeResolver{}, api)

		result, err := scraper.Call(context.Background(), "groups.join", platform.Params{"scrape": 1, "group_id": "42"})
		require.NoError(t, err)
		require.Equal(t, "1", string(result))
		require.Equal(t, 0, page.clicks[joinButtonSelector])
	}
	{ // the click flips the membership state
		member := false
		page := &fakePage{}
		page.exists = func(selector string) bool {
			return selector == joinedButtonSelector && member
		}
		page.visible = func(selector string) bool {
			return selector == joinButtonSelector
		}
		page.onClick = func(selector string) {
			if selector == joinButtonSelector {
				member = true
			}
		}
		api := &fakeApi{results: map[string]string{"groups.getInfo": groupRecord}}
		scraper := newTestScraper(t, &fakeSource{page: page}, &fakeResolver{}, api)

		result, err := scraper.Call(context.Background(), "groups.join", platform.Params{"scrape": 1, "group_id": "42"})
		require.NoError(t, err)
		require.Equal(t, "1", string(result))
		require.Equal(t, 1, page.clicks[joinButtonSelector])
	}
	{ // a page without the control is a markup mismatch
		api := &fakeApi{results: map[string]string{"groups.getInfo": groupRecord}}
		scraper := newTestScraper(t, &fakeSource{page: &fakePage{}}, &fakeResolver{}, api)

		_, err := scraper.Call(context.Background(), "groups.join", platform.Params{"scrape": 1, "group_id": "42"})
		var scrapeErr *ScrapeError
		require.ErrorAs(t, err, &scrapeErr)
		require.Equal(t, "groups.join", scrapeErr.Method)
		require.Contains(t, scrapeErr.Detail, "join control not found")
	}
	{ // clicking without effect exhausts the poll budget
		page := &fakePage{}
		page.visible = func(selector string) bool {
			return selector == joinButtonSelector
		}
		api := &fakeApi{results: map[string]string{"groups.getInfo": groupRecord}}
		scraper := newTestScraper(t, &fakeSource{page: page}, &fakeResolver{}, api)

		_, err := scraper.Call(context.Background(), "groups.join", platform.Params{"scrape": 1, "group_id": "42"})
		var scrapeErr *ScrapeError
		require.ErrorAs(t, err, &scrapeErr)
		require.Contains(t, scrapeErr.Detail, "membership state did not change")
	}
	{ // group_id is mandatory
		api := &fakeApi{results: map[string]string{}}
		scraper := newTestScraper(t, &fakeSource{}, &fakeResolver{}, api)

		_, err := scraper.Call(context.Background(), "groups.join", platform.Params{"scrape": 1})
		var scrapeErr *ScrapeError
		require.ErrorAs(t, err, &scrapeErr)
		require.Contains(t, scrapeErr.Detail, "group_id")
	}
}
