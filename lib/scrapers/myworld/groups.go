package myworld

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"mailru-platform/lib/platform"
)

// communitiesUrl lists the current user's communities.
const communitiesUrl = MyWorldUrl + "/my/communities"

// scrapeGroupsGet walks the community catalog and returns the uids of
// the current user's communities, or full records when ext is truthy.
// Offset and limit slice the accumulated catalog, not dom pages, so
// the window is stable whatever the frontend's page size is.
func (s *Scraper) scrapeGroupsGet(ctx context.Context, params platform.Params) (json.RawMessage, error) {
	offset := intParam(params, "offset", 0)
	limit := intParam(params, "limit", 10)
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 10
	}

	// the lookup validates the session before any navigation
	if _, raw, err := s.lookupUsers(ctx, ""); err != nil || raw != nil {
		return raw, err
	}

	page, err := s.page(ctx, communitiesUrl, false)
	if err != nil {
		return nil, err
	}

	links, err := s.collectCatalog(ctx, page, offset+limit)
	if err != nil {
		return nil, err
	}

	if offset >= len(links) {
		links = nil
	} else {
		links = links[offset:]
	}
	if len(links) > limit {
		links = links[:limit]
	}

	uids := make([]string, len(links))
	for i, link := range links {
		uid, err := s.resolver.ResolveLink(ctx, link)
		if err != nil {
			return nil, fmt.Errorf("resolve community %s: %w", link, err)
		}
		uids[i] = uid
	}

	if !truthy(params["ext"]) {
		out, err := json.Marshal(uids)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	if len(uids) == 0 {
		return json.RawMessage("[]"), nil
	}
	return s.api.Call(ctx, "groups.getInfo", platform.Params{"uids": strings.Join(uids, ",")})
}

// collectCatalog accumulates catalog item links in dom order until
// needed items are present or the catalog is exhausted.
func (s *Scraper) collectCatalog(ctx context.Context, page Page, needed int) ([]string, error) {
	var links []string
	seen := 0
	for {
		htmls, err := page.Html(ctx, groupItemSelector)
		if err != nil {
			return nil, err
		}
		if seen > len(htmls) {
			seen = len(htmls)
		}
		for _, fragment := range htmls[seen:] {
			item, err := ParseGroupItem(fragment)
			if err != nil {
				return nil, &ScrapeError{Method: "groups.get", Detail: err.Error()}
			}
			links = append(links, item.Link)
		}
		seen = len(htmls)

		if len(links) >= needed {
			return links, nil
		}

		visible, err := page.Visible(ctx, showMoreSelector)
		if err != nil {
			return nil, err
		}
		if !visible {
			return links, nil
		}
		if err := page.Click(ctx, showMoreSelector); err != nil {
			return nil, err
		}

		grew, err := s.waitForCatalog(ctx, page, seen)
		if err != nil {
			return nil, err
		}
		if !grew {
			visible, err := page.Visible(ctx, showMoreSelector)
			if err != nil {
				return nil, err
			}
			if visible {
				return nil, fmt.Errorf("%w: community catalog stopped growing", PaginationStalled)
			}
			// the control disappeared, the next pass picks up
			// whatever did load
		}
	}
}

// waitForCatalog polls until the catalog renders more items than seen.
func (s *Scraper) waitForCatalog(ctx context.Context, page Page, seen int) (bool, error) {
	for attempt := 0; attempt < s.attempts; attempt++ {
		htmls, err := page.Html(ctx, groupItemSelector)
		if err != nil {
			return false, err
		}
		if len(htmls) > seen {
			return true, nil
		}
		if err := s.sleep(ctx); err != nil {
			return false, err
		}
	}
	return false, nil
}

// scrapeGroupsGetInfo fetches community records over the api and
// overlays the fields only the rendered profile still carries.
func (s *Scraper) scrapeGroupsGetInfo(ctx context.Context, params platform.Params) (json.RawMessage, error) {
	uids := stringParam(params, "uids")
	if uids == "" {
		return nil, &ScrapeError{Method: "groups.getInfo", Detail: "uids parameter is required"}
	}

	records, raw, err := s.lookupGroups(ctx, uids)
	if err != nil || raw != nil {
		return raw, err
	}

	for _, record := range records {
		link, _ := record["link"].(string)
		if link == "" {
			continue
		}
		page, err := s.page(ctx, link, false)
		if err != nil {
			return nil, err
		}
		if err := s.overlayGroupInfo(ctx, page, record); err != nil {
			return nil, err
		}
	}

	out, err := json.Marshal(records)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Scraper) overlayGroupInfo(ctx context.Context, page Page, record map[string]any) error {
	name, found, err := elementText(ctx, page, groupNameSelector)
	if err != nil {
		return err
	}
	if found && name != "" {
		record["name"] = name
	}

	joined, err := page.Exists(ctx, joinedButtonSelector)
	if err != nil {
		return err
	}
	if joined {
		record["is_member"] = 1
		return nil
	}
	control, err := page.Exists(ctx, joinButtonSelector)
	if err != nil {
		return err
	}
	if control {
		record["is_member"] = 0
	}
	return nil
}

// elementText reads the text content of the first selector match.
func elementText(ctx context.Context, page Page, selector string) (string, bool, error) {
	htmls, err := page.Html(ctx, selector)
	if err != nil || len(htmls) == 0 {
		return "", false, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmls[0]))
	if err != nil {
		return "", false, err
	}
	return strings.TrimSpace(doc.Text()), true, nil
}

// scrapeGroupsJoin subscribes the current user to a community by
// clicking through its profile page. Returns 1 like the rest method
// did, including when the user already is a member.
func (s *Scraper) scrapeGroupsJoin(ctx context.Context, params platform.Params) (json.RawMessage, error) {
	groupId := stringParam(params, "group_id")
	if groupId == "" {
		return nil, &ScrapeError{Method: "groups.join", Detail: "group_id parameter is required"}
	}

	records, raw, err := s.lookupGroups(ctx, groupId)
	if err != nil || raw != nil {
		return raw, err
	}
	link, _ := records[0]["link"].(string)
	if link == "" {
		return nil, &ScrapeError{Method: "groups.join", Detail: "community record carries no profile link"}
	}

	page, err := s.page(ctx, link, false)
	if err != nil {
		return nil, err
	}

	joined, err := page.Exists(ctx, joinedButtonSelector)
	if err != nil {
		return nil, err
	}
	if joined {
		return json.RawMessage("1"), nil
	}

	visible, err := page.Visible(ctx, joinButtonSelector)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, &ScrapeError{Method: "groups.join", Detail: "join control not found"}
	}
	if err := page.Click(ctx, joinButtonSelector); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < s.attempts; attempt++ {
		joined, err := page.Exists(ctx, joinedButtonSelector)
		if err != nil {
			return nil, err
		}
		if joined {
			return json.RawMessage("1"), nil
		}
		if err := s.sleep(ctx); err != nil {
			return nil, err
		}
	}
	return nil, &ScrapeError{Method: "groups.join", Detail: "membership state did not change"}
}
