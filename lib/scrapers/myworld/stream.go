package myworld

import (
	"context"
	"encoding/json"
	"fmt"

	"mailru-platform/lib/platform"
)

// scrapeStreamGetByAuthor reads events off a user's or community's
// activity feed. A skip cursor resumes a previous scrape: everything
// up to and including the skipped id is consumed without being
// returned, so the cursor only works against the page that produced
// it and the page is reused in that case.
func (s *Scraper) scrapeStreamGetByAuthor(ctx context.Context, params platform.Params) (json.RawMessage, error) {
	uid := stringParam(params, "uid")
	if uid == "" {
		return nil, &ScrapeError{Method: "stream.getByAuthor", Detail: "uid parameter is required"}
	}
	skip := stringParam(params, "skip")
	limit := intParam(params, "limit", 10)
	if limit <= 0 {
		limit = 10
	}

	users, raw, err := s.lookupUsers(ctx, uid)
	if err != nil || raw != nil {
		return raw, err
	}
	user := users[0]
	if user.Link == "" {
		return nil, &ScrapeError{Method: "stream.getByAuthor", Detail: "user record carries no profile link"}
	}

	page, err := s.page(ctx, user.Link, skip == "")
	if err != nil {
		return nil, err
	}

	if denied, err := page.Exists(ctx, accessDeniedSelector); err != nil {
		return nil, err
	} else if denied {
		return nil, platform.AccessDenied
	}
	if listed, err := page.Exists(ctx, blacklistSelector); err != nil {
		return nil, err
	} else if listed {
		return nil, platform.BlackListed
	}

	events := []Event{}
	skipping := skip != ""
	seen := 0
	state := ""

	for state != stateNoEvents {
		htmls, err := page.Html(ctx, eventSelector)
		if err != nil {
			return nil, err
		}
		grew := len(htmls) > seen
		for _, fragment := range htmls[seen:] {
			event, err := ParseEvent(fragment)
			if err != nil {
				return nil, &ScrapeError{Method: "stream.getByAuthor", Detail: err.Error()}
			}
			if skipping {
				if id, _ := event["id"].(string); id == skip {
					skipping = false
				}
				continue
			}
			events = append(events, event)
			if len(events) >= limit {
				return marshalEvents(events)
			}
		}
		seen = len(htmls)

		if err := page.Evaluate(ctx, scrollToBottomScript); err != nil {
			return nil, err
		}
		state, err = s.settleHistory(ctx, page)
		if err != nil {
			return nil, err
		}
		// a settled feed that rendered nothing new will not render
		// anything on the next pass either
		if !grew && state != stateNoEvents {
			return nil, fmt.Errorf("%w: feed stopped growing", PaginationStalled)
		}
	}
	return marshalEvents(events)
}

// settleHistory waits for the feed to leave its transient states and
// reports the state it settled on.
func (s *Scraper) settleHistory(ctx context.Context, page Page) (string, error) {
	for attempt := 0; attempt < s.attempts; attempt++ {
		state, found, err := page.Attribute(ctx, historySelector, historyStateAttr)
		if err != nil {
			return "", err
		}
		if found && state != stateLoading && state != stateUpdating {
			return state, nil
		}
		if err := s.sleep(ctx); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: feed stuck loading", PaginationStalled)
}

func marshalEvents(events []Event) (json.RawMessage, error) {
	out, err := json.Marshal(events)
	if err != nil {
		return nil, err
	}
	return out, nil
}
