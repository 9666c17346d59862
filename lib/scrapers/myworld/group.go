package myworld

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const groupLinkSelector = "a.groups__avatar"

// GroupItem is one entry of the community catalog.
type GroupItem struct {
	Link string `json:"link"`
}

// ParseGroupItem reads the community link out of a catalog item's
// outer html.
func ParseGroupItem(fragment string) (GroupItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return GroupItem{}, fmt.Errorf("parse group item: %w", err)
	}
	href, found := doc.Find(groupLinkSelector).First().Attr("href")
	if !found || href == "" {
		return GroupItem{}, fmt.Errorf("catalog item carries no community link")
	}
	return GroupItem{Link: strings.TrimSuffix(href, "?ref=")}, nil
}
