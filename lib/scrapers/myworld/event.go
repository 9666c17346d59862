package myworld

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// selectors into the markup of a single feed event
const (
	eventAreaSelector    = "div.b-history_event_active-area_shift"
	subeventAreaSelector = "div.b-history_event_active-area:not(.b-history_event_active-area_shift)"
	authorSelector       = "div.b-history-event_head div.b-history-event__action .b-history-event__ownername"
	eventLinkSelector    = "div.b-history-event_head div.b-history-event__action div.b-history-event_time a"
	eventTextSelector    = "div.b-history-event__body div.b-history-event__event-textbox2"
	statusTextSelector   = "div.b-history-event__body div.b-history-event__event-textbox_status"
	commentsSelector     = "div.b-comments__history"
)

// typeNames maps two-segment type codes to the names the rest api used
// for them.
var typeNames = map[string]string{
	"1-1":  "photo_upload",
	"1-2":  "video_upload",
	"1-7":  "music_add",
	"3-3":  "user_community_actions_enter",
	"3-5":  "user_community_actions_leave",
	"3-23": "micropost",
	"5-7":  "avatar_change",
	"5-10": "gift_send",
	"5-11": "gift_received",
	"5-16": "app_add",
	"5-26": "share",
	"5-28": "app_info2",
	"5-37": "gift_receive_multi",
	"5-39": "community_post",
	"5-41": "user_post",
	"5-44": "community_video_upload",
	"5-47": "community_photo_upload",
	"5-50": "",
}

// clickableTypes are the codes whose events link somewhere.
var clickableTypes = map[string]bool{
	"1-1":  true,
	"3-23": true,
	"5-39": true,
	"5-41": true,
}

// statusType marks microposts, the one shape with inline link media.
const statusType = "3-23"

// Astat is the event descriptor my.mail.ru packs into the data-astat
// attribute as a colon-separated list.
type Astat struct {
	UserWorldId   int64
	EventType     string
	EventId       string
	OwnerWorldId  string
	CorrWorldId   string
	CorrEventId   string
	LikesCount    int64
	CommentsCount int64
	EventTime     int64
}

func ParseAstat(value string) (Astat, error) {
	// fields past the ninth (a region marker on some feeds) are
	// dropped on purpose
	fields := strings.Split(value, ":")
	if len(fields) < 9 {
		return Astat{}, fmt.Errorf("astat %q has %d fields, want at least 9", value, len(fields))
	}

	astat := Astat{
		EventType:    fields[1],
		EventId:      fields[2],
		OwnerWorldId: fields[3],
		CorrWorldId:  fields[4],
		CorrEventId:  fields[5],
	}

	var err error
	if astat.UserWorldId, err = parseCount(fields[0]); err != nil {
		return Astat{}, fmt.Errorf("astat user world id: %w", err)
	}
	if astat.LikesCount, err = parseCount(fields[6]); err != nil {
		return Astat{}, fmt.Errorf("astat likes count: %w", err)
	}
	if astat.CommentsCount, err = parseCount(fields[7]); err != nil {
		return Astat{}, fmt.Errorf("astat comments count: %w", err)
	}
	if astat.EventTime, err = strconv.ParseInt(fields[8], 10, 64); err != nil {
		return Astat{}, fmt.Errorf("astat event time: %w", err)
	}
	return astat, nil
}

// parseCount reads the numeric astat fields the frontend sometimes
// leaves empty.
func parseCount(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// Id is the event id as the feed cursor expects it.
func (a Astat) Id() string {
	return strings.ToLower(a.EventId)
}

// Subtype is "event" for plain events, or the third type segment for
// reactions such as likes and comments.
func (a Astat) Subtype() string {
	segments := strings.Split(a.EventType, "-")
	if len(segments) < 3 {
		return "event"
	}
	return strings.ToLower(segments[2])
}

// Type is the two-segment type code. For reactions it describes the
// subevent the reaction points at.
func (a Astat) Type() string {
	segments := strings.Split(a.EventType, "-")
	if len(segments) < 2 {
		return a.EventType
	}
	return segments[0] + "-" + segments[1]
}

func (a Astat) TypeName() string {
	return typeNames[a.Type()]
}

// Event is a feed record in the shape the rest api's stream methods
// used to return.
type Event map[string]any

// ParseEvent builds an event record from the outer html of a feed
// element. Likes and comments come back as a wrapper with the liked or
// commented event nested under "subevent".
func ParseEvent(fragment string) (Event, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("parse event fragment: %w", err)
	}
	root := doc.Find(eventSelector).First()
	if root.Length() == 0 {
		return nil, fmt.Errorf("fragment contains no event element")
	}

	value, found := root.Attr("data-astat")
	if !found || value == "" {
		return nil, fmt.Errorf("event element carries no data-astat")
	}
	astat, err := ParseAstat(value)
	if err != nil {
		return nil, err
	}

	commentable := 0
	if root.Find(commentsSelector).Length() > 0 {
		commentable = 1
	}

	subtype := astat.Subtype()
	if subtype == "comment" || subtype == "like" {
		subevent := Event{
			"authors":        []any{},
			"type_name":      astat.TypeName(),
			"likes_count":    astat.LikesCount,
			"user_text":      "",
			"subtype":        "event",
			"is_commentable": commentable,
			"type":           astat.Type(),
			"is_likeable":    commentable,
			"id":             astat.CorrEventId,
			"comments_count": astat.CommentsCount,
		}
		elementBody(root.Find(subeventAreaSelector).First(), astat.Type(), subevent)
		return Event{
			"time":           astat.EventTime,
			"author":         map[string]any{},
			"subevent":       subevent,
			"subtype":        subtype,
			"is_commentable": 0,
			"id":             astat.Id(),
			"is_likeable":    0,
		}, nil
	}

	event := Event{
		"authors":        []any{},
		"type_name":      astat.TypeName(),
		"likes_count":    astat.LikesCount,
		"time":           astat.EventTime,
		"user_text":      "",
		"subtype":        subtype,
		"is_commentable": commentable,
		"type":           astat.Type(),
		"is_likeable":    commentable,
		"id":             astat.Id(),
		"comments_count": astat.CommentsCount,
	}
	elementBody(root.Find(eventAreaSelector).First(), astat.Type(), event)
	return event, nil
}

// elementBody scrapes the fields that live in the rendered markup
// rather than the astat descriptor.
func elementBody(area *goquery.Selection, typeCode string, into Event) {
	authors := []any{}
	if href, found := area.Find(authorSelector).First().Attr("href"); found && href != "" {
		authors = append(authors, map[string]any{
			"link": strings.TrimSuffix(href, "?ref=ho"),
		})
	}
	into["authors"] = authors

	clickUrl := ""
	if clickableTypes[typeCode] {
		if href, found := area.Find(eventLinkSelector).First().Attr("href"); found && href != "" {
			clickUrl = MyWorldUrl + href
		}
	}
	into["click_url"] = clickUrl

	if typeCode != statusType {
		text := ""
		if box := area.Find(eventTextSelector).First(); box.Length() > 0 {
			text = box.Text()
		}
		into["user_text"] = text
		return
	}

	box := area.Find(statusTextSelector).First()
	text := ""
	if box.Length() > 0 {
		text = box.Text()
	}

	// microposts render their links as anchors, the api shape wants
	// them spelled out in the text
	links := box.Find("a")
	links.Each(func(_ int, link *goquery.Selection) {
		label := link.Text()
		if label == "" {
			return
		}
		href, _ := link.Attr("href")
		text = strings.ReplaceAll(text, label, href)
	})

	media := make([]any, 0, links.Length()+1)
	for i := 0; i < links.Length(); i++ {
		media = append(media, map[string]any{
			"object":  "link",
			"content": map[string]any{"type-id": "text", "contents": text},
		})
	}
	media = append(media, map[string]any{"object": "text", "content": text})
	into["text_media"] = media
	into["user_text"] = text
}
