package htmlutil

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/html"
)

var tracer = otel.Tracer("mailru.lib.htmlutil")

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

type Anchor struct {
	Name string
	Href string
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

func GetAnchors(ctx context.Context, sel *goquery.Selection) []Anchor {
	ctx, span := tracer.Start(ctx, "GetAnchors")
	defer span.End()

	anchors := []Anchor{}
	for _, n := range sel.Nodes {
		href := ""
		for _, a := range n.Attr {
			if a.Key == "href" {
				href = a.Val
				break
			}
		}

		link, err := url.Parse(href)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "got error while parsing url")
			continue
		}

		name := GetText(n)
		name = removeNonPrintable(name)
		name = strings.Trim(name, " \t\n")
		name = innerWhitespace.ReplaceAllString(name, " ")

		linkStr := link.String()
		anchors = append(anchors, Anchor{
			Name: name,
			Href: linkStr,
		})
		span.AddEvent("anchor", trace.WithAttributes(
			attribute.String("name", name),
			attribute.String("url", linkStr),
		))
	}

	return anchors
}

// Form holds the pieces of a login or consent dialog needed to submit it:
// the action url of the POST form and the prefilled hidden inputs.
type Form struct {
	Action string
	Fields map[string]string
}

// ParseForm pulls the first POST form out of an html document along with
// every input that is not a submit button. Inputs without a name are
// dropped.
func ParseForm(ctx context.Context, document string) (Form, error) {
	ctx, span := tracer.Start(ctx, "ParseForm")
	defer span.End()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "got error while parsing html")
		return Form{}, err
	}

	action := ""
	found := false
	doc.Find("form").EachWithBreak(func(_ int, form *goquery.Selection) bool {
		if !strings.EqualFold(form.AttrOr("method", ""), "post") {
			return true
		}
		action = form.AttrOr("action", "")
		found = true
		return false
	})
	if !found {
		err := fmt.Errorf("document does not contain a POST form")
		span.RecordError(err)
		span.SetStatus(codes.Error, "no form found")
		return Form{}, err
	}

	fields := map[string]string{}
	doc.Find("input").Each(func(_ int, input *goquery.Selection) {
		if strings.EqualFold(input.AttrOr("type", ""), "submit") {
			return
		}
		name := input.AttrOr("name", "")
		if name == "" {
			return
		}
		fields[name] = input.AttrOr("value", "")
	})

	span.AddEvent("form", trace.WithAttributes(
		attribute.String("action", action),
		attribute.Int("fields", len(fields)),
	))
	return Form{Action: action, Fields: fields}, nil
}
