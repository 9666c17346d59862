package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"mailru-platform/lib/platform"
)

var streamUid *string
var streamLimit *int
var streamSkip *string
var streamJson *bool

func init() {
	streamUid = streamCmd.Flags().String("uid", "", "The author whose feed to read.")
	streamLimit = streamCmd.Flags().Int("limit", 10, "How many events to read.")
	streamSkip = streamCmd.Flags().String("skip", "", "Resume after this event id.")
	streamJson = streamCmd.Flags().Bool("json", false, "Print the raw event json instead of a table.")
	rootCmd.AddCommand(streamCmd)
}

var streamCmd = &cobra.Command{
	Use:   "stream --uid <user> [--limit N] [--skip <event_id>] [--json]",
	Short: "Lists the feed events of a user, scraped off my.mail.ru.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := readConfig()
		ctx := cmd.Context()
		session := openSession(ctx, cfg)

		scraper, cleanup := openScraper(cfg, session)
		defer cleanup()

		raw, err := scraper.Call(ctx, "stream.getByAuthor", platform.Params{
			"scrape": 1,
			"uid":    *streamUid,
			"limit":  *streamLimit,
			"skip":   *streamSkip,
		})
		if err != nil {
			fatal("failed to read the feed", err)
		}

		if *streamJson {
			fmt.Println(prettyJson(raw))
			return
		}

		var events []map[string]any
		if err := json.Unmarshal(raw, &events); err != nil {
			fatal("unexpected response shape", fmt.Errorf("%w: %s", err, raw))
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Time", "Type", "Author", "Likes", "Comments", "Id"})
		for _, ev := range events {
			t.AppendRow(eventRow(ev))
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}

func eventRow(ev map[string]any) table.Row {
	kind, _ := ev["type_name"].(string)
	if kind == "" {
		kind, _ = ev["subtype"].(string)
	}

	var when string
	if unix, ok := ev["time"].(float64); ok {
		when = time.Unix(int64(unix), 0).UTC().Format("2006-01-02 15:04")
	}

	author := ""
	if authors, ok := ev["authors"].([]any); ok && len(authors) > 0 {
		if first, ok := authors[0].(map[string]any); ok {
			author, _ = first["link"].(string)
		}
	}

	return table.Row{
		when,
		kind,
		author,
		field(ev, "likes_count"),
		field(ev, "comments_count"),
		field(ev, "id"),
	}
}
