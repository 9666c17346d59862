package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/antzucaro/matchr"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"mailru-platform/lib/platform"
	"mailru-platform/lib/textutil"
)

var groupsUid *string
var groupsOffset *int
var groupsLimit *int
var groupsMatch *string
var groupsScrape *bool

func init() {
	groupsUid = groupsCmd.Flags().String("uid", "", "The user whose communities to list, default the session account.")
	groupsOffset = groupsCmd.Flags().Int("offset", 0, "How many communities to skip.")
	groupsLimit = groupsCmd.Flags().Int("limit", 10, "How many communities to list.")
	groupsMatch = groupsCmd.Flags().String("match", "", "Keep communities whose name is close to this, most similar first.")
	groupsScrape = groupsCmd.Flags().Bool("scrape", false, "Read the communities off my.mail.ru instead of the REST API.")
	rootCmd.AddCommand(groupsCmd)
}

var groupsCmd = &cobra.Command{
	Use:   "groups [--uid <user>] [--offset N] [--limit N] [--match <name>] [--scrape]",
	Short: "Lists the communities of a user as a table.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := readConfig()
		ctx := cmd.Context()
		session := openSession(ctx, cfg)

		params := platform.Params{
			"ext":    1,
			"uid":    *groupsUid,
			"offset": *groupsOffset,
			"limit":  *groupsLimit,
		}

		var raw []byte
		var err error
		if *groupsScrape {
			scraper, cleanup := openScraper(cfg, session)
			defer cleanup()
			params["scrape"] = 1
			raw, err = scraper.Call(ctx, "groups.get", params)
		} else {
			raw, err = platform.NewAPI(session).Call(ctx, "groups.get", params)
		}
		if err != nil {
			fatal("failed to list communities", err)
		}

		var records []map[string]any
		if err := json.Unmarshal(raw, &records); err != nil {
			fatal("unexpected response shape", fmt.Errorf("%w: %s", err, raw))
		}
		if *groupsMatch != "" {
			records = matchRecords(records, *groupsMatch)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Name", "Link", "Uid"})
		for _, rec := range records {
			t.AppendRow(table.Row{field(rec, "name"), field(rec, "link"), field(rec, "uid")})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}

// communities whose name lands below this similarity are dropped
const matchThreshold = 0.7

func matchRecords(records []map[string]any, query string) []map[string]any {
	type scored struct {
		record     map[string]any
		similarity float64
	}

	var kept []scored
	for _, rec := range records {
		name, _ := rec["name"].(string)
		similarity := matchr.JaroWinkler(textutil.Fold(name), textutil.Fold(query), false)
		if similarity < matchThreshold {
			continue
		}
		kept = append(kept, scored{rec, similarity})
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].similarity > kept[j].similarity
	})

	out := make([]map[string]any, len(kept))
	for i, s := range kept {
		out[i] = s.record
	}
	return out
}

func field(rec map[string]any, key string) string {
	switch v := rec[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(rec[key])
}
