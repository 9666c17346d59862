package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mailru-platform/lib/platform"
)

var callScrape *bool

func init() {
	callScrape = callCmd.Flags().Bool("scrape", false, "Route the method through the my.mail.ru scrapers.")
	rootCmd.AddCommand(callCmd)
}

var callCmd = &cobra.Command{
	Use:   "call <method> [param=value ...]",
	Short: "Invokes an API method and prints the response json.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := readConfig()
		ctx := cmd.Context()
		session := openSession(ctx, cfg)

		params := platform.Params{}
		for _, arg := range args[1:] {
			key, value, ok := strings.Cut(arg, "=")
			if !ok {
				fatal("bad parameter", fmt.Errorf("%q is not key=value", arg))
			}
			params[key] = value
		}

		var raw []byte
		var err error
		if *callScrape {
			scraper, cleanup := openScraper(cfg, session)
			defer cleanup()
			params["scrape"] = 1
			raw, err = scraper.Call(ctx, args[0], params)
		} else {
			raw, err = platform.NewAPI(session).Call(ctx, args[0], params)
		}
		if err != nil {
			fatal("api call failed", err)
		}

		fmt.Println(prettyJson(raw))
	},
}
