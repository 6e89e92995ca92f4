package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Saul-Punybz/feedrelay/internal/config"
)

// flagAliases maps the underscore and legacy spellings onto canonical flags.
var flagAliases = map[string]string{
	"log":           "ledger",
	"max_posts":     "max-posts",
	"keywords_file": "keywords-file",
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "feedrelay",
		Short: "Relay keyword-matching feed entries to Lemmy communities",
		Long: `feedrelay polls the RSS and Atom feeds listed in a JSON file, keeps the
entries that match a keyword list and posts them as links to the Lemmy
community each feed is assigned to.

Credentials are read from LEMMY_USERNAME, LEMMY_PASSWORD and
LEMMY_INSTANCE_URL, or from a .env file in the working directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if example, _ := cmd.Flags().GetBool("example"); example {
				return printExamples(cmd)
			}
			if test, _ := cmd.Flags().GetBool("test"); test {
				return runCheck(cmd, args)
			}
			return runRelay(cmd, args)
		},
	}

	root.SetGlobalNormalizationFunc(normalizeFlag)
	flags := root.PersistentFlags()
	flags.String("feeds", "rss_feeds.json", "path to the feeds JSON file")
	flags.String("ledger", "lemmy_bot.log", "path to the published-articles ledger (alias --log)")
	flags.Int("interval", 0, "minutes between feed checks; 0 draws 11-23 at random on every check")
	flags.Int("time", 0, "minutes between feed checks, takes precedence over --interval")
	flags.Int("max-posts", 2, "maximum posts per cycle across all communities")
	flags.Int("simultaneously", 1, "maximum posts per community per cycle")
	flags.String("keywords", "", "comma-separated keywords to filter articles")
	flags.String("keywords-file", "", "file with one keyword per line")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	flags.String("log-format", "text", "log output format: text or json")

	root.Flags().Bool("example", false, "show usage examples and exit")
	root.Flags().Bool("test", false, "check the configuration and exit")

	root.AddCommand(newRunCmd(), newCheckCmd(), newExamplesCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll feeds and publish matching entries until interrupted",
		RunE:  runRelay,
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate credentials, feeds and keywords, resolve every community, then exit",
		RunE:  runCheck,
	}
}

func newExamplesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "Show usage examples",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printExamples(cmd)
		},
	}
}

func normalizeFlag(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	if canonical, ok := flagAliases[name]; ok {
		name = canonical
	}
	return pflag.NormalizedName(name)
}

// loadConfig reads the environment and applies every flag the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	applyFlags(cmd.Flags(), &cfg.Bot)
	setupLogging(cfg.Bot.Verbose, cfg.Bot.LogFormat)
	return cfg, nil
}

func applyFlags(flags *pflag.FlagSet, bot *config.BotConfig) {
	if flags.Changed("feeds") {
		bot.FeedsPath, _ = flags.GetString("feeds")
	}
	if flags.Changed("ledger") {
		bot.LedgerPath, _ = flags.GetString("ledger")
	}
	if flags.Changed("interval") {
		n, _ := flags.GetInt("interval")
		bot.Interval = time.Duration(n) * time.Minute
	}
	if flags.Changed("time") {
		n, _ := flags.GetInt("time")
		bot.Interval = time.Duration(n) * time.Minute
	}
	if flags.Changed("max-posts") {
		bot.MaxPosts, _ = flags.GetInt("max-posts")
	}
	if flags.Changed("simultaneously") {
		bot.Simultaneously, _ = flags.GetInt("simultaneously")
	}
	if flags.Changed("keywords") {
		bot.Keywords, _ = flags.GetString("keywords")
	}
	if flags.Changed("keywords-file") {
		bot.KeywordsFile, _ = flags.GetString("keywords-file")
	}
	if flags.Changed("verbose") {
		bot.Verbose, _ = flags.GetBool("verbose")
	}
	if flags.Changed("log-format") {
		bot.LogFormat, _ = flags.GetString("log-format")
	}
}

func setupLogging(verbose bool, format string) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

const examplesText = `Examples:

1. Basic usage:
   feedrelay --feeds rss_feeds.json --ledger lemmy_bot.log --interval 15

2. Fixed time between checks:
   feedrelay --feeds rss_feeds.json --time 20

3. Two posts per community per cycle:
   feedrelay --feeds rss_feeds.json --simultaneously 2 --interval 10

4. Verbose logging as JSON:
   feedrelay --feeds rss_feeds.json --verbose --log-format json

5. Keyword filtering:
   feedrelay --feeds rss_feeds.json --keywords "technology, science" --max-posts 5

6. Keywords from a file:
   feedrelay --feeds rss_feeds.json --keywords-file keywords.txt --max-posts 5

7. Non-Latin keywords:
   feedrelay --feeds rss_feeds.json --keywords "Ελλάδα, Κύπρος, Europe, Israel, Ισραήλ, Οικονομία, Business" --max-posts 5 --interval 15

8. Check the configuration without posting:
   feedrelay check --feeds rss_feeds.json
`

func printExamples(cmd *cobra.Command) error {
	_, err := fmt.Fprint(cmd.OutOrStdout(), examplesText)
	return err
}
