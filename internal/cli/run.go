package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ppiankov/xfattach/internal/model"
	"github.com/ppiankov/xfattach/internal/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [root]",
	Short: "Download all attachments referenced under a directory",
	Long: `Run scans root recursively for .txt exports written by xenforo-dl and
downloads every embedded attachment:
- Each attachment block (name, inline preview, name, URL) is extracted in order
- Files land in an "attachments" directory next to the export
- Generic names like index.php are replaced by the name found in the URL
- Existing files are never overwritten; duplicates become name-1.ext, name-2.ext
- Requests run one at a time with a pause in between (--delay)

Root defaults to the configured root, then the current directory.

Example:
  xfattach run ./exports
  xfattach run ./exports --cookie "xf_user=...; xf_session=..." --delay 2000
  XFATTACH_COOKIE="xf_session=..." xfattach run ./exports -v`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	defaults := model.DefaultConfig()
	flags := runCmd.Flags()

	// Pacing flags
	flags.Float64("delay", defaults.DelayMS, "pause after every download in milliseconds (0 disables)")
	flags.Float64("rps", defaults.Rate.RequestsPerSecond, "max requests per second per host (0 = unlimited)")
	flags.StringSlice("ignore", defaults.Ignore, "directory names to skip while scanning")

	// HTTP flags
	flags.String("cookie", "", "Cookie header sent with every request")
	flags.String("ua", defaults.HTTP.UserAgent, "HTTP User-Agent")
	flags.Duration("timeout", defaults.HTTP.Timeout, "timeout for a single download")
	flags.Bool("insecure", false, "skip TLS certificate verification (use for self-signed certs)")
	flags.Bool("no-cookie-jar", false, "do not replay cookies set by the server during a run")
	flags.String("http-proxy", "", "HTTP proxy URL (overrides HTTP_PROXY env var)")
	flags.String("https-proxy", "", "HTTPS proxy URL (overrides HTTPS_PROXY env var)")
	flags.StringSlice("no-proxy", nil, "hosts, .domains or CIDRs reached without the proxy (overrides NO_PROXY env var)")

	// Politeness and safety flags
	flags.Bool("robots", false, "honour robots.txt rules and crawl delays")
	flags.Uint64("min-free-mb", 0, "refuse to start when less free disk space is available")

	bind := map[string]string{
		"delay_ms":                       "delay",
		"rate_limit.requests_per_second": "rps",
		"ignore":                         "ignore",
		"http.cookie":                    "cookie",
		"http.user_agent":                "ua",
		"http.timeout":                   "timeout",
		"http.insecure_tls":              "insecure",
		"http.http_proxy":                "http-proxy",
		"http.https_proxy":               "https-proxy",
		"http.no_proxy":                  "no-proxy",
		"robots.enabled":                 "robots",
		"disk.min_free_mb":               "min-free-mb",
	}
	for key, flag := range bind {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	if noJar, _ := cmd.Flags().GetBool("no-cookie-jar"); noJar {
		cfg.HTTP.CookieJar = false
	}

	root := cfg.Root
	if len(args) == 1 {
		root = args[0]
	}
	if root == "" {
		root = "."
	}
	cfg.Root = root

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printBanner(cfg)

	reporter := newConsoleReporter(os.Stderr, root, cfg.Verbose)
	p := pipeline.NewPipeline(cfg, pipeline.WithReporter(reporter))

	start := time.Now()
	summary, err := p.Run(ctx, root)
	if summary != nil {
		printSummary(summary, time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	return nil
}

func printBanner(cfg *model.Config) {
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  xfattach\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Root:       %s\n", cfg.Root)
	fmt.Fprintf(os.Stderr, "  Delay:      %v\n", cfg.Delay())
	fmt.Fprintf(os.Stderr, "  Timeout:    %v\n", cfg.HTTP.Timeout)
	fmt.Fprintf(os.Stderr, "  Cookie:     %v\n", cfg.HTTP.Cookie != "")
	if cfg.Robots.Enabled {
		fmt.Fprintf(os.Stderr, "  Robots:     enforced\n")
	}
	fmt.Fprintf(os.Stderr, "\n")
}

func printSummary(s *model.RunSummary, elapsed time.Duration) {
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Run Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Files scanned:  %d\n", s.FilesScanned)
	fmt.Fprintf(os.Stderr, "  With matches:   %d\n", s.FilesWithMatches)
	if s.ReadErrors > 0 {
		fmt.Fprintf(os.Stderr, "  Unreadable:     %d\n", s.ReadErrors)
	}
	fmt.Fprintf(os.Stderr, "  Matches found:  %d\n", s.Matches)
	fmt.Fprintf(os.Stderr, "  Downloaded:     %d\n", s.Downloaded)
	fmt.Fprintf(os.Stderr, "  Failed:         %d\n", s.Failed)
	fmt.Fprintf(os.Stderr, "  Elapsed:        %v\n", elapsed.Round(time.Second))
	fmt.Fprintf(os.Stderr, "\n")
}
