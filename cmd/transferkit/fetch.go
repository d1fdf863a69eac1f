package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/italolelis/transferkit/internal/config"
	"github.com/italolelis/transferkit/internal/downloader"
	"github.com/italolelis/transferkit/internal/logctx"
	"github.com/italolelis/transferkit/internal/storage"
)

type fetchFlags struct {
	inputFile      string
	parallel       int
	timeout        time.Duration
	connectTimeout time.Duration
	location       bool
	maxRedirs      int
	fail           bool
	insecure       bool
	userAgent      string
	bearer         string
	cookieJar      string
	proxy          string
	headers        []string
}

func newFetchCmd(load func() (*config.Config, error)) *cobra.Command {
	var f fetchFlags

	cmd := &cobra.Command{
		Use:   "fetch [URL[=PATH]]...",
		Short: "Fetch URLs concurrently into the output directory",
		Long: `Fetch downloads every URL concurrently. A URL may be followed by =PATH to pick
the output file, otherwise the name is taken from the URL path. URLs can also be
read from a file with --input-file, one "URL [PATH]" pair per line.

The command fails when any transfer fails; every result is journaled either way.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			reqs, err := parseRequests(args)
			if err != nil {
				return err
			}

			if f.inputFile != "" {
				fromFile, err := readRequestFile(f.inputFile)
				if err != nil {
					return err
				}

				reqs = append(reqs, fromFile...)
			}

			if len(reqs) == 0 {
				return fmt.Errorf("no urls given")
			}

			return runFetch(cmd, cfg, f.apply(cmd, cfg), reqs)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.inputFile, "input-file", "i", "", "read URLs from a file")
	flags.IntVarP(&f.parallel, "parallel", "Z", 0, "maximum transfers running at once (0 = unlimited)")
	flags.DurationVarP(&f.timeout, "max-time", "m", 0, "maximum time for each transfer")
	flags.DurationVar(&f.connectTimeout, "connect-timeout", 0, "maximum time to connect")
	flags.BoolVarP(&f.location, "location", "L", true, "follow redirects")
	flags.IntVar(&f.maxRedirs, "max-redirs", 0, "maximum number of redirects (0 = unlimited)")
	flags.BoolVarP(&f.fail, "fail", "f", true, "treat HTTP responses >= 400 as failures")
	flags.BoolVarP(&f.insecure, "insecure", "k", false, "skip TLS certificate verification")
	flags.StringVarP(&f.userAgent, "user-agent", "A", "", "User-Agent header to send")
	flags.StringVar(&f.bearer, "oauth2-bearer", "", "OAuth 2 bearer token")
	flags.StringVarP(&f.cookieJar, "cookie-jar", "c", "", "persistent cookie jar file")
	flags.StringVarP(&f.proxy, "proxy", "x", "", "proxy URL")
	flags.StringArrayVarP(&f.headers, "header", "H", nil, `extra header, "Name: value"`)

	return cmd
}

// apply overlays the flags the user set on the configured defaults.
func (f *fetchFlags) apply(cmd *cobra.Command, cfg *config.Config) downloader.Options {
	opts := downloader.Options{
		MaxParallel:    cfg.MaxParallel,
		Timeout:        cfg.Timeout,
		ConnectTimeout: cfg.ConnectTimeout,
		FollowLocation: cfg.FollowLocation,
		MaxRedirs:      cfg.MaxRedirs,
		FailOnError:    cfg.FailOnError,
		Insecure:       cfg.Insecure,
		UserAgent:      cfg.UserAgent,
		BearerToken:    cfg.BearerToken,
		CookieJar:      cfg.CookieJar,
		Proxy:          cfg.Proxy,
		Headers:        f.headers,
	}

	changed := cmd.Flags().Changed

	if changed("parallel") {
		opts.MaxParallel = f.parallel
	}
	if changed("max-time") {
		opts.Timeout = f.timeout
	}
	if changed("connect-timeout") {
		opts.ConnectTimeout = f.connectTimeout
	}
	if changed("location") {
		opts.FollowLocation = f.location
	}
	if changed("max-redirs") {
		opts.MaxRedirs = f.maxRedirs
	}
	if changed("fail") {
		opts.FailOnError = f.fail
	}
	if changed("insecure") {
		opts.Insecure = f.insecure
	}
	if changed("user-agent") {
		opts.UserAgent = f.userAgent
	}
	if changed("oauth2-bearer") {
		opts.BearerToken = f.bearer
	}
	if changed("cookie-jar") {
		opts.CookieJar = f.cookieJar
	}
	if changed("proxy") {
		opts.Proxy = f.proxy
	}

	return opts
}

func runFetch(cmd *cobra.Command, cfg *config.Config, opts downloader.Options, reqs []downloader.Request) error {
	ctx, a, err := setup(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	logger := logctx.LoggerFromContext(ctx)
	logger.Info("fetching", "transfers", len(reqs), "output_dir", cfg.OutputDir, "max_parallel", opts.MaxParallel)

	d := downloader.NewDownloader(a.fs, a.repo, a.notifier, a.tel, opts)

	results, err := d.Fetch(ctx, reqs)
	printResults(cmd.OutOrStdout(), results)

	if err != nil {
		return err
	}

	failed := 0

	for _, res := range results {
		if res.Status != storage.StatusCompleted {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d transfers failed", failed, len(results))
	}

	return nil
}

func printResults(w io.Writer, results []downloader.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tCODE\tSIZE\tTIME\tPATH\tURL")

	for _, res := range results {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			res.Status,
			int(res.Code),
			humanize.Bytes(uint64(max(res.Bytes, 0))),
			res.Duration.Round(time.Millisecond),
			res.Path,
			res.URL,
		)
	}

	_ = tw.Flush()
}

// parseRequests splits URL=PATH arguments. URLs with a query string are taken
// whole; their output path can be set with --input-file.
func parseRequests(args []string) ([]downloader.Request, error) {
	reqs := make([]downloader.Request, 0, len(args))

	for _, arg := range args {
		req := downloader.Request{URL: arg}

		if i := strings.LastIndex(arg, "="); i >= 0 && !strings.Contains(arg, "?") {
			req = downloader.Request{URL: arg[:i], Path: arg[i+1:]}
		}

		if req.URL == "" {
			return nil, fmt.Errorf("empty url in %q", arg)
		}

		reqs = append(reqs, req)
	}

	return reqs, nil
}

func readRequestFile(name string) ([]downloader.Request, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer file.Close()

	var reqs []downloader.Request

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)

		req := downloader.Request{URL: fields[0]}
		if len(fields) > 1 {
			req.Path = fields[1]
		}

		reqs = append(reqs, req)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}

	return reqs, nil
}
