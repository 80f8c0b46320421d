package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/samber/lo"
	"github.com/urfave/cli"

	"github.com/crimson-sun/vigil/internal/artifact"
	"github.com/crimson-sun/vigil/internal/config"
	"github.com/crimson-sun/vigil/internal/engine"
	"github.com/crimson-sun/vigil/internal/feed/nvd"
	"github.com/crimson-sun/vigil/internal/logging"
	"github.com/crimson-sun/vigil/internal/model"
	"github.com/crimson-sun/vigil/internal/output"
	"github.com/crimson-sun/vigil/internal/output/async"
	"github.com/crimson-sun/vigil/internal/output/file"
	"github.com/crimson-sun/vigil/internal/output/multi"
	"github.com/crimson-sun/vigil/internal/output/stdout"
	"github.com/crimson-sun/vigil/internal/output/webhook"
	"github.com/crimson-sun/vigil/internal/pipeline"
	"github.com/crimson-sun/vigil/internal/report"
	"github.com/crimson-sun/vigil/internal/telemetry"
	"github.com/crimson-sun/vigil/pkg/vigil"
)

func main() {
	app := newApp()
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func newApp() *cli.App {
	cfg := config.Load()

	bundleFlag := cli.StringFlag{
		Name:  "bundle",
		Usage: "model bundle path",
		Value: cfg.Models.BundlePath,
	}
	outFlag := cli.StringFlag{
		Name:  "out",
		Usage: "append NDJSON results to a file instead of stdout",
	}
	webhookFlag := cli.StringFlag{
		Name:  "webhook",
		Usage: "POST result batches to this URL",
	}

	app := cli.NewApp()
	app.Name = "vigil"
	app.Version = config.Version
	app.Usage = "CVE risk and anomaly analysis"

	app.Commands = []cli.Command{
		{
			Name:      "analyze",
			Usage:     "score one vulnerability description",
			ArgsUsage: "TEXT",
			Action:    analyze,
			Flags: []cli.Flag{
				bundleFlag,
				cli.BoolFlag{
					Name:  "pretty",
					Usage: "indent the JSON output",
				},
			},
		},
		{
			Name:   "fetch",
			Usage:  "fetch and analyze recent CVEs in one batch",
			Action: fetch,
			Flags: []cli.Flag{
				bundleFlag,
				outFlag,
				webhookFlag,
				cli.IntFlag{
					Name:  "days",
					Usage: fmt.Sprintf("trailing window in days, at most %d", vigil.MaxDaysBack),
					Value: vigil.DefaultDaysBack,
				},
				cli.IntFlag{
					Name:  "max",
					Usage: fmt.Sprintf("records analyzed per run, at most %d", vigil.MaxResultsCap),
					Value: vigil.DefaultMaxResults,
				},
				cli.BoolFlag{
					Name:  "report",
					Usage: "print a triage report to stderr",
				},
			},
		},
		{
			Name:   "watch",
			Usage:  "poll the feed and report newly published records",
			Action: watch,
			Flags: []cli.Flag{
				bundleFlag,
				outFlag,
				webhookFlag,
				cli.DurationFlag{
					Name:  "interval",
					Usage: "poll cadence",
					Value: 5 * time.Minute,
				},
				cli.DurationFlag{
					Name:  "lookback",
					Usage: "window reach per poll",
					Value: 24 * time.Hour,
				},
				cli.IntFlag{
					Name:  "max",
					Usage: "records kept per poll, 0 means no cap",
				},
			},
		},
		{
			Name:  "models",
			Usage: "model bundle tooling",
			Subcommands: []cli.Command{
				{
					Name:   "build",
					Usage:  "validate artifact exports and pack them into a bundle",
					Action: modelsBuild,
					Flags: []cli.Flag{
						cli.StringFlag{
							Name:  "vectorizer",
							Usage: "feature model JSON export",
						},
						cli.StringFlag{
							Name:  "classifier",
							Usage: "risk classifier JSON export",
						},
						cli.StringFlag{
							Name:  "anomaly",
							Usage: "anomaly detector JSON export",
						},
						cli.StringFlag{
							Name:  "version",
							Usage: "bundle version",
							Value: "1.0.0",
						},
						cli.StringFlag{
							Name:  "out",
							Usage: "bundle path to write",
							Value: "vigil.db",
						},
					},
				},
				{
					Name:      "inspect",
					Usage:     "print a bundle's manifest",
					ArgsUsage: "BUNDLE",
					Action:    modelsInspect,
				},
			},
		},
	}

	return app
}

func analyze(c *cli.Context) error {
	cfg := config.Load()
	flush := setup(cfg, true)
	defer flush()
	if err := cfg.Validate(); err != nil {
		return err
	}

	text := strings.Join(c.Args(), " ")
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("usage: vigil analyze TEXT")
	}

	p, err := newPipeline(c, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := p.AnalyzeOne(ctx, text)
	if err != nil {
		return err
	}
	return stdout.New(os.Stdout, c.Bool("pretty")).Write(ctx, res)
}

func fetch(c *cli.Context) error {
	cfg := config.Load()
	flush := setup(cfg, c.String("out") == "")
	defer flush()
	if err := cfg.Validate(); err != nil {
		return err
	}

	days := c.Int("days")
	maxResults := c.Int("max")
	if days < 1 || days > vigil.MaxDaysBack {
		return fmt.Errorf("days must be between 1 and %d, got %d", vigil.MaxDaysBack, days)
	}
	if maxResults < 1 || maxResults > vigil.MaxResultsCap {
		return fmt.Errorf("max must be between 1 and %d, got %d", vigil.MaxResultsCap, maxResults)
	}

	p, err := newPipeline(c, cfg)
	if err != nil {
		return err
	}
	sink, closeSink, err := buildSink(c)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	now := time.Now().UTC()
	window := model.FetchWindow{
		Since:      now.AddDate(0, 0, -days),
		Until:      now,
		MaxResults: maxResults,
	}

	// A feed failure partway still yields the records collected before it;
	// write what came back, then surface the error through the exit code.
	batch, runErr := p.AnalyzeBatch(ctx, window)
	if batch != nil {
		for _, res := range batch.Results {
			if err := sink.Write(ctx, res); err != nil {
				closeSink()
				return err
			}
		}
	}
	if err := closeSink(); err != nil {
		return err
	}
	if batch != nil && c.Bool("report") {
		fmt.Fprint(os.Stderr, report.Render(batch))
	}
	return runErr
}

func watch(c *cli.Context) error {
	cfg := config.Load()
	flush := setup(cfg, c.String("out") == "")
	defer flush()
	if err := cfg.Validate(); err != nil {
		return err
	}

	p, err := newPipeline(c, cfg)
	if err != nil {
		return err
	}
	sink, closeSink, err := buildSink(c)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSink(); err != nil {
			slog.Warn("output close failed", logging.Err(err))
		}
	}()

	ctx, cancel := signalContext()
	defer cancel()

	wcfg := pipeline.WatchConfig{
		Interval:   c.Duration("interval"),
		Lookback:   c.Duration("lookback"),
		MaxResults: c.Int("max"),
	}
	slog.Info("watch starting",
		"interval", wcfg.Interval,
		"lookback", wcfg.Lookback,
		"max_results", wcfg.MaxResults)

	if err := p.Watch(ctx, wcfg, sink); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func modelsBuild(c *cli.Context) error {
	cfg := config.Load()
	flush := setup(cfg, false)
	defer flush()

	in := artifact.Input{
		Version:   c.String("version"),
		TrainedAt: time.Now().UTC(),
	}
	for _, f := range []struct {
		flag string
		dst  *[]byte
	}{
		{"vectorizer", &in.FeatureModel},
		{"classifier", &in.RiskClassifier},
		{"anomaly", &in.AnomalyDetector},
	} {
		path := c.String(f.flag)
		if path == "" {
			return fmt.Errorf("--%s is required", f.flag)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		*f.dst = data
	}

	out := c.String("out")
	if err := artifact.Build(out, in); err != nil {
		return err
	}
	fmt.Printf("bundle %s written to %s\n", in.Version, out)
	return nil
}

func modelsInspect(c *cli.Context) error {
	cfg := config.Load()
	flush := setup(cfg, false)
	defer flush()

	path := c.Args().First()
	if path == "" {
		path = cfg.Models.BundlePath
	}
	b, err := artifact.Open(path)
	if err != nil {
		return err
	}

	fmt.Printf("bundle:     %s\n", path)
	fmt.Printf("version:    %s\n", b.Manifest.Version)
	fmt.Printf("trained at: %s\n", b.Manifest.TrainedAt.Format(time.RFC3339))
	fmt.Printf("features:   %d\n", b.Vectorizer.Dim())
	names := lo.Keys(b.Manifest.Digests)
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-16s sha256:%s\n", name, b.Manifest.Digests[name])
	}
	return nil
}

// setup configures logging, metrics, and optional tracing for one command
// run. stdoutIsData routes log lines to stderr as JSON so stdout stays pure
// NDJSON. The returned function flushes buffered spans.
func setup(cfg config.Config, stdoutIsData bool) func() {
	logging.Init(stdoutIsData, logging.ParseLevel(cfg.Log.Level))
	telemetry.InitMetrics()

	if !cfg.Log.Trace {
		return func() {}
	}
	shutdown, err := telemetry.InitTracer(config.Version)
	if err != nil {
		slog.Warn("tracing disabled", logging.Err(err))
		return func() {}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Warn("trace flush failed", logging.Err(err))
		}
	}
}

// newPipeline loads the model bundle named by --bundle and wires the
// NVD-backed pipeline around it.
func newPipeline(c *cli.Context, cfg config.Config) (*pipeline.Pipeline, error) {
	bundle, err := artifact.Open(c.String("bundle"))
	if err != nil {
		return nil, err
	}
	src := nvd.New(cfg.Feed.Endpoint, cfg.Feed.APIKey, nvd.WithHTTPTimeout(cfg.Feed.HTTPTimeout))
	return pipeline.New(src, engine.New(bundle),
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithPreviewLength(cfg.Pipeline.PreviewLen),
	), nil
}

// buildSink assembles the output chain from --out and --webhook: NDJSON to a
// file or stdout, plus an async-buffered webhook when requested. The returned
// close function flushes every output.
func buildSink(c *cli.Context) (output.Output, func() error, error) {
	var outs []output.Output
	if path := c.String("out"); path != "" {
		f, err := file.New(path)
		if err != nil {
			return nil, nil, err
		}
		outs = append(outs, f)
	} else {
		outs = append(outs, stdout.New(os.Stdout, false))
	}
	if url := c.String("webhook"); url != "" {
		outs = append(outs, async.New(webhook.New(url)))
	}
	sink := multi.New(outs...)
	return sink, sink.Close, nil
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "\nreceived %v, shutting down...\n", sig)
		cancel()
	}()

	return ctx, cancel
}
