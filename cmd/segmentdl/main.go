package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	httpadapter "github.com/kit0ra/SCDownloader/internal/adapters/http"
	"github.com/kit0ra/SCDownloader/internal/config"
	"github.com/kit0ra/SCDownloader/internal/handler"
	"github.com/kit0ra/SCDownloader/internal/handler/platforms"
	"github.com/kit0ra/SCDownloader/internal/observability"
	"github.com/kit0ra/SCDownloader/internal/service"
	"github.com/kit0ra/SCDownloader/internal/storage"
	"github.com/kit0ra/SCDownloader/internal/worker"
)

// options holds command line overrides of the loaded configuration.
type options struct {
	resolution  string
	concurrency int
	outputDir   string
	stagingDir  string
	title       string
	allowGaps   bool
	mode        string
	timeout     time.Duration
	inputs      []string
}

// Application holds the complete application stack
type Application struct {
	handler  *handler.Handler
	provider observability.Provider
	cfg      *config.Config
}

func main() {
	opts := parseFlags()

	cfg := loadConfiguration(opts)

	app := buildApplication(cfg)
	defer app.provider.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := startApplication(ctx, app, opts); err != nil {
		stop()
		log.Printf("segmentdl: %v", err)
		os.Exit(1)
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.resolution, "resolution", "", "resolution tier: low, high or ultra")
	flag.IntVar(&opts.concurrency, "concurrency", 0, "segments fetched per group")
	flag.StringVar(&opts.outputDir, "out", "", "output directory")
	flag.StringVar(&opts.stagingDir, "staging", "", "staging directory for segment files")
	flag.StringVar(&opts.title, "title", "", "output file name for the asset")
	flag.BoolVar(&opts.allowGaps, "allow-gaps", false, "assemble even when some segments failed")
	flag.StringVar(&opts.mode, "mode", "", "run mode: cli, http or lambda")
	flag.DurationVar(&opts.timeout, "timeout", 0, "cli only: limit for each download, 0 for none (HANDLER_TIMEOUT applies to http and lambda)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <asset id or page url>...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	opts.inputs = flag.Args()
	return opts
}

// loadConfiguration loads the environment configuration and applies flag
// overrides on top of it.
func loadConfiguration(opts options) *config.Config {
	cfgProvider := config.GetProvider()
	cfgProvider.MustLoad()
	cfg := cfgProvider.MustGet()

	if opts.resolution != "" {
		cfg.Download.Resolution = opts.resolution
	}
	if opts.concurrency > 0 {
		cfg.Download.Concurrency = opts.concurrency
	}
	if opts.outputDir != "" {
		cfg.Download.OutputDir = opts.outputDir
	}
	if opts.stagingDir != "" {
		cfg.Download.StagingDir = opts.stagingDir
	}
	if opts.allowGaps {
		cfg.Download.AllowGaps = true
	}
	if opts.mode != "" {
		cfg.Handler.Platform = opts.mode
	}
	if cfg.Handler.Platform == "cli" {
		cfg.Handler.Timeout = opts.timeout
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return cfg
}

// buildApplication wires the download pipeline behind the request handler.
func buildApplication(cfg *config.Config) *Application {
	provider := observability.NewProvider(&observability.Config{
		ServiceName:     cfg.ServiceName,
		Environment:     cfg.Environment,
		LogLevel:        cfg.LogLevel,
		MetricsProvider: cfg.Observability.MetricsProvider,
		AdditionalFields: observability.Fields{
			"version": cfg.Version,
		},
	})

	logger := provider.Logger("main")
	logger.Info(context.Background(), "Starting application", observability.Fields{
		"environment": cfg.Environment,
		"resolution":  cfg.Download.Resolution,
		"concurrency": cfg.Download.Concurrency,
	})

	downloader := createDownloader(cfg, provider)

	segmentWorker := worker.NewSegmentWorker(
		downloader,
		provider.Logger("worker"),
		provider.Metrics("worker"),
		cfg.Download.StagingDir,
		cfg.Download.OutputDir,
	)

	h := handler.NewFactory(segmentWorker, provider).
		WithHandlerConfig(cfg.Handler).
		Create()

	return &Application{
		handler:  h,
		provider: provider,
		cfg:      cfg,
	}
}

// createDownloader builds the fetch, schedule, assemble and publish layers.
func createDownloader(cfg *config.Config, provider observability.Provider) *service.Downloader {
	httpClient := httpadapter.NewClientWithConfig(cfg.HTTP)

	var fetcher service.Fetcher = service.NewSegmentFetcher(
		httpClient,
		cfg.Source.Extension,
		provider.Logger("fetcher"),
		provider.Metrics("fetcher"),
	)
	if cfg.Retry.MaxAttempts > 1 {
		fetcher = service.NewRetryingFetcher(fetcher, cfg.Retry, provider.Logger("fetcher"))
	}

	scheduler := service.NewScheduler(fetcher, provider.Logger("scheduler"), provider.Metrics("scheduler"))
	assembler := service.NewAssembler(provider.Logger("assembler"), provider.Metrics("assembler"))

	downloader := service.NewDownloader(
		cfg.SourceTemplate(),
		cfg.Download,
		scheduler,
		assembler,
		provider.Logger("downloader"),
		provider.Metrics("downloader"),
	)

	objectStorage, err := storage.New(cfg, provider.Logger("storage"), provider.Metrics("storage"))
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	if objectStorage != nil {
		downloader.WithPublisher(service.NewPublisher(
			objectStorage,
			cfg.Storage.S3.Bucket,
			cfg.Storage.Prefix,
			cfg.Storage.KeepLocal,
			provider.Logger("publisher"),
			provider.Metrics("publisher"),
		))
	}

	return downloader
}

// startApplication runs the handler on the configured platform.
func startApplication(ctx context.Context, app *Application, opts options) error {
	switch app.handler.Config().Platform {
	case "http":
		return platforms.NewHTTPAdapter(app.handler).Serve(ctx, app.cfg.HTTP.Addr)
	case "lambda":
		platforms.NewLambdaAdapter(app.handler, app.cfg.Lambda).Start()
		return nil
	case "cli":
		return runCLI(ctx, app.handler, opts)
	default:
		return fmt.Errorf("unknown mode %q", app.handler.Config().Platform)
	}
}

// runCLI downloads each positional argument in order. It keeps going after
// a failed asset and reports failure once all inputs were processed.
func runCLI(ctx context.Context, h *handler.Handler, opts options) error {
	if len(opts.inputs) == 0 {
		flag.Usage()
		return fmt.Errorf("no asset ids given")
	}
	if opts.title != "" && len(opts.inputs) > 1 {
		return fmt.Errorf("-title applies to a single asset, got %d", len(opts.inputs))
	}

	failed := 0
	for _, input := range opts.inputs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req, err := handler.NewRequest("download", worker.DownloadPayload{
			AssetID: input,
			Title:   opts.title,
		})
		if err != nil {
			return err
		}
		req.Source = "cli"

		resp, err := h.Handle(ctx, req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", input, err)
			failed++
			continue
		}
		if !resp.Success {
			fmt.Fprintf(os.Stderr, "%s: %s: %s\n", input, resp.Error.Code, resp.Error.Message)
			failed++
			continue
		}

		var result worker.DownloadResult
		if err := json.Unmarshal(resp.Data, &result); err != nil {
			return err
		}
		fmt.Printf("%s -> %s (%s, %d segments)\n",
			input, result.Path, humanize.Bytes(uint64(result.Bytes)), result.Segments)
		if len(result.Gaps) > 0 {
			fmt.Printf("  missing segments: %v\n", result.Gaps)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(opts.inputs))
	}
	return nil
}
