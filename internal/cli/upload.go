package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bitrise-io/go-chunkupload/analytics"
	"github.com/bitrise-io/go-chunkupload/uploader"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "CHUNKUP"

// uploadOpts holds the settings of the upload command that are not session config.
type uploadOpts struct {
	Verbose     bool
	MetricsAddr string
	Analytics   bool
}

func newUploadCommand(deps Dependencies) *cobra.Command {
	v := viper.New()

	uploadCmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file in chunks",
		Long: `Upload a file in chunks to an upload, verify and merge endpoint triplet.

Every flag can also be set in the config file or as an environment variable,
e.g. --chunk-size as CHUNKUP_CHUNK_SIZE.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, opts, err := loadUploadConfig(cmd, v)
			if err != nil {
				return err
			}
			return runUpload(cmd.Context(), deps, args[0], config, opts)
		},
	}

	defaults := uploader.DefaultConfig()
	f := uploadCmd.Flags()

	// Endpoints
	f.String("upload-url", "", "Chunk upload endpoint")
	f.String("verify-url", "", "Resume negotiation endpoint")
	f.String("merge-url", "", "Merge endpoint")
	f.String("file-name", "", "File name sent to the server (default: base name of <file>)")
	f.StringSlice("query", nil, "Extra chunk upload URL parameter as key=value (repeatable)")
	f.StringSlice("header", nil, "Extra request header as key=value (repeatable)")

	// Scheduling
	f.String("chunk-size", units.BytesSize(float64(defaults.ChunkSize)), "Chunk size")
	f.String("max-memory", units.BytesSize(float64(defaults.MaxMemory)), "Memory budget of chunks read ahead")
	f.Int("concurrency", defaults.MaxConcurrency, "Maximum number of parallel chunk uploads")
	f.Bool("test-chunks", defaults.TestChunks, "Hash the file and skip chunks the server already stores")
	f.String("app-id", "", "Application identifier mixed into generated upload identifiers")
	f.Int("max-retry", defaults.MaxRetryPerChunk, "Extra attempts per failed chunk")
	f.Duration("retry-wait", defaults.RetryWait, "Wait between attempts of the same chunk")
	f.String("rate-limit", "", "Upload bandwidth limit per second, e.g. 10MB (default: unlimited)")

	// Observability
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address while uploading, e.g. :9090")
	f.Bool("analytics", false, "Send session analytics")

	_ = v.BindPFlags(f)

	return uploadCmd
}

func loadUploadConfig(cmd *cobra.Command, v *viper.Viper) (uploader.Config, uploadOpts, error) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return uploader.Config{}, uploadOpts{}, fmt.Errorf("read config file: %w", err)
		}
	}

	f := NewFlagLoader(cmd, v)
	config := uploader.DefaultConfig()
	config.UploadURL = f.String("upload-url")
	config.VerifyURL = f.String("verify-url")
	config.MergeURL = f.String("merge-url")
	config.FileName = f.String("file-name")
	config.MaxConcurrency = f.Int("concurrency")
	config.TestChunks = f.Bool("test-chunks")
	config.AppID = f.String("app-id")
	config.MaxRetryPerChunk = f.Int("max-retry")
	config.RetryWait = f.Duration("retry-wait")

	var err error
	if config.ChunkSize, err = f.Size("chunk-size"); err != nil {
		return uploader.Config{}, uploadOpts{}, err
	}
	if config.MaxMemory, err = f.Size("max-memory"); err != nil {
		return uploader.Config{}, uploadOpts{}, err
	}
	if config.MaxBytesPerSecond, err = f.Size("rate-limit"); err != nil {
		return uploader.Config{}, uploadOpts{}, err
	}
	if config.Query, err = f.KeyValues("query"); err != nil {
		return uploader.Config{}, uploadOpts{}, err
	}
	if config.Header, err = f.KeyValues("header"); err != nil {
		return uploader.Config{}, uploadOpts{}, err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	opts := uploadOpts{
		Verbose:     verbose || v.GetBool("verbose"),
		MetricsAddr: f.String("metrics-addr"),
		Analytics:   f.Bool("analytics"),
	}

	return config, opts, nil
}

func runUpload(ctx context.Context, deps Dependencies, file string, config uploader.Config, opts uploadOpts) error {
	logger := deps.Logger
	logger.EnableDebugLog(opts.Verbose)

	path, err := deps.OS.Abs(file)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", file, err)
	}
	info, err := deps.OS.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}

	config.TempFilePath = path
	config.Size = info.Size()
	if config.FileName == "" {
		config.FileName = filepath.Base(path)
	}

	var sessionOpts []uploader.Option
	if opts.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		sessionOpts = append(sessionOpts, uploader.WithMetrics(uploader.NewMetrics(reg)))
		stop := serveMetrics(opts.MetricsAddr, reg, logger)
		defer stop()
	}

	session, err := uploader.Open(config, logger, sessionOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warnf("Failed to close %s: %s", path, err)
		}
	}()

	if opts.Analytics {
		tracker := analytics.NewDefaultUploadTracker(deps.Env, config.AppID, logger)
		detach := tracker.Attach(session)
		defer func() {
			detach()
			tracker.Wait()
		}()
	}

	ctx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	session.On(uploader.EventProgress, func(e uploader.Event) {
		logger.Printf("%3.0f%%  %s / %s  %s/s  %s remaining",
			e.Progress.Progress*100,
			units.HumanSize(float64(e.Progress.UploadedSize)),
			units.HumanSize(float64(session.Snapshot().SizeNeedSend)),
			units.HumanSize(float64(e.Progress.AverageSpeed)),
			formatRemaining(e.Progress.TimeRemaining))
	})
	session.On(uploader.EventError, func(e uploader.Event) {
		var phaseErr *uploader.PhaseError
		if errors.As(e.Err, &phaseErr) {
			return
		}
		// A failed chunk never finishes on its own; give up on the session.
		logger.Errorf("%s", e.Err)
		abort(e.Err)
	})

	logger.Infof("Uploading %s (%s) in chunks of %s", path,
		units.HumanSize(float64(config.Size)), units.BytesSize(float64(config.ChunkSize)))
	logger.TDebugf("Upload start")

	start := time.Now()
	if err := session.Run(ctx); err != nil {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			return fmt.Errorf("upload %s: %w", path, cause)
		}
		return fmt.Errorf("upload %s: %w", path, err)
	}

	logger.TDebugf("Upload done")
	logger.Donef("Uploaded %s as %s in %s", config.FileName, session.Identifier(), time.Since(start).Round(time.Millisecond))
	return nil
}

func formatRemaining(d time.Duration) string {
	if d == uploader.UnknownTimeRemaining {
		return "unknown"
	}
	return d.String()
}

func serveMetrics(addr string, reg *prometheus.Registry, logger log.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warnf("Metrics server stopped: %s", err)
		}
	}()
	logger.Infof("Serving metrics on %s/metrics", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warnf("Failed to stop metrics server: %s", err)
		}
	}
}
