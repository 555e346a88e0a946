package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/multibar/networkkit/internal/auth"
	"github.com/multibar/networkkit/internal/config"
	"github.com/multibar/networkkit/internal/lifecycle"
	"github.com/multibar/networkkit/internal/progress"
	"github.com/multibar/networkkit/internal/store"
	"github.com/multibar/networkkit/pkg/network"
	"github.com/multibar/networkkit/pkg/workstation"
)

// drainTimeout bounds the wait for expired workers after an interrupt.
const drainTimeout = 5 * time.Second

// commonFlags are shared by every command.
type commonFlags struct {
	configPath string
	envPath    string
	storeURL   string
	client     string
	verbose    bool
	progress   bool
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	f := &commonFlags{}
	fs.StringVar(&f.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&f.envPath, "env", ".env", "Environment file loaded before NETWORKKIT_ variables")
	fs.StringVar(&f.storeURL, "store", "", "Bucket URL finished downloads are committed to")
	fs.StringVar(&f.client, "client", "", "Client identifier sent as User-Agent")
	fs.BoolVar(&f.verbose, "v", false, "Log worker events")
	fs.BoolVar(&f.progress, "progress", false, "Show progress output")
	return f
}

// loadConfig layers defaults, the config file, the environment and flags.
func loadConfig(f *commonFlags) (config.Config, error) {
	if err := godotenv.Load(f.envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config.Config{}, fmt.Errorf("load %s: %w", f.envPath, err)
	}

	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.LoadFromFile(f.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	cfg = cfg.Merge(config.Config{
		Client:   f.client,
		Progress: f.progress,
		Store:    config.StoreConfig{URL: f.storeURL},
	})
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// station is a workstation with the resources it was built from.
type station struct {
	cfg    config.Config
	ws     *workstation.Workstation
	store  *store.Store
	signer *auth.Signer
	guard  *lifecycle.Guard
	logger *slog.Logger
}

func openStation(ctx context.Context, f *commonFlags) (*station, int) {
	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return nil, ExitConfigError
	}

	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []store.Option{store.WithPrefix(cfg.Store.Prefix)}
	if cfg.Store.Staging != "" {
		opts = append(opts, store.WithStaging(cfg.Store.Staging))
	}
	st, err := store.Open(ctx, cfg.Store.URL, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		return nil, ExitStorageError
	}

	s := &station{
		cfg:   cfg,
		store: st,
		signer: auth.NewSigner(auth.Options{
			Secret:  []byte(cfg.Auth.Secret),
			Issuer:  cfg.Auth.Issuer,
			Subject: cfg.Auth.Subject,
			Client:  cfg.Client,
			TTL:     cfg.Auth.TTL,
		}),
		guard:  lifecycle.NewGuard(),
		logger: logger,
	}
	s.ws = workstation.New(
		workstation.WithHTTPOptions(cfg.HTTPOptions()),
		workstation.WithStore(st),
		workstation.WithKeepAlive(s.guard),
		workstation.WithLogger(logger),
		workstation.WithListener(registryLogger{logger}),
	)
	return s, ExitSuccess
}

// Close stops the workstation and closes the store.
func (s *station) Close() {
	s.ws.Close()
	if err := s.store.Close(); err != nil {
		s.logger.Warn("close store", "error", err)
	}
}

// endpoint builds the configuration of raw with the configured API key and
// bearer tokens.
func (s *station) endpoint(raw string, opts ...network.EndpointOption) (*network.Endpoint, error) {
	if s.cfg.APIKey.Value != "" {
		opts = append(opts, network.WithKey(network.Key{Header: s.cfg.APIKey.Header, Value: s.cfg.APIKey.Value}))
	}
	if s.cfg.Auth.Secret != "" {
		opts = append(opts, network.WithTokens(s.signer))
	}
	return network.ParseEndpoint(raw, opts...)
}

func (s *station) request(raw string, opts ...network.EndpointOption) (network.Request, error) {
	cfg, err := s.endpoint(raw, opts...)
	if err != nil {
		return network.Request{}, err
	}
	return network.NewRequest(cfg, s.cfg.Client)
}

// perform submits works and waits for each to reach a terminal state. When
// ctx ends first, loading workers are expired and every request cancelled.
func (s *station) perform(ctx context.Context, works []workstation.Work, urls []string, enqueue bool, reporter *progress.Reporter) ([]network.Progress, error) {
	type result struct {
		idx int
		p   network.Progress
	}
	results := make(chan result, len(works))
	for i, work := range works {
		idx := i
		id := idFor(reporter, urls[i])
		s.ws.Perform(work, id, enqueue, func(out network.Output) {
			if reporter != nil {
				reporter.Observe(out)
			}
			if out.Progress.Terminal() {
				results <- result{idx, out.Progress}
			}
		})
	}

	out := make([]network.Progress, len(works))
	for range works {
		select {
		case r := <-results:
			out[r.idx] = r.p
		case <-ctx.Done():
			s.interrupt(works)
			return out, ctx.Err()
		}
	}
	return out, nil
}

// idFor returns a fresh worker id, tracked by reporter when set.
func idFor(reporter *progress.Reporter, source string) uuid.UUID {
	id := uuid.New()
	if reporter != nil {
		reporter.Track(id, source)
	}
	return id
}

func (s *station) interrupt(works []workstation.Work) {
	fmt.Fprintln(os.Stderr, "\n[networkkit] Received interrupt, shutting down...")
	if n := s.guard.Expire(); n > 0 {
		waitCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := s.guard.Wait(waitCtx); err != nil {
			s.logger.Warn("workers still loading", "count", s.guard.Held())
		}
	}
	for _, work := range works {
		s.ws.CancelAll(work.Request)
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// exitCode maps a worker failure to a process exit code.
func exitCode(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ExitInterrupted
	}
	switch network.Kind(err) {
	case network.ErrURL:
		return ExitInvalidArgs
	case network.ErrKey:
		return ExitConfigError
	case network.ErrSpace, network.ErrData:
		return ExitStorageError
	case network.ErrDecode:
		return ExitDecodeError
	case network.ErrCancelled:
		return ExitInterrupted
	default:
		return ExitSourceNotAccess
	}
}

// registryLogger logs registry changes.
type registryLogger struct {
	logger *slog.Logger
}

func (l registryLogger) Updated(workers []*workstation.Worker) {
	l.logger.Debug("registry updated", "workers", len(workers))
}

func (l registryLogger) Queued(queue []*workstation.Worker) {
	l.logger.Debug("queue updated", "queued", len(queue))
}
