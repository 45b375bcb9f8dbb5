package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	cfgpkg "github.com/chinuno-usami/server-tan/internal/config"
	"github.com/chinuno-usami/server-tan/internal/runtime"
	httpserver "github.com/chinuno-usami/server-tan/internal/server/http"
	channelsvc "github.com/chinuno-usami/server-tan/internal/services/channels"
	contentsvc "github.com/chinuno-usami/server-tan/internal/services/contents"
	relaysvc "github.com/chinuno-usami/server-tan/internal/services/relay"
	usersvc "github.com/chinuno-usami/server-tan/internal/services/users"
	pebblestore "github.com/chinuno-usami/server-tan/internal/storage/pebble"
	"github.com/chinuno-usami/server-tan/internal/wechat"
)

// Options for starting the server.
type Options struct {
	Config        cfgpkg.Config
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	LogLevel      string
	LogFormat     string
}

// NewLogger builds the process logger from level/format strings.
func NewLogger(level, format string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if format == "console" || format == "text" {
		zc = zap.NewDevelopmentConfig()
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	// layer a local signal context over the provided one so direct callers
	// get shutdown on SIGINT/SIGTERM too
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := NewLogger(opts.LogLevel, opts.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	rt, err := runtime.Open(runtime.Options{
		DataDir:       filepath.Join(cfg.DataDir, "store"),
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Config:        cfg,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	platform := wechat.New(wechat.Options{
		AppID:     cfg.AppID,
		AppSecret: cfg.AppSecret,
		Tokens:    rt.PlatformState(),
		Logger:    logger.Named("wechat"),
	})
	users := usersvc.New(rt, platform, logger.Named("users"))
	channels := channelsvc.New(rt, users, logger.Named("channels"))
	contents := contentsvc.New(rt, cfg.ContentRetentionDays, logger.Named("contents"))
	relay := relaysvc.New(channels, contents, platform, cfg.TemplateID, cfg.Host, logger.Named("relay"))

	srv := httpserver.New(rt, httpserver.Services{
		Users:    users,
		Channels: channels,
		Contents: contents,
		Relay:    relay,
	}, logger.Named("http"))

	logger.Info("starting server",
		zap.String("listen", cfg.Listen),
		zap.String("data_dir", cfg.DataDir),
		zap.Int("content_retention_days", cfg.ContentRetentionDays),
		zap.Bool("enforce_owner_on_delete", cfg.EnforceOwnerOnDelete),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(sctx, cfg.Listen) }()

	select {
	case <-sctx.Done():
		srv.Close()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
