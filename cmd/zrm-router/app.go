package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/JafarAbdi/zrm/pkg/config"
	"github.com/JafarAbdi/zrm/pkg/link"
	"github.com/JafarAbdi/zrm/pkg/link/quic"
	"github.com/JafarAbdi/zrm/pkg/link/tcp"
	"github.com/JafarAbdi/zrm/pkg/observability"
	"github.com/JafarAbdi/zrm/pkg/router"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}
	if opts.Listen != "" {
		cfg.Router.Listeners = []config.ListenerConfig{{Kind: opts.Kind, Address: opts.Listen}}
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("zrm-router started", zap.String("app", cfg.AppName))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rtr := router.New()
	for _, lc := range cfg.Router.Listeners {
		var l link.Link
		switch lc.Kind {
		case "tcp":
			l = tcp.New()
		case "quic":
			l = quic.New()
		default:
			zap.L().Error("unknown listener kind", zap.String("kind", lc.Kind))
			return 1
		}
		ln, err := l.Listen(ctx, lc.Address)
		if err != nil {
			zap.L().Error("listen failed",
				zap.String("kind", lc.Kind),
				zap.String("address", lc.Address),
				zap.Error(err))
			return 1
		}
		defer ln.Close()
		zap.L().Info("listening", zap.String("kind", lc.Kind), zap.String("address", ln.Addr().String()))
		go rtr.Serve(ctx, ln)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	zap.L().Info("shutting down", zap.String("signal", s.String()))
	return 0
}

func main() {
	os.Exit(run(ParseFlags(os.Args[1:])))
}
