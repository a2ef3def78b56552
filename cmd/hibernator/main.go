// Command hibernator runs the reverse-proxy hibernation daemon: it watches
// a set of backend services, puts idle ones to sleep, and wakes them on the
// next request.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mubelotix/nginx-hibernator/internal/config"
	"github.com/Mubelotix/nginx-hibernator/internal/errs"
	"github.com/Mubelotix/nginx-hibernator/internal/fleet"
	"github.com/Mubelotix/nginx-hibernator/internal/logging"
)

// Exit codes: 0 normal, 2 invalid config, 3 bind failure,
// 4 unable to read nginx/service-manager, 1 otherwise.
const (
	exitOK            = 0
	exitOther         = 1
	exitInvalidConfig = 2
	exitBindFailure   = 3
	exitProxyOrSvcMgr = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "/etc/hibernator/hibernator.toml", "path to the TOML configuration file")
		logLevel   = flag.String("log-level", "info", "debug|info|warn|error")
		prettyLog  = flag.Bool("pretty-log", false, "use a human-readable console log encoder instead of JSON")
	)
	flag.Parse()

	log := logging.New(*logLevel, *prettyLog)
	defer log.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("loading config", logging.Err(err))
		var cerr *errs.ConfigError
		if errors.As(err, &cerr) {
			return exitInvalidConfig
		}
		return exitOther
	}

	f, err := fleet.New(cfg, log)
	if err != nil {
		log.Error("building fleet", logging.Err(err))
		return exitOther
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.Start(ctx); err != nil {
		log.Error("starting fleet", logging.Err(err))
		var netErr *net.OpError
		if errors.As(err, &netErr) {
			return exitBindFailure
		}
		var svcErr *errs.ServiceManagerError
		var proxyErr *errs.ProxyConfigError
		if errors.As(err, &svcErr) || errors.As(err, &proxyErr) {
			return exitProxyOrSvcMgr
		}
		return exitOther
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	log.Info("received signal, shutting down", logging.String("signal", sig.String()))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := f.Stop(stopCtx); err != nil {
		log.Error("shutdown error", logging.Err(err))
		return exitOther
	}

	fmt.Fprintln(os.Stderr, "hibernator stopped")
	return exitOK
}
