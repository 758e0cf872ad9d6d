package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"github.com/kevinxiao27/seqcrdt/host"
	"github.com/kevinxiao27/seqcrdt/internal/config"
	"github.com/kevinxiao27/seqcrdt/persist"
	"github.com/kevinxiao27/seqcrdt/relay"
	"github.com/kevinxiao27/seqcrdt/server"
	"github.com/prometheus/client_golang/prometheus"
)

const version = "0.1.0"

const usage = `Collaborative sequence document server.

Documents are kept in pebble under --data unless --postgres is given.
With --redis, every change is relayed to the other servers on that redis.

Usage:
    seqcrdt-server [--addr=<addr>] [--replica=<id>] [--data=<dir>]
        [--postgres=<url>] [--redis=<addr>] [--autosave=<interval>] [--v=<level>]
    seqcrdt-server -h | --help
    seqcrdt-server --version

Options:
    -h --help               Show this screen.
    --version               Show version.
    --addr=<addr>           Listen address [env SEQCRDT_ADDR, default :8080].
    --replica=<id>          Replica id [env SEQCRDT_REPLICA, default random].
    --data=<dir>            Pebble directory [env SEQCRDT_DATA].
    --postgres=<url>        Postgres url [env DATABASE_URL].
    --redis=<addr>          Redis address [env REDIS_ADDR].
    --autosave=<interval>   Save interval, 0 to save only on exit [env SEQCRDT_AUTOSAVE].
    --v=<level>             Log verbosity.`

func openStore(ctx context.Context, cfg config.Config) (persist.Store, error) {
	if cfg.DatabaseURL != "" {
		return persist.OpenPostgres(ctx, cfg.DatabaseURL)
	}
	return persist.OpenPebble(cfg.DataDir, nil)
}

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		panic(err)
	}
	_ = flag.Set("logtostderr", "true")
	if v, _ := opts.String("--v"); v != "" {
		_ = flag.Set("v", v)
	}
	defer glog.Flush()

	if err := run(opts); err != nil {
		glog.Errorf("%v", err)
		glog.Flush()
		os.Exit(1)
	}
}

func run(opts docopt.Opts) error {
	cfg, err := config.FromOpts(opts)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	reg := host.NewRegistry(cfg.Replica, store)
	if err := reg.OpenAll(ctx); err != nil {
		return fmt.Errorf("load documents: %w", err)
	}

	metrics := server.NewMetrics()
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	var pub server.Publisher
	var rel *relay.Relay
	if cfg.RedisAddr != "" {
		if rel, err = relay.Dial(ctx, cfg.RedisAddr, reg); err != nil {
			return err
		}
		defer rel.Close()
		pub = rel
	}
	srv := server.New(reg, pub, metrics)
	if rel != nil {
		rel.OnApply = srv.Notify
		go func() {
			if err := rel.Run(ctx); err != nil {
				glog.Errorf("[relay] %v", err)
			}
		}()
	}

	saved := make(chan struct{})
	go func() {
		defer close(saved)
		reg.Autosave(ctx, cfg.Autosave)
	}()

	httpServer := &http.Server{Addr: cfg.Addr, Handler: srv.Router()}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdown)
	}()

	glog.Infof("seqcrdt server %s listening on %s as replica %s", version, cfg.Addr, cfg.Replica)
	glog.Infof("WebSocket API: ws://localhost%s/ws?doc=<name>", cfg.Addr)
	err = httpServer.ListenAndServe()
	stop()
	<-saved
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if cfg.Autosave <= 0 {
		return reg.SaveAll(context.Background())
	}
	return nil
}
