// Command fake-authority serves an in-memory fleet over the authority's
// websocket protocol for local development.
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

	"github.com/CamiloCaceres/artifacts-client/internal/authority"
	"github.com/CamiloCaceres/artifacts-client/internal/config"
)

func main() {
	var (
		addr      = flag.String("addr", ":3001", "http listen address")
		seedPath  = flag.String("seed", "", "fleet seed YAML (optional)")
		logLevel  = flag.String("log-level", "info", "debug, info, warn or error")
		logFormat = flag.String("log-format", "text", "text or json")
	)
	flag.Parse()

	lc := config.LogConfig{Level: *logLevel, Format: *logFormat}
	logger := lc.NewLogger(os.Stderr).With("component", "fake-authority")

	var seed authority.Seed
	if *seedPath != "" {
		s, err := authority.LoadSeed(*seedPath)
		if err != nil {
			logger.Error("load seed", "err", err)
			os.Exit(1)
		}
		seed = s
	}
	srv := authority.NewServer(authority.NewFleet(seed), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprintf(rw, "fleet_authority_clients %d\n", srv.ClientCount())
		fmt.Fprintf(rw, "fleet_authority_intents_total %d\n", srv.IntentCount())
	})
	mux.HandleFunc("/ws", srv.Handler())

	hs := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.DropClients()
		_ = hs.Shutdown(ctx2)
	}()

	logger.Info("listening", "addr", *addr, "bots", len(seed.Bots))
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("listen", "err", err)
		os.Exit(1)
	}
}
