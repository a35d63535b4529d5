// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	log "github.com/inconshreveable/log15"

	"github.com/sidechain-labs/sscvm/bus"
	"github.com/sidechain-labs/sscvm/client"
	"github.com/sidechain-labs/sscvm/config"
	"github.com/sidechain-labs/sscvm/sscvm"
)

// Version of the node binary.
const Version = "1.0.0"

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.New(os.Args[1:])
	if err != nil {
		fmt.Printf("couldn't get config: %s\n", err)
		os.Exit(1)
	}
	// Print version and exit
	if cfg.Version {
		fmt.Printf("%s@%s\n", sscvm.Name, Version)
		os.Exit(0)
	}

	log.Root().SetHandler(log.LvlFilterHandler(cfg.LogLevel, log.StreamHandler(os.Stderr, log.TerminalFormat())))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// register signals to kill the application
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		log.Error("node failed", "err", err)
		os.Exit(1)
	}
	log.Info("Terminated successfully.")
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	registry := prometheus.NewRegistry()
	vmConfig := cfg.VM()
	payload, err := json.Marshal(vmConfig)
	if err != nil {
		_ = db.Close()
		return err
	}
	defaults := sscvm.Config{Registerer: registry}
	if cfg.EnableHashVerification {
		defaults.Fetcher = client.New(cfg.ReferenceNodeURI)
	}

	b, err := bus.New(bus.DefaultInboxSize)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer b.Close()

	vm := &sscvm.VM{}
	if err := b.Register(sscvm.PluginName, sscvm.NewPlugin(vm, db, defaults)); err != nil {
		_ = db.Close()
		return err
	}
	if _, err := b.Send(ctx, &bus.Message{
		From:    sscvm.Name,
		To:      sscvm.PluginName,
		Action:  bus.InitAction,
		Payload: payload,
	}); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize vm: %w", err)
	}

	handler, err := sscvm.NewHandler(vm, b)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/rpc", handler)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("serving JSON-RPC", "address", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		serverErr := server.Shutdown(shutdownCtx)
		_, stopErr := b.Send(shutdownCtx, &bus.Message{From: sscvm.Name, To: sscvm.PluginName, Action: bus.StopAction})
		if serverErr != nil {
			return serverErr
		}
		return stopErr
	})
	return g.Wait()
}
