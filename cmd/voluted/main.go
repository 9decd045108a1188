// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/volute-run/voluted/internal/activity"
	"github.com/volute-run/voluted/internal/api"
	"github.com/volute-run/voluted/internal/api/handlers"
	"github.com/volute-run/voluted/internal/budget"
	"github.com/volute-run/voluted/internal/config"
	"github.com/volute-run/voluted/internal/eventbus"
	"github.com/volute-run/voluted/internal/mind"
	"github.com/volute-run/voluted/internal/pipeline"
	"github.com/volute-run/voluted/internal/registry"
	"github.com/volute-run/voluted/internal/scheduler"
	"github.com/volute-run/voluted/internal/sequencer"
	"github.com/volute-run/voluted/internal/store"
	"github.com/volute-run/voluted/internal/typing"
)

var version = "0.1.0"

func main() {
	var (
		home        string
		host        string
		port        int
		mindBinary  string
		showVersion bool
	)

	flag.StringVar(&home, "home", defaultHome(), "Daemon state directory")
	flag.StringVar(&host, "host", "", "HTTP listen host (overrides daemon.json)")
	flag.IntVar(&port, "port", 0, "HTTP listen port (overrides daemon.json)")
	flag.StringVar(&mindBinary, "mind-binary", "", "Path to the mind server binary every mind is spawned from")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.Parse()

	if showVersion {
		fmt.Printf("voluted %s\n", version)
		os.Exit(0)
	}

	if mindBinary == "" {
		log.Fatal("voluted: -mind-binary is required")
	}

	if err := run(home, host, port, mindBinary); err != nil {
		log.Fatalf("voluted: %v", err)
	}
}

func defaultHome() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".volute")
	}
	return ".volute"
}

// run wires every daemon component together, serves HTTP until a
// shutdown signal arrives, and drains gracefully. Grounded on the
// teacher's cmd/trellis main()/app.Run() flag-and-signal shape and
// app.Shutdown()'s stop-accepting → stop children → flush → close
// ordering (internal/app/app.go, since superseded).
func run(home, host string, port int, mindBinary string) error {
	if err := os.MkdirAll(home, 0755); err != nil {
		return fmt.Errorf("create home dir: %w", err)
	}
	if err := writePIDFile(home); err != nil {
		return fmt.Errorf("write daemon pid file: %w", err)
	}
	defer os.Remove(filepath.Join(home, "daemon.pid"))

	cfgLoader := config.NewLoader()
	daemonCfg, err := cfgLoader.LoadDaemonConfig(home)
	if err != nil {
		return fmt.Errorf("load daemon config: %w", err)
	}
	if host != "" {
		daemonCfg.Hostname = host
	}
	if port != 0 {
		daemonCfg.Port = uint16(port)
	}

	reg, err := registry.New(filepath.Join(home, "minds.json"), daemonCfg.BasePort)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	db, err := store.Open(filepath.Join(home, "volute.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	seq := sequencer.New()
	bus := eventbus.New(seq, db)
	tracker := activity.New(bus)
	budgetMgr := budget.New(home)
	typingMap := typing.New()
	envSource := config.NewEnvSource(home)

	resolver := mind.NewRegistryResolver(reg, home, mindBinary)
	pl := pipeline.New(db, budgetMgr, tracker, bus, resolver)
	sup := mind.New(home, mindBinary, resolver, bus, envSource, pl)
	sched := scheduler.New(home, pipeline.SchedulerDeliverer{Pipeline: pl})
	if err := sched.LoadState(); err != nil {
		log.Printf("voluted: load scheduler state: %v", err)
	}

	regWatcher, err := registry.NewWatcher(reg)
	if err != nil {
		log.Printf("voluted: registry watch disabled: %v", err)
	} else {
		go regWatcher.Run()
	}

	mindsHandler := handlers.NewMindsHandler(reg, sup, db, tracker, cfgLoader, sched, budgetMgr, home)

	deps := api.Dependencies{
		Minds:       mindsHandler,
		Env:         handlers.NewEnvHandler(home),
		Events:      handlers.NewEventHandler(seq),
		Channels:    handlers.NewChannelsHandler(db),
		Pages:       handlers.NewPagesHandler(home),
		Auth:        handlers.NewAuthHandler(db),
		Message:     handlers.NewMessageHandler(pl),
		Typing:      handlers.NewTypingHandler(typingMap, seq),
		DaemonToken: daemonCfg.Token,
		OriginHost:  fmt.Sprintf("http://%s:%d", daemonCfg.Hostname, daemonCfg.Port),
	}

	srv := api.NewServer(api.ServerConfig{Host: daemonCfg.Hostname, Port: int(daemonCfg.Port)}, deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go typingMap.Run()
	go sched.Run()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				budgetMgr.Tick(pl.DrainQueued)
				if err := budgetMgr.Flush(); err != nil {
					log.Printf("voluted: flush budget state: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	mindsHandler.ReconcileRunning(ctx)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("voluted: received signal %v, shutting down", sig)
	case err := <-serveErr:
		log.Printf("voluted: HTTP server error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("voluted: shutdown API server: %v", err)
	}

	sup.StopAll(shutdownCtx)
	sched.Stop()
	typingMap.Stop()
	if regWatcher != nil {
		if err := regWatcher.Close(); err != nil {
			log.Printf("voluted: close registry watcher: %v", err)
		}
	}
	tracker.StopAll()
	cancel()
	wg.Wait()

	if err := budgetMgr.Flush(); err != nil {
		log.Printf("voluted: final budget flush: %v", err)
	}

	return nil
}

func writePIDFile(home string) error {
	path := filepath.Join(home, "daemon.pid")
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644)
}
