// Command fieldmeshd is the daemon entrypoint: it loads a bootstrap Config,
// constructs the storage/event collaborators, boots the Engine, serves the
// admin HTTP surface, and waits on a signal for graceful shutdown, in the
// teacher CLI's flag-and-signal idiom (cli/cmd/ariadne/main.go).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/fieldmesh/core/cmd/fieldmeshd/adminhttp"
	"github.com/fieldmesh/core/engine"
	"github.com/fieldmesh/core/engine/storage/memstore"
	"github.com/fieldmesh/core/engine/telemetry/logging"
)

func main() {
	var (
		configPath    string
		listenAddr    string
		storePath     string
		eventLogPath  string
		snapshotEvery time.Duration
		showVersion   bool
	)
	flag.StringVar(&configPath, "config", "fieldmesh.yaml", "Path to the bootstrap config file")
	flag.StringVar(&listenAddr, "listen", ":8080", "Admin HTTP surface listen address")
	flag.StringVar(&storePath, "store", "fieldmesh-store.json", "Path to the memstore snapshot file")
	flag.StringVar(&eventLogPath, "event-log", "fieldmesh-events.jsonl", "Path to the append-only event log")
	flag.DurationVar(&snapshotEvery, "snapshot-interval", 30*time.Second, "Interval between engine snapshots logged to stderr (0=disabled)")
	flag.BoolVar(&showVersion, "version", false, "Show version / build info")
	flag.Parse()

	if showVersion {
		fmt.Println("fieldmeshd - edge data-plane daemon")
		return
	}

	cfg, err := engine.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	store, err := memstore.Open(storePath, 2*time.Second)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	events, err := memstore.OpenEventSink(eventLogPath)
	if err != nil {
		log.Fatalf("open event log: %v", err)
	}
	defer func() { _ = events.Close() }()

	lg := logging.New(nil)

	eng, err := engine.New(cfg, store, events, lg)
	if err != nil {
		log.Fatalf("create engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Bootstrap(ctx); err != nil {
		log.Fatalf("bootstrap engine: %v", err)
	}
	if err := eng.WatchRuntimeConfig(ctx); err != nil {
		log.Fatalf("watch runtime config: %v", err)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("signal received; initiating graceful shutdown...")
		cancel()
		<-sigCh
		log.Println("second signal received; forcing exit")
		os.Exit(1)
	}()

	router := adminhttp.NewRouter(adminhttp.Options{
		Engine: eng,
		Events: adminhttp.NewEventsReader(events),
	})
	srv := &http.Server{Addr: listenAddr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	var ticker *time.Ticker
	if snapshotEvery > 0 {
		ticker = time.NewTicker(snapshotEvery)
		defer ticker.Stop()
		go func() {
			for {
				select {
				case <-ticker.C:
					snap := eng.Snapshot()
					b, _ := json.MarshalIndent(snap, "", "  ")
					fmt.Fprintf(os.Stderr, "\n=== SNAPSHOT %s ===\n%s\n", time.Now().Format(time.RFC3339), string(b))
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	log.Printf("admin HTTP surface listening on %s", listenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("admin HTTP surface: %v", err)
	}

	final := eng.Snapshot()
	b, _ := json.MarshalIndent(final, "", "  ")
	fmt.Fprintf(os.Stderr, "\n=== FINAL SNAPSHOT %s ===\n%s\n", time.Now().Format(time.RFC3339), string(b))
}
