package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"moonletter/config"
	"moonletter/discovery"
	"moonletter/gateway"
	"moonletter/mailbox"
	"moonletter/models"
	"moonletter/network"
	"moonletter/storage"
)

func main() {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}
	if cfg.ViewerName == "" {
		log.Fatalf("no viewer name configured; set viewer_name in %s", cfgPath)
	}

	fmt.Printf("Viewer:          %s\n", cfg.ViewerName)
	fmt.Printf("Device ID:       %s\n", cfg.DeviceID)
	fmt.Printf("Config File:     %s\n", cfgPath)
	dataDir := filepath.Dir(cfgPath)
	fmt.Printf("Data Directory:  %s\n", dataDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, teardown, err := openGateway(ctx, cfg, dataDir)
	if err != nil {
		log.Fatalf("startup failed while opening message gateway: %v", err)
	}
	defer teardown()

	box, err := mailbox.New(gw, cfg.ViewerName)
	if err != nil {
		log.Fatalf("startup failed while creating mailbox: %v", err)
	}
	defer box.Close()

	if err := box.Load(ctx); err != nil {
		log.Fatalf("startup failed while loading letters: %v", err)
	}
	if err := box.Subscribe(); err != nil {
		log.Fatalf("startup failed while subscribing to letter feed: %v", err)
	}

	entries := box.Visible()
	fmt.Printf("Letters:         %d\n", len(entries))
	for _, entry := range entries {
		fmt.Printf("  [%s] %s -> %s\n", entry.View.Status, entry.View.From, entry.View.To)
	}
	fmt.Printf("Moon Phase:      %s\n", models.PhaseName(time.Now().UTC()))

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Println("Status:          shutting down")
}

// openGateway selects the persistence gateway for the session. A configured
// relay URL wins; with no relay URL it tries mDNS discovery and falls back to
// the embedded local database when no relay answers.
func openGateway(ctx context.Context, cfg *config.SessionConfig, dataDir string) (gateway.Gateway, func(), error) {
	relayURL := cfg.RelayURL
	if relayURL == "" {
		relay, err := discovery.LookupRelay(ctx, discovery.Config{})
		switch {
		case err == nil:
			relayURL = relay.BaseURL
			fmt.Printf("Relay:           %s (%s, discovered)\n", relay.BaseURL, relay.Name)
		case errors.Is(err, discovery.ErrNoRelay):
			log.Printf("no relay discovered, using local database")
		default:
			log.Printf("relay discovery failed: %v, using local database", err)
		}
	}

	if relayURL != "" {
		relay, err := network.NewRelay(relayURL, network.Options{})
		if err != nil {
			return nil, nil, err
		}
		fmt.Printf("Relay:           %s\n", relayURL)
		return relay, func() {}, nil
	}

	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		return nil, nil, err
	}
	fmt.Printf("Database File:   %s\n", dbPath)
	teardown := func() {
		if err := store.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
	}
	return store, teardown, nil
}
