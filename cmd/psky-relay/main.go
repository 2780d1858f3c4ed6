// psky-relay mirrors the social.psky.* collections from the Jetstream
// firehose into PostgreSQL, applies room moderation lists, and serves
// the mirrored chat data over HTTP with live WebSocket push.
//
// It reads configuration from relay.json in the working directory,
// connects to PostgreSQL, bootstraps the schema, resumes the firehose
// subscription from the saved cursor, and starts the HTTP server.
//
// Usage:
//
//	./psky-relay              # reads ./relay.json, starts relay + server
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/psky-chat/psky-relay/internal/config"
	"github.com/psky-chat/psky-relay/internal/cursor"
	"github.com/psky-chat/psky-relay/internal/database"
	"github.com/psky-chat/psky-relay/internal/events"
	"github.com/psky-chat/psky-relay/internal/jetstream"
	"github.com/psky-chat/psky-relay/internal/lexicon"
	"github.com/psky-chat/psky-relay/internal/relay"
	"github.com/psky-chat/psky-relay/internal/server"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("psky-relay starting...")

	// Load configuration.
	cfg, err := config.Load("relay.json")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (listen=%s db=%s/%s jetstream=%s)",
		cfg.ListenAddr, cfg.DBConn, cfg.DBName, cfg.JetstreamEndpoint)

	// Root context cancelled on SIGINT or SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received %v, shutting down...", sig)
		cancel()
	}()

	// Connect to PostgreSQL and bootstrap the mirror schema.
	db, err := database.Open(ctx, cfg.ConnString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected, schema bootstrapped")

	// Load the saved firehose cursor. A corrupt or missing file falls
	// back to tailing from now.
	ckpt := cursor.NewStore(cfg.CursorFile)
	initial, err := ckpt.Load()
	if err != nil {
		log.Printf("Warning: cursor load failed, tailing from now: %v", err)
		initial = 0
	}
	if initial > 0 {
		log.Printf("Resuming firehose at cursor %d", initial)
	}
	flusher := cursor.NewFlusher(ckpt, cfg.CheckpointInterval(), initial)

	// Wire the engine: mirror store, fan-out, relay, subscription.
	store := database.NewStore(db.Pool)
	evts := events.NewManager()
	rly := relay.New(store, evts, flusher)
	client := jetstream.New(cfg.JetstreamEndpoint, []string{lexicon.WantedCollections})

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		if err := client.Run(ctx, rly); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Jetstream consumer stopped: %v", err)
		}
	}()

	// Start the HTTP server (blocks until context is cancelled).
	srv := server.New(cfg, store, evts)
	if err := srv.Start(ctx); err != nil {
		log.Printf("Server error: %v", err)
		cancel()
	}

	// Let the in-flight event finish and the final cursor flush land.
	<-clientDone
	evts.Shutdown()

	log.Println("psky-relay stopped")
}
