// mailengined is the engine's standalone entrypoint: opens the cache and
// vault, wires the controller façade, starts every enabled account, and
// runs until interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"github.com/hkdb/mailengine/engine"
	"github.com/hkdb/mailengine/internal/cache"
	"github.com/hkdb/mailengine/internal/logging"
	"github.com/hkdb/mailengine/internal/oauthmgr"
	"github.com/hkdb/mailengine/internal/vault"
)

func main() {
	var (
		dbPath  string
		dataDir string
		level   string
	)
	flag.StringVar(&dbPath, "db", "mailengine.db", "path to the cache database file")
	flag.StringVar(&dataDir, "data-dir", ".", "directory for vault fallback key material")
	flag.StringVar(&level, "log-level", "info", "log level (error, warn, info, debug, trace)")
	flag.Parse()

	if err := logging.Init(logging.Config{Level: level, Console: true}); err != nil {
		log.Fatalf("mailengined: logging init: %v", err)
	}

	db, err := cache.Open(dbPath)
	if err != nil {
		log.Fatalf("mailengined: open cache: %v", err)
	}
	defer db.Close()
	store := cache.NewStore(db)

	v, err := vault.Open(dataDir)
	if err != nil {
		log.Fatalf("mailengined: open vault: %v", err)
	}

	providers := map[string]oauthmgr.ProviderConfig{
		"google": {
			Endpoint:     google.Endpoint,
			ClientID:     os.Getenv("MAILENGINE_GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("MAILENGINE_GOOGLE_CLIENT_SECRET"),
			Scopes:       []string{"https://mail.google.com/"},
		},
		"microsoft": {
			Endpoint:     microsoft.AzureADEndpoint("common"),
			ClientID:     os.Getenv("MAILENGINE_MICROSOFT_CLIENT_ID"),
			ClientSecret: os.Getenv("MAILENGINE_MICROSOFT_CLIENT_SECRET"),
			Scopes:       []string{"offline_access", "https://outlook.office.com/IMAP.AccessAsUser.All"},
		},
	}

	eng := engine.New(store, v, providers)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("mailengined: start: %v", err)
	}

	<-ctx.Done()
	eng.StopAll()
}
