// mailengine-diag prints the engine's readiness surface (§6): accounts
// configured, the active account, cache reachability, outbox depth, OAuth
// token validity, and basic network reachability. Intended for support
// tickets and CI smoke checks, not interactive use.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/hkdb/mailengine/internal/cache"
)

func main() {
	dbPath := flag.String("db", "", "path to the cache database file")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "mailengine-diag: -db is required")
		os.Exit(2)
	}

	db, err := cache.Open(*dbPath)
	if err != nil {
		fmt.Printf("cache: UNREACHABLE (%v)\n", err)
		os.Exit(1)
	}
	defer db.Close()
	store := cache.NewStore(db)

	fmt.Println("cache: reachable")

	accounts, err := store.ListAccounts()
	if err != nil {
		fmt.Printf("accounts: error listing (%v)\n", err)
		os.Exit(1)
	}
	fmt.Printf("accounts: %d configured\n", len(accounts))

	active, err := store.GetActiveAccount()
	if err != nil {
		fmt.Println("active account: none selected")
	} else {
		fmt.Printf("active account: %s (%s)\n", active.Email, active.ID)
	}

	for _, a := range accounts {
		depth, err := store.CountOutbox(a.ID)
		if err != nil {
			fmt.Printf("  %s: outbox depth error: %v\n", a.Email, err)
			continue
		}
		fmt.Printf("  %s: outbox depth %d, last sync %s\n", a.Email, depth, formatLastSync(a.LastSyncAt))
		fmt.Printf("  %s: smtp reachable: %v\n", a.Email, reachable(a.SMTP.Host, a.SMTP.Port))
		fmt.Printf("  %s: imap reachable: %v\n", a.Email, reachable(a.IMAP.Host, a.IMAP.Port))
		if a.AuthType == cache.AuthOAuth2 {
			tok, err := store.GetOAuthToken(a.ID, a.ProviderTag)
			fmt.Printf("  %s: oauth token valid: %v\n", a.Email, err == nil && time.Now().Before(tok.ExpiresAt))
		}
	}
}

func formatLastSync(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}

func reachable(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), 5*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
