package account

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/hkdb/mailengine/internal/cache"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return New(cache.NewStore(db))
}

const sampleVCard = "BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"FN:Ada Lovelace\r\n" +
	"N:Lovelace;Ada;;;\r\n" +
	"EMAIL:ada@example.com\r\n" +
	"ORG:Analytical Engines Ltd\r\n" +
	"END:VCARD\r\n"

func TestImportVCardUpsertsContact(t *testing.T) {
	r := newTestRegistry(t)

	n, err := r.ImportVCard("", strings.NewReader(sampleVCard))
	if err != nil {
		t.Fatalf("ImportVCard: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 card imported, got %d", n)
	}

	contacts, err := r.store.ListContacts("")
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("expected 1 contact, got %d", len(contacts))
	}
	c := contacts[0]
	if c.Email != "ada@example.com" || c.DisplayName != "Ada Lovelace" || c.FirstName != "Ada" || c.LastName != "Lovelace" {
		t.Fatalf("unexpected contact fields: %+v", c)
	}
}

func TestImportVCardIsIdempotentByEmail(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.ImportVCard("", strings.NewReader(sampleVCard)); err != nil {
		t.Fatalf("first import: %v", err)
	}
	if _, err := r.ImportVCard("", strings.NewReader(sampleVCard)); err != nil {
		t.Fatalf("second import: %v", err)
	}

	contacts, err := r.store.ListContacts("")
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("expected re-importing the same card to upsert, got %d contacts", len(contacts))
	}
}

func TestExportVCardRoundTrips(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.ImportVCard("", strings.NewReader(sampleVCard)); err != nil {
		t.Fatalf("ImportVCard: %v", err)
	}

	var buf strings.Builder
	if err := r.ExportVCard("", &buf); err != nil {
		t.Fatalf("ExportVCard: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "ada@example.com") {
		t.Fatalf("expected exported vcard to contain the contact's email, got %q", out)
	}
	if !strings.Contains(out, "Ada Lovelace") {
		t.Fatalf("expected exported vcard to contain the contact's formatted name, got %q", out)
	}
}
