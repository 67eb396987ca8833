package account

import (
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-vcard"
	"github.com/google/uuid"

	"github.com/hkdb/mailengine/internal/cache"
)

// ImportVCard decodes a vCard 3.0/4.0 stream and upserts one cache.Contact
// per card, scoped to accountID (empty accountID makes the contact global).
// It returns the number of cards imported; a card missing both an email and
// a formatted name is skipped rather than failing the whole import.
func (r *Registry) ImportVCard(accountID string, in io.Reader) (int, error) {
	dec := vcard.NewDecoder(in)
	n := 0
	for {
		card, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, fmt.Errorf("account: decode vcard: %w", err)
		}
		c := contactFromCard(accountID, card)
		if c.Email == "" && c.DisplayName == "" {
			continue
		}
		if err := r.store.UpsertContact(c); err != nil {
			return n, fmt.Errorf("account: store contact: %w", err)
		}
		n++
	}
	return n, nil
}

func contactFromCard(accountID string, card vcard.Card) *cache.Contact {
	c := &cache.Contact{
		ID:           uuid.NewString(),
		AccountID:    accountID,
		DisplayName:  card.PreferredValue(vcard.FieldFormattedName),
		Email:        card.PreferredValue(vcard.FieldEmail),
		Organization: strings.TrimSuffix(card.PreferredValue(vcard.FieldOrganization), ";"),
		Notes:        card.PreferredValue(vcard.FieldNote),
	}
	if name := card.Name(); name != nil {
		c.FirstName = name.GivenName
		c.LastName = name.FamilyName
	}
	return c
}

// ExportVCard encodes every contact for accountID (pass "" for the global
// book) as a single vCard 3.0 stream.
func (r *Registry) ExportVCard(accountID string, out io.Writer) error {
	contacts, err := r.store.ListContacts(accountID)
	if err != nil {
		return fmt.Errorf("account: list contacts: %w", err)
	}
	enc := vcard.NewEncoder(out)
	for _, c := range contacts {
		if err := enc.Encode(cardFromContact(c)); err != nil {
			return fmt.Errorf("account: encode vcard: %w", err)
		}
	}
	return nil
}

func cardFromContact(c *cache.Contact) vcard.Card {
	card := make(vcard.Card)
	card.SetValue(vcard.FieldVersion, "3.0")
	if c.DisplayName != "" {
		card.SetValue(vcard.FieldFormattedName, c.DisplayName)
	} else {
		card.SetValue(vcard.FieldFormattedName, c.Email)
	}
	if c.FirstName != "" || c.LastName != "" {
		card.SetName(&vcard.Name{GivenName: c.FirstName, FamilyName: c.LastName})
	}
	if c.Email != "" {
		card.AddValue(vcard.FieldEmail, c.Email)
	}
	if c.Organization != "" {
		card.AddValue(vcard.FieldOrganization, c.Organization)
	}
	if c.Notes != "" {
		card.AddValue(vcard.FieldNote, c.Notes)
	}
	return card
}
