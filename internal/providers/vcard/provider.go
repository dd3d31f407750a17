// Package vcard serves contacts from a vCard directory file.
package vcard

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-vcard"

	"task-router/internal/common/errors"
	"task-router/internal/tasks"
)

// ObjectType is the single object type served
const ObjectType = "Contact"

// Lookup fields. Several fields must all match.
const (
	FieldUID      = "uid"
	FieldEmail    = "email"
	FieldPhone    = "phone"
	FieldFullName = "fullName"
)

var recordFields = []string{
	"uid", "fullName", "givenName", "familyName", "email", "emails", "phone", "phones",
	"organization", "title", "birthday", "note", "categories", "address",
}

type contact struct {
	uid      string
	fullName string
	emails   []string
	phones   []string
	record   tasks.Record
}

// Provider implements tasks.DataProvider over parsed vCards
type Provider struct {
	name     string
	path     string
	mu       sync.RWMutex
	contacts []contact
}

// New creates an empty provider. Call Load or Reload before use.
func New(name string) *Provider {
	return &Provider{name: name}
}

// NewFromFile creates a provider and loads the vCards stored at path
func NewFromFile(name, path string) (*Provider, error) {
	p := New(name)
	p.path = path
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload reads the file given to NewFromFile again
func (p *Provider) Reload() error {
	if p.path == "" {
		return errors.ConfigError("vcard provider has no file")
	}
	f, err := os.Open(p.path)
	if err != nil {
		return errors.ConfigError(fmt.Sprintf("cannot open vcard file: %v", err))
	}
	defer f.Close()
	return p.Load(f)
}

// Load replaces the contacts with the cards decoded from r
func (p *Provider) Load(r io.Reader) error {
	var contacts []contact
	dec := vcard.NewDecoder(r)
	for {
		card, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.ValidationError(fmt.Sprintf("failed to decode vCard: %v", err))
		}
		contacts = append(contacts, parseCard(card))
	}

	p.mu.Lock()
	p.contacts = contacts
	p.mu.Unlock()
	return nil
}

// Len returns the number of loaded contacts
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.contacts)
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Supports(objectType string) bool {
	return objectType == ObjectType
}

func (p *Provider) Lookup(ctx context.Context, objectType string, fields map[string]string) (tasks.FieldAccessor, error) {
	if objectType != ObjectType || len(fields) == 0 {
		return nil, nil
	}
	for name := range fields {
		switch name {
		case FieldUID, FieldEmail, FieldPhone, FieldFullName:
		default:
			return nil, errors.ValidationError(fmt.Sprintf("contacts cannot be looked up by %s", name))
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.contacts {
		if c.matches(fields) {
			return c.record, nil
		}
	}
	return nil, nil
}

func (c contact) matches(fields map[string]string) bool {
	for name, want := range fields {
		switch name {
		case FieldUID:
			if c.uid != want {
				return false
			}
		case FieldFullName:
			if !strings.EqualFold(c.fullName, strings.TrimSpace(want)) {
				return false
			}
		case FieldEmail:
			if !containsFold(c.emails, strings.TrimSpace(want)) {
				return false
			}
		case FieldPhone:
			if !containsPhone(c.phones, want) {
				return false
			}
		}
	}
	return true
}

func containsFold(list []string, want string) bool {
	for _, s := range list {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}

func containsPhone(list []string, want string) bool {
	want = digits(want)
	if want == "" {
		return false
	}
	for _, s := range list {
		if digits(s) == want {
			return true
		}
	}
	return false
}

// digits drops everything but digits so formatting differences do not matter
func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func parseCard(card vcard.Card) contact {
	c := contact{record: tasks.Record{}}

	if uid := card.Get(vcard.FieldUID); uid != nil {
		c.uid = uid.Value
		c.record["uid"] = uid.Value
	}
	if fn := card.Get(vcard.FieldFormattedName); fn != nil {
		c.fullName = fn.Value
		c.record["fullName"] = fn.Value
	}
	if name := card.Name(); name != nil {
		c.record["givenName"] = name.GivenName
		c.record["familyName"] = name.FamilyName
	}

	for _, email := range card[vcard.FieldEmail] {
		c.emails = append(c.emails, email.Value)
	}
	if preferred := preferredValue(card[vcard.FieldEmail]); preferred != "" {
		c.record["email"] = preferred
		c.record["emails"] = c.emails
	}

	for _, tel := range card[vcard.FieldTelephone] {
		c.phones = append(c.phones, tel.Value)
	}
	if preferred := preferredValue(card[vcard.FieldTelephone]); preferred != "" {
		c.record["phone"] = preferred
		c.record["phones"] = c.phones
	}

	if org := card.Get(vcard.FieldOrganization); org != nil {
		// ORG components are separated by semicolons, the first is the company
		c.record["organization"] = strings.Split(org.Value, ";")[0]
	}
	if title := card.Get(vcard.FieldTitle); title != nil {
		c.record["title"] = title.Value
	}
	if note := card.Get(vcard.FieldNote); note != nil {
		c.record["note"] = note.Value
	}
	if bday := card.Get(vcard.FieldBirthday); bday != nil {
		if t, err := parseDate(bday.Value); err == nil {
			c.record["birthday"] = tasks.LocalDateValue(t.Year(), t.Month(), t.Day())
		} else {
			c.record["birthday"] = bday.Value
		}
	}
	if categories := card.Categories(); len(categories) > 0 {
		c.record["categories"] = categories
	}
	if addresses := card.Addresses(); len(addresses) > 0 {
		a := addresses[0]
		for _, candidate := range addresses {
			if candidate.Params.Get(vcard.ParamPreferred) == "1" {
				a = candidate
				break
			}
		}
		c.record["address"] = map[string]interface{}{
			"street":     a.StreetAddress,
			"city":       a.Locality,
			"region":     a.Region,
			"postalCode": a.PostalCode,
			"country":    a.Country,
		}
	}
	return c
}

// preferredValue returns the PREF=1 value of fields, else the first one
func preferredValue(fields []*vcard.Field) string {
	for _, f := range fields {
		if f.Params.Get(vcard.ParamPreferred) == "1" {
			return f.Value
		}
	}
	if len(fields) > 0 {
		return fields[0].Value
	}
	return ""
}

func parseDate(value string) (time.Time, error) {
	formats := []string{
		"20060102",
		"2006-01-02",
		time.RFC3339,
	}
	for _, format := range formats {
		if t, err := time.Parse(format, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", value)
}

func (p *Provider) Describe() tasks.ProviderInfo {
	return tasks.ProviderInfo{
		Name: p.name,
		Objects: []tasks.ObjectInfo{{
			Type:         ObjectType,
			DisplayName:  "Contact",
			LookupFields: []string{FieldUID, FieldEmail, FieldPhone, FieldFullName},
			Fields:       recordFields,
		}},
	}
}

var (
	_ tasks.DataProvider = (*Provider)(nil)
	_ tasks.Describer    = (*Provider)(nil)
)
