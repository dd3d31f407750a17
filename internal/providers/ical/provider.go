// Package ical serves calendar events from an iCalendar file.
package ical

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	ics "github.com/emersion/go-ical"

	"task-router/internal/common/errors"
	"task-router/internal/tasks"
)

// ObjectType is the single object type served
const ObjectType = "Event"

// Lookup fields. Several fields must all match.
const (
	FieldUID       = "uid"
	FieldSummary   = "summary"
	FieldLocation  = "location"
	FieldOrganizer = "organizer"
	// FieldDate matches the local start date, formatted 2006-01-02
	FieldDate = "date"
)

var recordFields = []string{
	"uid", "summary", "description", "location", "status", "start", "end", "allDay", "organizer", "attendees",
}

type event struct {
	uid       string
	summary   string
	location  string
	organizer string
	date      string
	record    tasks.Record
}

// Provider implements tasks.DataProvider over parsed VEVENTs
type Provider struct {
	name     string
	path     string
	location *time.Location
	mu       sync.RWMutex
	events   []event
}

// New creates an empty provider. Floating times are read in loc (UTC when nil).
func New(name string, loc *time.Location) *Provider {
	if loc == nil {
		loc = time.UTC
	}
	return &Provider{name: name, location: loc}
}

// NewFromFile creates a provider and loads the calendars stored at path
func NewFromFile(name, path string, loc *time.Location) (*Provider, error) {
	p := New(name, loc)
	p.path = path
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload reads the file given to NewFromFile again
func (p *Provider) Reload() error {
	if p.path == "" {
		return errors.ConfigError("ical provider has no file")
	}
	f, err := os.Open(p.path)
	if err != nil {
		return errors.ConfigError(fmt.Sprintf("cannot open calendar file: %v", err))
	}
	defer f.Close()
	return p.Load(f)
}

// Load replaces the events with the VEVENTs of every calendar decoded from r
func (p *Provider) Load(r io.Reader) error {
	var events []event
	dec := ics.NewDecoder(r)
	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.ValidationError(fmt.Sprintf("failed to decode calendar: %v", err))
		}
		for _, child := range cal.Children {
			if child.Name != ics.CompEvent {
				continue
			}
			events = append(events, p.parseEvent(child))
		}
	}

	p.mu.Lock()
	p.events = events
	p.mu.Unlock()
	return nil
}

// Len returns the number of loaded events
func (p *Provider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.events)
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
		case FieldUID, FieldSummary, FieldLocation, FieldOrganizer, FieldDate:
		default:
			return nil, errors.ValidationError(fmt.Sprintf("events cannot be looked up by %s", name))
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, e := range p.events {
		if e.matches(fields) {
			return e.record, nil
		}
	}
	return nil, nil
}

func (e event) matches(fields map[string]string) bool {
	for name, want := range fields {
		want = strings.TrimSpace(want)
		var ok bool
		switch name {
		case FieldUID:
			ok = e.uid == want
		case FieldSummary:
			ok = strings.EqualFold(e.summary, want)
		case FieldLocation:
			ok = strings.EqualFold(e.location, want)
		case FieldOrganizer:
			ok = strings.EqualFold(e.organizer, want)
		case FieldDate:
			ok = e.date == want
		}
		if !ok {
			return false
		}
	}
	return true
}

func (p *Provider) parseEvent(comp *ics.Component) event {
	e := event{record: tasks.Record{}}

	if uid := comp.Props.Get(ics.PropUID); uid != nil {
		e.uid = uid.Value
		e.record["uid"] = uid.Value
	}
	if summary, err := comp.Props.Text(ics.PropSummary); err == nil && summary != "" {
		e.summary = summary
		e.record["summary"] = summary
	}
	if desc, err := comp.Props.Text(ics.PropDescription); err == nil && desc != "" {
		e.record["description"] = desc
	}
	if loc, err := comp.Props.Text(ics.PropLocation); err == nil && loc != "" {
		e.location = loc
		e.record["location"] = loc
	}

	if status := comp.Props.Get(ics.PropStatus); status != nil {
		e.record["status"] = strings.ToLower(status.Value)
	} else {
		e.record["status"] = "confirmed"
	}

	if start := comp.Props.Get(ics.PropDateTimeStart); start != nil {
		if t, err := start.DateTime(p.location); err == nil {
			allDay := start.ValueType() == ics.ValueDate
			e.record["allDay"] = allDay
			if allDay {
				e.record["start"] = tasks.LocalDateValue(t.Year(), t.Month(), t.Day())
			} else {
				e.record["start"] = tasks.DateValue(t)
			}
			e.date = t.Format(tasks.LocalDateLayout)
		}
	}
	if end := comp.Props.Get(ics.PropDateTimeEnd); end != nil {
		if t, err := end.DateTime(p.location); err == nil {
			if end.ValueType() == ics.ValueDate {
				e.record["end"] = tasks.LocalDateValue(t.Year(), t.Month(), t.Day())
			} else {
				e.record["end"] = tasks.DateValue(t)
			}
		}
	}

	if org := comp.Props.Get(ics.PropOrganizer); org != nil {
		organizer := map[string]interface{}{"email": mailAddress(org.Value)}
		if cn := org.Params.Get(ics.ParamCommonName); cn != "" {
			organizer["name"] = cn
		}
		e.organizer = mailAddress(org.Value)
		e.record["organizer"] = organizer
	}

	var attendees []string
	for _, att := range comp.Props[ics.PropAttendee] {
		attendees = append(attendees, mailAddress(att.Value))
	}
	if len(attendees) > 0 {
		e.record["attendees"] = attendees
	}
	return e
}

func mailAddress(value string) string {
	if strings.HasPrefix(strings.ToLower(value), "mailto:") {
		return value[len("mailto:"):]
	}
	return value
}

func (p *Provider) Describe() tasks.ProviderInfo {
	return tasks.ProviderInfo{
		Name: p.name,
		Objects: []tasks.ObjectInfo{{
			Type:         ObjectType,
			DisplayName:  "Calendar event",
			LookupFields: []string{FieldUID, FieldSummary, FieldLocation, FieldOrganizer, FieldDate},
			Fields:       recordFields,
		}},
	}
}

var (
	_ tasks.DataProvider = (*Provider)(nil)
	_ tasks.Describer    = (*Provider)(nil)
)
