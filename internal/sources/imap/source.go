// Package imap turns unseen messages of a mailbox into trigger events.
//
// The folder is polled on an interval. Every unseen message newer than the
// last one handled becomes one event on the relay and is flagged \Seen once
// the relay accepted it. A message the relay refused stays unseen and is
// picked up again by the next poll.
package imap

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/google/uuid"

	"task-router/internal/common/errors"
	"task-router/internal/common/logging"
	"task-router/internal/tasks"
)

// Event parameters
const (
	ParamUID         = "uid"
	ParamMessageID   = "messageId"
	ParamFrom        = "from"
	ParamFromName    = "fromName"
	ParamTo          = "to"
	ParamCc          = "cc"
	ParamSubject     = "subject"
	ParamDate        = "date"
	ParamBody        = "body"
	ParamAttachments = "attachments"
	ParamFolder      = "folder"
)

// Source polls one mailbox folder
type Source struct {
	config *Config
	relay  tasks.Relay
	logger logging.Logger

	mu      sync.Mutex
	client  *client.Client
	lastUID uint32
	running bool
	stats   Stats
}

// Stats counts what the source did
type Stats struct {
	Polls    int64     `json:"polls"`
	Messages int64     `json:"messages"`
	Errors   int64     `json:"errors"`
	LastPoll time.Time `json:"lastPoll,omitempty"`
}

// New creates a mailbox source emitting on relay
func New(config *Config, relay tasks.Relay, logger logging.Logger) (*Source, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid IMAP config: %v", err))
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Source{
		config: config,
		relay:  relay,
		logger: logger.WithFields(
			logging.String("component", "imap_source"),
			logging.String("host", config.Host),
			logging.String("folder", config.Folder),
		),
	}, nil
}

// Start polls in the background until ctx is done
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.ConflictError("imap source already started")
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("IMAP source started",
		logging.String("username", s.config.Username),
		logging.Duration("poll_interval", s.config.PollInterval),
	)

	go s.pollLoop(ctx)
	return nil
}

func (s *Source) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	defer s.disconnect()

	s.pollAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("IMAP source stopped")
			return
		case <-ticker.C:
			s.pollAndLog(ctx)
		}
	}
}

func (s *Source) pollAndLog(ctx context.Context) {
	if n, err := s.Poll(ctx); err != nil {
		s.logger.Error("IMAP poll failed", err)
	} else if n > 0 {
		s.logger.Debug("IMAP poll emitted events", logging.Int("count", n))
	}
}

// Poll checks the folder once and returns how many events were emitted
func (s *Source) Poll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Polls++
	s.stats.LastPoll = time.Now()

	n, err := s.poll(ctx)
	if err != nil {
		s.stats.Errors++
		// force a fresh connection next time
		s.disconnectLocked()
	}
	s.stats.Messages += int64(n)
	return n, err
}

func (s *Source) poll(ctx context.Context) (int, error) {
	if err := s.connectLocked(); err != nil {
		return 0, err
	}

	if _, err := s.client.Select(s.config.Folder, false); err != nil {
		return 0, errors.ConnectionError("failed to select folder", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	if s.lastUID > 0 {
		criteria.Uid = new(imap.SeqSet)
		criteria.Uid.AddRange(s.lastUID+1, 0)
	}
	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return 0, errors.ConnectionError("search failed", err)
	}
	if len(uids) == 0 {
		return 0, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqset, items, messages)
	}()

	var fetched []*imap.Message
	for msg := range messages {
		fetched = append(fetched, msg)
	}
	if err := <-done; err != nil {
		return 0, errors.ConnectionError("fetch failed", err)
	}

	emitted := 0
	for _, msg := range fetched {
		// UID SEARCH n:* always matches the highest UID, even below n
		if msg.Uid <= s.lastUID {
			continue
		}

		event := s.toEvent(msg, section)
		sendCtx := logging.ContextWith(ctx, logging.EventIDKey, event.ID)
		if err := s.relay.Send(sendCtx, event); err != nil {
			return emitted, errors.UnavailableError(fmt.Sprintf("relay refused message %d", msg.Uid), err)
		}
		emitted++
		s.lastUID = msg.Uid

		if err := s.markSeen(msg.Uid); err != nil {
			s.logger.Warn("Failed to flag message as seen",
				logging.Err(err),
				logging.Int64("uid", int64(msg.Uid)),
			)
		}
	}
	return emitted, nil
}

func (s *Source) connectLocked() error {
	if s.client != nil {
		switch s.client.State() {
		case imap.AuthenticatedState, imap.SelectedState:
			return nil
		}
		s.disconnectLocked()
	}

	var (
		c   *client.Client
		err error
	)
	if s.config.UseTLS {
		c, err = client.DialTLS(s.config.Address(), nil)
	} else {
		c, err = client.Dial(s.config.Address())
	}
	if err != nil {
		return errors.ConnectionError("failed to connect", err)
	}
	c.Timeout = s.config.Timeout

	if err := s.authenticate(c); err != nil {
		_ = c.Logout()
		return errors.ConnectionError("authentication failed", err)
	}

	s.client = c
	return nil
}

func (s *Source) authenticate(c *client.Client) error {
	switch s.config.Auth {
	case AuthPlain:
		return c.Authenticate(sasl.NewPlainClient("", s.config.Username, s.config.Password))
	case AuthOAuth2:
		return c.Authenticate(sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: s.config.Username,
			Token:    s.config.Token,
		}))
	default:
		return c.Login(s.config.Username, s.config.Password)
	}
}

func (s *Source) markSeen(uid uint32) error {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	return s.client.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil)
}

func (s *Source) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectLocked()
}

func (s *Source) disconnectLocked() {
	if s.client != nil {
		_ = s.client.Logout()
		s.client = nil
	}
}

// Stats returns a snapshot of the counters
func (s *Source) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Source) toEvent(msg *imap.Message, section *imap.BodySectionName) tasks.Event {
	params := map[string]tasks.Value{
		ParamUID:    tasks.IntValue(int64(msg.Uid)),
		ParamFolder: tasks.TextValue(s.config.Folder),
	}

	if env := msg.Envelope; env != nil {
		params[ParamSubject] = tasks.TextValue(env.Subject)
		params[ParamMessageID] = tasks.TextValue(env.MessageId)
		if !env.Date.IsZero() {
			params[ParamDate] = tasks.DateValue(env.Date)
		}
		if len(env.From) > 0 {
			params[ParamFrom] = tasks.TextValue(env.From[0].Address())
			params[ParamFromName] = tasks.TextValue(env.From[0].PersonalName)
		}
		if len(env.To) > 0 {
			params[ParamTo] = addressList(env.To)
		}
		if len(env.Cc) > 0 {
			params[ParamCc] = addressList(env.Cc)
		}
	}
	if _, ok := params[ParamDate]; !ok && !msg.InternalDate.IsZero() {
		params[ParamDate] = tasks.DateValue(msg.InternalDate)
	}

	if r := msg.GetBody(section); r != nil {
		body, attachments, err := readBody(r, s.config.MaxBodySize)
		if err != nil {
			s.logger.Warn("Failed to parse message body",
				logging.Err(err),
				logging.Int64("uid", int64(msg.Uid)),
			)
		}
		if body != "" {
			params[ParamBody] = tasks.TextValue(body)
		}
		if len(attachments) > 0 {
			items := make([]tasks.Value, len(attachments))
			for i, name := range attachments {
				items[i] = tasks.TextValue(name)
			}
			params[ParamAttachments] = tasks.CollectionValue(items...)
		}
	}

	return tasks.Event{
		ID:         uuid.NewString(),
		Subject:    s.config.Subject,
		Parameters: params,
	}
}

func addressList(addrs []*imap.Address) tasks.Value {
	items := make([]tasks.Value, 0, len(addrs))
	for _, a := range addrs {
		items = append(items, tasks.TextValue(a.Address()))
	}
	return tasks.CollectionValue(items...)
}

// readBody returns the plain text body (falling back to HTML) and the attachment file names
func readBody(r io.Reader, maxSize int) (string, []string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", nil, err
	}
	defer mr.Close()

	var text, html string
	var attachments []string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return pick(text, html, maxSize), attachments, err
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			b, _ := io.ReadAll(p.Body)
			contentType, _, _ := h.ContentType()
			switch {
			case strings.HasPrefix(contentType, "text/plain") && text == "":
				text = string(b)
			case strings.HasPrefix(contentType, "text/html") && html == "":
				html = string(b)
			}
		case *mail.AttachmentHeader:
			if name, err := h.Filename(); err == nil && name != "" {
				attachments = append(attachments, name)
			}
		}
	}
	return pick(text, html, maxSize), attachments, nil
}

func pick(text, html string, maxSize int) string {
	body := text
	if body == "" {
		body = html
	}
	body = strings.TrimSpace(body)
	if maxSize > 0 && len(body) > maxSize {
		body = body[:maxSize]
	}
	return body
}
