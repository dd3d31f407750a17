package imap

import (
	"fmt"
	"time"

	"task-router/internal/common/validation"
)

// Authentication mechanisms
const (
	AuthLogin  = "login"
	AuthPlain  = "plain"
	AuthOAuth2 = "oauth2"
)

// Config configures the mailbox source
type Config struct {
	Host     string
	Port     int
	UseTLS   bool
	Username string
	Password string
	// Token is the OAuth bearer token used with AuthOAuth2
	Token string
	Auth  string

	Folder       string
	PollInterval time.Duration
	Timeout      time.Duration

	// Subject is the trigger subject of the emitted events
	Subject string
	// MaxBodySize truncates text bodies, 0 keeps them whole
	MaxBodySize int
}

// Validate checks the configuration and fills in defaults
func (c *Config) Validate() error {
	if c.Port <= 0 {
		if c.UseTLS {
			c.Port = 993
		} else {
			c.Port = 143
		}
	}
	if c.Auth == "" {
		c.Auth = AuthLogin
	}
	if c.Folder == "" {
		c.Folder = "INBOX"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBodySize == 0 {
		c.MaxBodySize = 64 * 1024
	}

	v := validation.NewValidatorWithPrefix("imap")
	v.RequireString(c.Host, "host").
		RequireString(c.Username, "username").
		RequireString(c.Subject, "subject").
		RequireOneOf(c.Auth, []string{AuthLogin, AuthPlain, AuthOAuth2}, "auth")
	if c.Auth == AuthOAuth2 {
		v.RequireString(c.Token, "token")
	} else {
		v.RequireString(c.Password, "password")
	}
	return v.Error()
}

// Address returns host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
