// Package relay connects the task engine to the event bus. The Emitter
// publishes dispatched action events, the Listener feeds trigger events
// consumed from the bus into the engine.
package relay

import (
	"encoding/json"
	"time"

	"task-router/internal/common/errors"
	"task-router/internal/tasks"
)

// Envelope is the JSON body of every event on the bus
type Envelope struct {
	ID         string                 `json:"id"`
	Subject    string                 `json:"subject"`
	Parameters map[string]tasks.Value `json:"parameters"`
	EmittedAt  time.Time              `json:"emittedAt"`
}

// Encode wraps event in an envelope
func Encode(event tasks.Event) ([]byte, error) {
	return json.Marshal(Envelope{
		ID:         event.ID,
		Subject:    event.Subject,
		Parameters: event.Parameters,
		EmittedAt:  time.Now().UTC(),
	})
}

// Decode reads an envelope. topic is used when the envelope carries no subject.
func Decode(body []byte, topic string) (tasks.Event, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return tasks.Event{}, errors.ValidationError("invalid event envelope: " + err.Error())
	}
	if env.Subject == "" {
		env.Subject = topic
	}
	if env.Subject == "" {
		return tasks.Event{}, errors.ValidationError("event envelope has no subject")
	}
	if env.Parameters == nil {
		env.Parameters = map[string]tasks.Value{}
	}
	return tasks.Event{ID: env.ID, Subject: env.Subject, Parameters: env.Parameters}, nil
}
