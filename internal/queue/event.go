// Package queue carries directory changes over RabbitMQ.  In async mode the
// accounts manager publishes add/remove events instead of writing the
// Redis index itself, and a consumer applies them to the index.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/iliyamo/account-service/internal/model"
)

// DirectoryQueueName is the durable queue directory events travel on.
const DirectoryQueueName = "directory.updates"

// Directory event actions.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
)

// DirectoryEvent is one directory mutation.  Only the contact token
// leaves the service; the number itself is never published.
type DirectoryEvent struct {
	Action string `json:"action"`
	Token  []byte `json:"token"`
	Relay  string `json:"relay,omitempty"`
	Voice  bool   `json:"voice,omitempty"`
	Video  bool   `json:"video,omitempty"`
	At     string `json:"at"`
}

// Contact returns the directory entry an add event describes.
func (e DirectoryEvent) Contact() model.ClientContact {
	return model.ClientContact{Token: e.Token, Relay: e.Relay, Voice: e.Voice, Video: e.Video}
}

func decodeEvent(body []byte) (DirectoryEvent, error) {
	var ev DirectoryEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return DirectoryEvent{}, fmt.Errorf("unmarshal: %w", err)
	}
	if len(ev.Token) == 0 {
		return DirectoryEvent{}, fmt.Errorf("event without token")
	}
	switch ev.Action {
	case ActionAdd, ActionRemove:
	default:
		return DirectoryEvent{}, fmt.Errorf("unknown action %q", ev.Action)
	}
	return ev, nil
}
