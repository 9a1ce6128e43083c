// Package gateway defines the interface of the device gateway backends. A
// gateway backend connects the broker to devices behind a message broker:
// devices publish notifications and receive the commands inserted for
// them.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/pkg/errors"

	"github.com/devicehive/devicehive-server/internal/storage"
)

var backend Gateway

// Backend returns the gateway backend.
func Backend() Gateway {
	return backend
}

// SetBackend sets the given gateway backend.
func SetBackend(b Gateway) {
	backend = b
}

// Gateway is the interface of a gateway backend.
type Gateway interface {
	SendCommand(ctx context.Context, cmd storage.DeviceCommand) error // send the given command to the device
	NotificationChan() chan Notification                              // channel containing the received notifications
	Close() error                                                     // close the gateway backend
}

// Notification is a notification published by a device.
type Notification struct {
	DeviceGUID   string        `json:"-"`
	Notification string        `json:"notification"`
	Parameters   storage.JSONB `json:"parameters,omitempty"`
}

// UnmarshalNotification decodes the notification payload published by the
// device with the given guid.
func UnmarshalNotification(guid string, b []byte) (Notification, error) {
	var n Notification
	if !storage.ValidGUID(guid) {
		return n, errors.Errorf("invalid device id: %s", guid)
	}
	if err := json.Unmarshal(b, &n); err != nil {
		return n, errors.Wrap(err, "unmarshal notification error")
	}
	if n.Notification == "" {
		return n, errors.New("notification name is required")
	}
	n.DeviceGUID = guid
	return n, nil
}

// MarshalCommand encodes the command sent to a device.
func MarshalCommand(cmd storage.DeviceCommand) ([]byte, error) {
	b, err := json.Marshal(cmd)
	if err != nil {
		return nil, errors.Wrap(err, "marshal command error")
	}
	return b, nil
}

// NewTopicTemplate parses a command topic template. The template has
// access to the DeviceID field.
func NewTopicTemplate(name, text string) (*template.Template, error) {
	t, err := template.New(name).Parse(text)
	if err != nil {
		return nil, errors.Wrap(err, "parse template error")
	}
	return t, nil
}

// ExecuteTopicTemplate returns the topic for the given device.
func ExecuteTopicTemplate(t *template.Template, guid string) (string, error) {
	topic := bytes.NewBuffer(nil)
	if err := t.Execute(topic, struct{ DeviceID string }{guid}); err != nil {
		return "", errors.Wrap(err, "execute template error")
	}
	return topic.String(), nil
}

// DeviceIDFromTopic returns the part of topic at the position of the
// wildcard in pattern. Both are split by sep.
func DeviceIDFromTopic(pattern, topic, sep, wildcard string) (string, error) {
	pp := strings.Split(pattern, sep)
	tp := strings.Split(topic, sep)
	if len(pp) != len(tp) {
		return "", errors.Errorf("topic %s does not match %s", topic, pattern)
	}
	for i := range pp {
		if pp[i] == wildcard {
			return tp[i], nil
		}
	}
	return "", errors.Errorf("pattern %s has no wildcard", pattern)
}
