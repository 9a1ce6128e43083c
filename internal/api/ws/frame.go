package ws

import (
	"encoding/json"
	"time"

	"github.com/devicehive/devicehive-server/internal/api/rest"
	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/storage"
	"github.com/devicehive/devicehive-server/internal/subscription"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// request is a client frame. The action parameters are decoded from the
// whole frame.
type request struct {
	Action    string          `json:"action"`
	RequestID json.RawMessage `json:"requestId,omitempty"`

	raw []byte
}

func (r request) decode(v interface{}) error {
	if err := json.Unmarshal(r.raw, v); err != nil {
		return apierr.BadRequest("Invalid request parameters: %s", err)
	}
	return nil
}

// payload holds the action specific fields of a response.
type payload map[string]interface{}

func successFrame(req request, p payload) payload {
	out := payload{}
	for k, v := range p {
		out[k] = v
	}
	out["action"] = req.Action
	out["status"] = statusSuccess
	if len(req.RequestID) != 0 {
		out["requestId"] = req.RequestID
	}
	return out
}

func errorFrame(req request, err error) payload {
	e := apierr.FromError(err)
	out := payload{
		"action": req.Action,
		"status": statusError,
		"code":   e.Code,
		"error":  e.Message,
	}
	if len(req.RequestID) != 0 {
		out["requestId"] = req.RequestID
	}
	return out
}

// pushFrame is sent for every event of a subscription.
type pushFrame struct {
	Action         string          `json:"action"`
	SubscriptionID int64           `json:"subscriptionId"`
	Command        json.RawMessage `json:"command,omitempty"`
	Notification   json.RawMessage `json:"notification,omitempty"`
}

func newPushFrame(s *subscription.Subscription, e subscription.Event) pushFrame {
	f := pushFrame{SubscriptionID: s.ID}
	switch e.Kind {
	case subscription.KindCommand:
		f.Action = "command/insert"
		f.Command = e.Payload
	case subscription.KindCommandUpdate:
		f.Action = "command/update"
		f.Command = e.Payload
	case subscription.KindNotification:
		f.Action = "notification/insert"
		f.Notification = e.Payload
	}
	return f
}

// listParams holds the paging fields of list actions.
type listParams struct {
	SortField string `json:"sortField"`
	SortOrder string `json:"sortOrder"`
	Take      int    `json:"take"`
	Skip      int    `json:"skip"`
}

func (l listParams) options() (storage.ListOptions, error) {
	if l.Take < 0 || l.Skip < 0 {
		return storage.ListOptions{}, apierr.BadRequest("take and skip must not be negative")
	}
	return storage.ListOptions{
		SortField: l.SortField,
		SortOrder: l.SortOrder,
		Take:      l.Take,
		Skip:      l.Skip,
	}, nil
}

func parseTime(name string, s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := rest.ParseTimestamp(*s)
	if err != nil {
		return nil, apierr.BadRequest("%s must be a timestamp", name)
	}
	return &t, nil
}

func requireID(id *int64, label string) (int64, error) {
	if id == nil {
		return 0, apierr.BadRequest("%s id is required", label)
	}
	return *id, nil
}
