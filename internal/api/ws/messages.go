package ws

import (
	"context"

	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/messages"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/subscription"
)

type messageRef struct {
	DeviceID       string `json:"deviceId"`
	CommandID      *int64 `json:"commandId"`
	NotificationID *int64 `json:"notificationId"`
}

type listRequest struct {
	DeviceID     string  `json:"deviceId"`
	Start        *string `json:"start"`
	End          *string `json:"end"`
	Command      string  `json:"command"`
	Notification string  `json:"notification"`
	Status       string  `json:"status"`
	listParams
}

func (r listRequest) query(name string) (messages.Query, error) {
	var err error
	q := messages.Query{
		DeviceGUIDs: []string{r.DeviceID},
		Status:      r.Status,
	}
	if r.DeviceID == "" {
		return q, apierr.BadRequest("deviceId is required")
	}
	if name != "" {
		q.Names = []string{name}
	}
	if q.Start, err = parseTime("start", r.Start); err != nil {
		return q, err
	}
	if q.End, err = parseTime("end", r.End); err != nil {
		return q, err
	}
	q.ListOptions, err = r.options()
	return q, err
}

type subscribeRequest struct {
	DeviceID              string   `json:"deviceId"`
	DeviceIDs             []string `json:"deviceIds"`
	NetworkIDs            []int64  `json:"networkIds"`
	DeviceTypeIDs         []int64  `json:"deviceTypeIds"`
	Names                 []string `json:"names"`
	Timestamp             *string  `json:"timestamp"`
	Limit                 int      `json:"limit"`
	ReturnUpdatedCommands bool     `json:"returnUpdatedCommands"`
}

func (r subscribeRequest) query() (messages.Query, error) {
	var err error
	q := messages.Query{
		DeviceGUIDs:   r.DeviceIDs,
		NetworkIDs:    r.NetworkIDs,
		DeviceTypeIDs: r.DeviceTypeIDs,
		Names:         r.Names,
	}
	if r.DeviceID != "" {
		q.DeviceGUIDs = append([]string{r.DeviceID}, q.DeviceGUIDs...)
	}

	var scopes int
	for _, set := range []bool{len(q.DeviceGUIDs) != 0, len(q.NetworkIDs) != 0, len(q.DeviceTypeIDs) != 0} {
		if set {
			scopes++
		}
	}
	if scopes > 1 {
		return q, apierr.BadRequest("Only one of deviceId, networkIds and deviceTypeIds can be set")
	}

	if q.Timestamp, err = parseTime("timestamp", r.Timestamp); err != nil {
		return q, err
	}
	if r.Limit < 0 {
		return q, apierr.BadRequest("limit must not be negative")
	}
	q.Take = r.Limit
	return q, nil
}

func (h *Handler) commandInsert(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in struct {
		DeviceID string                 `json:"deviceId"`
		Command  messages.CommandUpdate `json:"command"`
	}
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	c, err := h.Messages.InsertCommand(ctx, p, in.DeviceID, in.Command)
	if err != nil {
		return nil, err
	}
	return payload{"command": c}, nil
}

func (h *Handler) commandUpdate(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in struct {
		messageRef
		Command messages.CommandUpdate `json:"command"`
	}
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	id, err := requireID(in.CommandID, "Command")
	if err != nil {
		return nil, err
	}
	if _, err := h.Messages.UpdateCommand(ctx, p, in.DeviceID, id, in.Command); err != nil {
		return nil, err
	}
	return payload{}, nil
}

func (h *Handler) commandGet(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in messageRef
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	id, err := requireID(in.CommandID, "Command")
	if err != nil {
		return nil, err
	}
	c, err := h.Messages.GetCommand(ctx, p, in.DeviceID, id)
	if err != nil {
		return nil, err
	}
	return payload{"command": c}, nil
}

func (h *Handler) commandList(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in listRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	q, err := in.query(in.Command)
	if err != nil {
		return nil, err
	}
	commands, err := h.Messages.ListCommands(ctx, p, q)
	if err != nil {
		return nil, err
	}
	return payload{"commands": commands}, nil
}

// commandSubscribe subscribes to inserted commands, or to command
// updates when returnUpdatedCommands is set.
func (h *Handler) commandSubscribe(ctx context.Context, c *conn, p *permission.Principal, req request) (payload, error) {
	var in subscribeRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	kind := subscription.KindCommand
	if in.ReturnUpdatedCommands {
		kind = subscription.KindCommandUpdate
	}
	return h.subscribe(ctx, c, p, kind, in)
}

func (h *Handler) notificationSubscribe(ctx context.Context, c *conn, p *permission.Principal, req request) (payload, error) {
	var in subscribeRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	return h.subscribe(ctx, c, p, subscription.KindNotification, in)
}

func (h *Handler) subscribe(ctx context.Context, c *conn, p *permission.Principal, kind subscription.Kind, in subscribeRequest) (payload, error) {
	q, err := in.query()
	if err != nil {
		return nil, err
	}
	s, err := h.Messages.Subscribe(ctx, p, c, kind, q)
	if err != nil {
		return nil, err
	}
	return payload{"subscriptionId": s.ID}, nil
}

// unsubscribe removes a subscription of the connection. Unknown ids are
// not an error.
var (
	commandKinds      = []subscription.Kind{subscription.KindCommand, subscription.KindCommandUpdate}
	notificationKinds = []subscription.Kind{subscription.KindNotification}
)

func (h *Handler) commandUnsubscribe(_ context.Context, c *conn, _ *permission.Principal, req request) (payload, error) {
	return h.unsubscribe(c, req, commandKinds)
}

func (h *Handler) notificationUnsubscribe(_ context.Context, c *conn, _ *permission.Principal, req request) (payload, error) {
	return h.unsubscribe(c, req, notificationKinds)
}

// unsubscribe removes the subscription when it is of one of the kinds.
// Unknown ids and ids of other kinds are not an error.
func (h *Handler) unsubscribe(c *conn, req request, kinds []subscription.Kind) (payload, error) {
	var in struct {
		SubscriptionID *int64 `json:"subscriptionId"`
	}
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	id, err := requireID(in.SubscriptionID, "Subscription")
	if err != nil {
		return nil, err
	}
	h.Messages.Unsubscribe(c.OwnerID(), id, kinds...)
	return payload{}, nil
}

func (h *Handler) subscriptionList(_ context.Context, c *conn, _ *permission.Principal, req request) (payload, error) {
	var in struct {
		Type string `json:"type"`
	}
	if err := req.decode(&in); err != nil {
		return nil, err
	}

	var kinds []subscription.Kind
	switch in.Type {
	case "":
	case "command":
		kinds = commandKinds
	case "notification":
		kinds = notificationKinds
	default:
		return nil, apierr.BadRequest("Unsupported subscription type: %s", in.Type)
	}

	return payload{"subscriptions": h.Engine.Registry().List(c.OwnerID(), kinds...)}, nil
}

func (h *Handler) notificationInsert(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in struct {
		DeviceID     string                      `json:"deviceId"`
		Notification messages.NotificationInsert `json:"notification"`
	}
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	n, err := h.Messages.InsertNotification(ctx, p, in.DeviceID, in.Notification)
	if err != nil {
		return nil, err
	}
	return payload{"notification": n}, nil
}

func (h *Handler) notificationGet(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in messageRef
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	id, err := requireID(in.NotificationID, "Notification")
	if err != nil {
		return nil, err
	}
	n, err := h.Messages.GetNotification(ctx, p, in.DeviceID, id)
	if err != nil {
		return nil, err
	}
	return payload{"notification": n}, nil
}

func (h *Handler) notificationList(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in listRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	q, err := in.query(in.Notification)
	if err != nil {
		return nil, err
	}
	notifications, err := h.Messages.ListNotifications(ctx, p, q)
	if err != nil {
		return nil, err
	}
	return payload{"notifications": notifications}, nil
}
