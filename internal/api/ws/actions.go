package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/devicehive/devicehive-server/internal/api/rest"
	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/auth"
	"github.com/devicehive/devicehive-server/internal/permission"
)

type actionFunc func(h *Handler, ctx context.Context, c *conn, p *permission.Principal, req request) (payload, error)

type action struct {
	fn actionFunc
	// public actions do not require an authenticated connection
	public bool
}

var actions map[string]action

func init() {
	actions = map[string]action{
		"authenticate":  {fn: (*Handler).authenticate, public: true},
		"token":         {fn: (*Handler).token, public: true},
		"token/create":  {fn: (*Handler).tokenCreate},
		"token/refresh": {fn: (*Handler).tokenRefresh, public: true},
		"server/info":   {fn: (*Handler).serverInfo, public: true},
		"server/cache":  {fn: (*Handler).serverCache},

		"command/insert":      {fn: (*Handler).commandInsert},
		"command/update":      {fn: (*Handler).commandUpdate},
		"command/get":         {fn: (*Handler).commandGet},
		"command/list":        {fn: (*Handler).commandList},
		"command/subscribe":   {fn: (*Handler).commandSubscribe},
		"command/unsubscribe": {fn: (*Handler).commandUnsubscribe},

		"notification/insert":      {fn: (*Handler).notificationInsert},
		"notification/get":         {fn: (*Handler).notificationGet},
		"notification/list":        {fn: (*Handler).notificationList},
		"notification/subscribe":   {fn: (*Handler).notificationSubscribe},
		"notification/unsubscribe": {fn: (*Handler).notificationUnsubscribe},

		"subscription/list": {fn: (*Handler).subscriptionList},

		"device/get":    {fn: (*Handler).deviceGet},
		"device/list":   {fn: (*Handler).deviceList},
		"device/count":  {fn: (*Handler).deviceCount},
		"device/save":   {fn: (*Handler).deviceSave},
		"device/delete": {fn: (*Handler).deviceDelete},

		"network/get":    {fn: (*Handler).networkGet},
		"network/list":   {fn: (*Handler).networkList},
		"network/count":  {fn: (*Handler).networkCount},
		"network/insert": {fn: (*Handler).networkInsert},
		"network/update": {fn: (*Handler).networkUpdate},
		"network/delete": {fn: (*Handler).networkDelete},

		"devicetype/get":    {fn: (*Handler).deviceTypeGet},
		"devicetype/list":   {fn: (*Handler).deviceTypeList},
		"devicetype/count":  {fn: (*Handler).deviceTypeCount},
		"devicetype/insert": {fn: (*Handler).deviceTypeInsert},
		"devicetype/update": {fn: (*Handler).deviceTypeUpdate},
		"devicetype/delete": {fn: (*Handler).deviceTypeDelete},

		"user/list":                   {fn: (*Handler).userList},
		"user/count":                  {fn: (*Handler).userCount},
		"user/get":                    {fn: (*Handler).userGet},
		"user/getCurrent":             {fn: (*Handler).userGetCurrent},
		"user/insert":                 {fn: (*Handler).userInsert},
		"user/update":                 {fn: (*Handler).userUpdate},
		"user/updateCurrent":          {fn: (*Handler).userUpdateCurrent},
		"user/delete":                 {fn: (*Handler).userDelete},
		"user/getNetwork":             {fn: (*Handler).userGetNetwork},
		"user/assignNetwork":          {fn: (*Handler).userAssignNetwork},
		"user/unassignNetwork":        {fn: (*Handler).userUnassignNetwork},
		"user/getDeviceTypes":         {fn: (*Handler).userGetDeviceTypes},
		"user/getDeviceType":          {fn: (*Handler).userGetDeviceType},
		"user/assignDeviceType":       {fn: (*Handler).userAssignDeviceType},
		"user/unassignDeviceType":     {fn: (*Handler).userUnassignDeviceType},
		"user/assignAllDeviceTypes":   {fn: (*Handler).userAssignAllDeviceTypes},
		"user/unassignAllDeviceTypes": {fn: (*Handler).userUnassignAllDeviceTypes},

		"configuration/get":    {fn: (*Handler).configurationGet},
		"configuration/put":    {fn: (*Handler).configurationPut},
		"configuration/delete": {fn: (*Handler).configurationDelete},
	}
}

type authenticateRequest struct {
	Token     string `json:"token"`
	AccessKey string `json:"accessKey"`
	Login     string `json:"login"`
	Password  string `json:"password"`
	DeviceID  string `json:"deviceId"`
	DeviceKey string `json:"deviceKey"`
}

// authenticate replaces the principal of the connection. The existing
// subscriptions are matched against the new principal.
func (h *Handler) authenticate(ctx context.Context, c *conn, _ *permission.Principal, req request) (payload, error) {
	var in authenticateRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}

	creds := auth.Credentials{
		Token:      in.Token,
		AccessKey:  in.AccessKey,
		Login:      in.Login,
		Password:   in.Password,
		DeviceGUID: in.DeviceID,
		DeviceKey:  in.DeviceKey,
		ClientIP:   c.clientIP,
		Origin:     c.origin,
	}
	p, err := h.Auth.Authenticate(ctx, creds)
	if err != nil {
		if apierr.IsInternal(err) {
			return nil, err
		}
		return nil, apierr.New(http.StatusUnauthorized, "Invalid credentials")
	}

	c.setPrincipal(p, creds)
	return payload{}, nil
}

func tokenPayload(tp auth.TokenPair) payload {
	out := payload{"accessToken": tp.AccessToken}
	if tp.RefreshToken != "" {
		out["refreshToken"] = tp.RefreshToken
	}
	return out
}

func (h *Handler) token(ctx context.Context, _ *conn, _ *permission.Principal, req request) (payload, error) {
	var in rest.LoginRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	tp, err := rest.Login(ctx, h.Auth, in)
	if err != nil {
		return nil, err
	}
	return tokenPayload(tp), nil
}

func (h *Handler) tokenCreate(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in struct {
		Payload *auth.Payload `json:"payload"`
	}
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	if in.Payload == nil {
		return nil, apierr.BadRequest("payload is required")
	}
	tp, err := rest.CreateToken(ctx, h.Auth, p, *in.Payload)
	if err != nil {
		return nil, err
	}
	return tokenPayload(tp), nil
}

func (h *Handler) tokenRefresh(ctx context.Context, _ *conn, _ *permission.Principal, req request) (payload, error) {
	var in rest.RefreshRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	if in.RefreshToken == "" {
		return nil, apierr.BadRequest("refreshToken is required")
	}
	tp, err := h.Auth.Refresh(ctx, in.RefreshToken)
	if err != nil {
		return nil, err
	}
	return tokenPayload(tp), nil
}

func (h *Handler) serverInfo(_ context.Context, _ *conn, _ *permission.Principal, _ request) (payload, error) {
	return payload{"info": rest.NewServerInfo(h.conf)}, nil
}

func (h *Handler) serverCache(_ context.Context, _ *conn, _ *permission.Principal, _ request) (payload, error) {
	return payload{"cacheInfo": rest.CacheInfo{
		ServerTimestamp: time.Now().UTC(),
		Subscriptions:   h.Engine.Registry().Count(),
	}}, nil
}
