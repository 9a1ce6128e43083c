package ws

import (
	"context"

	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/directory"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
)

type userRequest struct {
	UserID       *int64                `json:"userId"`
	NetworkID    *int64                `json:"networkId"`
	DeviceTypeID *int64                `json:"deviceTypeId"`
	User         *directory.UserUpdate `json:"user"`
	Login        string                `json:"login"`
	LoginPattern string                `json:"loginPattern"`
	Role         *storage.UserRole     `json:"role"`
	Status       *storage.UserStatus   `json:"status"`
	listParams
}

func (r userRequest) filters() (storage.UserFilters, error) {
	var err error
	f := storage.UserFilters{
		Login:        r.Login,
		LoginPattern: r.LoginPattern,
		Role:         r.Role,
		Status:       r.Status,
	}
	f.ListOptions, err = r.options()
	return f, err
}

func (r userRequest) update() (directory.UserUpdate, error) {
	if r.User == nil {
		return directory.UserUpdate{}, apierr.BadRequest("user is required")
	}
	return *r.User, nil
}

// userAndNetwork returns the user and network ids of a network assignment.
func (r userRequest) userAndNetwork() (int64, int64, error) {
	userID, err := requireID(r.UserID, "User")
	if err != nil {
		return 0, 0, err
	}
	networkID, err := requireID(r.NetworkID, "Network")
	return userID, networkID, err
}

func (r userRequest) userAndDeviceType() (int64, int64, error) {
	userID, err := requireID(r.UserID, "User")
	if err != nil {
		return 0, 0, err
	}
	deviceTypeID, err := requireID(r.DeviceTypeID, "DeviceType")
	return userID, deviceTypeID, err
}

func decodeUser(req request) (userRequest, error) {
	var in userRequest
	err := req.decode(&in)
	return in, err
}

func (h *Handler) userList(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	in, err := decodeUser(req)
	if err != nil {
		return nil, err
	}
	f, err := in.filters()
	if err != nil {
		return nil, err
	}
	users, err := h.Directory.ListUsers(ctx, p, f)
	if err != nil {
		return nil, err
	}
	return payload{"users": users}, nil
}

func (h *Handler) userCount(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	in, err := decodeUser(req)
	if err != nil {
		return nil, err
	}
	f, err := in.filters()
	if err != nil {
		return nil, err
	}
	count, err := h.Directory.CountUsers(ctx, p, f)
	if err != nil {
		return nil, err
	}
	return payload{"count": count}, nil
}

func (h *Handler) userGet(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	in, err := decodeUser(req)
	if err != nil {
		return nil, err
	}
	id, err := requireID(in.UserID, "User")
	if err != nil {
		return nil, err
	}
	u, err := h.Directory.GetUser(ctx, p, id)
	if err != nil {
		return nil, err
	}
	return payload{"user": u}, nil
}

func (h *Handler) userGetCurrent(ctx context.Context, _ *conn, p *permission.Principal, _ request) (payload, error) {
	u, err := h.Directory.GetCurrentUser(ctx, p)
	if err != nil {
		return nil, err
	}
	return payload{"current": u}, nil
}

func (h *Handler) userInsert(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	in, err := decodeUser(req)
	if err != nil {
		return nil, err
	}
	up, err := in.update()
	if err != nil {
		return nil, err
	}
	u, err := h.Directory.CreateUser(ctx, p, up)
	if err != nil {
		return nil, err
	}
	return payload{"user": u}, nil
}

func (h *Handler) userUpdate(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	in, err := decodeUser(req)
	if err != nil {
		return nil, err
	}
	id, err := requireID(in.UserID, "User")
	if err != nil {
		return nil, err
	}
	up, err := in.update()
	if err != nil {
		return nil, err
	}
	if err := h.Directory.UpdateUser(ctx, p, id, up); err != nil {
		return nil, err
	}
	return payload{}, nil
}

func (h *Handler) userUpdateCurrent(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	in, err := decodeUser(req)
	if err != nil {
		return nil, err
	}
	up, err := in.update()
	if err != nil {
		return nil, err
	}
	if err := h.Directory.UpdateCurrentUser(ctx, p, up); err != nil {
		return nil, err
	}
	return payload{}, nil
}

func (h *Handler) userDelete(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	in, err := decodeUser(req)
	if err != nil {
		return nil, err
	}
	id, err := requireID(in.UserID, "User")
	if err != nil {
		return nil, err
	}
	if err := h.Directory.DeleteUser(ctx, p, id); err != nil {
		return nil, err
	}
	return payload{}, nil
}

func (h *Handler) userGetNetwork(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	in, err := decodeUser(req)
	if err != nil {
		return nil, err
	}
	userID, networkID, err := in.userAndNetwork()
	if err != nil {
		return nil, err
	}
	n, err := h.Directory.GetUserNetwork(ctx, p, userID, networkID)
	if err != nil {
		return nil, err
	}
	return payload{"network": n}, nil
}

func (h *Handler) userAssignNetwork(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	in, err := decodeUser(req)
	if err != nil {
		return nil, err
	}
	userID, networkID, err := in.userAndNetwork()
	if err != nil {
		return nil, err
	}
	if err := h.Directory.AssignNetwork(ctx, p, userID, networkID); err != nil {
		return nil, err
	}
	return payload{}, nil
}

func (h *Handler) userUnassignNetwork(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	in, err := decodeUser(req)
	if err != nil {
		return nil, err
	}
	userID, networkID, err := in.userAndNetwork()
	if err != nil {
		return nil, err
	}
	if err := h.Directory.UnassignNetwork(ctx, p, userID, networkID); err != nil {
		return nil, err
	}
	return payload{}, nil
}

func (h *Handler) userGetDeviceTypes(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	in, err := decodeUser(req)
	if err != nil {
		return nil, err
	}
	id, err := requireID(in.UserID, "User")
	if err != nil {
		return nil, err
	}
	deviceTypes, err := h.Directory.GetUserDeviceTypes(ctx, p, id)
	if err != nil {
		return nil, err
	}
	return payload{"deviceTypes": deviceTypes}, nil
}

func (h *Handler) userGetDeviceType(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	in, err := decodeUser(req)
	if err != nil {
		return nil, err
	}
	userID, deviceTypeID, err := in.userAndDeviceType()
	if err != nil {
		return nil, err
	}
	dt, err := h.Directory.GetUserDeviceType(ctx, p, userID, deviceTypeID)
	if err != nil {
		return nil, err
	}
	return payload{"deviceType": dt}, nil
}

func (h *Handler) userAssignDeviceType(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	in, err := decodeUser(req)
	if err != nil {
		return nil, err
	}
	userID, deviceTypeID, err := in.userAndDeviceType()
	if err != nil {
		return nil, err
	}
	if err := h.Directory.AssignDeviceType(ctx, p, userID, deviceTypeID); err != nil {
		return nil, err
	}
	return payload{}, nil
}

func (h *Handler) userUnassignDeviceType(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	in, err := decodeUser(req)
	if err != nil {
		return nil, err
	}
	userID, deviceTypeID, err := in.userAndDeviceType()
	if err != nil {
		return nil, err
	}
	if err := h.Directory.UnassignDeviceType(ctx, p, userID, deviceTypeID); err != nil {
		return nil, err
	}
	return payload{}, nil
}

func (h *Handler) userAssignAllDeviceTypes(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	return h.setAllDeviceTypes(ctx, p, req, true)
}

func (h *Handler) userUnassignAllDeviceTypes(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	return h.setAllDeviceTypes(ctx, p, req, false)
}

func (h *Handler) setAllDeviceTypes(ctx context.Context, p *permission.Principal, req request, available bool) (payload, error) {
	in, err := decodeUser(req)
	if err != nil {
		return nil, err
	}
	id, err := requireID(in.UserID, "User")
	if err != nil {
		return nil, err
	}
	if err := h.Directory.SetAllDeviceTypes(ctx, p, id, available); err != nil {
		return nil, err
	}
	return payload{}, nil
}
