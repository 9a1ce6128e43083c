package ws

import (
	"context"

	"github.com/devicehive/devicehive-server/internal/apierr"
	"github.com/devicehive/devicehive-server/internal/directory"
	"github.com/devicehive/devicehive-server/internal/permission"
	"github.com/devicehive/devicehive-server/internal/storage"
)

type deviceRequest struct {
	DeviceID     string                  `json:"deviceId"`
	Device       *directory.DeviceUpdate `json:"device"`
	Name         string                  `json:"name"`
	NamePattern  string                  `json:"namePattern"`
	NetworkID    *int64                  `json:"networkId"`
	NetworkName  string                  `json:"networkName"`
	DeviceTypeID *int64                  `json:"deviceTypeId"`
	listParams
}

func (r deviceRequest) filters() (storage.DeviceFilters, error) {
	var err error
	f := storage.DeviceFilters{
		Name:         r.Name,
		NamePattern:  r.NamePattern,
		NetworkID:    r.NetworkID,
		NetworkName:  r.NetworkName,
		DeviceTypeID: r.DeviceTypeID,
	}
	f.ListOptions, err = r.options()
	return f, err
}

func (h *Handler) deviceGet(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in deviceRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	if in.DeviceID == "" {
		return nil, apierr.BadRequest("deviceId is required")
	}
	d, err := h.Directory.GetVisibleDevice(ctx, p, permission.GetDevice, in.DeviceID)
	if err != nil {
		return nil, err
	}
	return payload{"device": d}, nil
}

func (h *Handler) deviceList(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in deviceRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	f, err := in.filters()
	if err != nil {
		return nil, err
	}
	devices, err := h.Directory.ListDevices(ctx, p, f)
	if err != nil {
		return nil, err
	}
	return payload{"devices": devices}, nil
}

func (h *Handler) deviceCount(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in deviceRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	f, err := in.filters()
	if err != nil {
		return nil, err
	}
	count, err := h.Directory.CountDevices(ctx, p, f)
	if err != nil {
		return nil, err
	}
	return payload{"count": count}, nil
}

func (h *Handler) deviceSave(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in deviceRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	if in.Device == nil {
		return nil, apierr.BadRequest("device is required")
	}
	if _, _, err := h.Directory.SaveDevice(ctx, p, in.DeviceID, *in.Device); err != nil {
		return nil, err
	}
	return payload{}, nil
}

func (h *Handler) deviceDelete(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in deviceRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	if err := h.Directory.DeleteDevice(ctx, p, in.DeviceID); err != nil {
		return nil, err
	}
	return payload{}, nil
}

type networkRequest struct {
	NetworkID   *int64                   `json:"networkId"`
	Network     *directory.NetworkUpdate `json:"network"`
	Name        string                   `json:"name"`
	NamePattern string                   `json:"namePattern"`
	listParams
}

func (r networkRequest) filters() (storage.NetworkFilters, error) {
	var err error
	f := storage.NetworkFilters{Name: r.Name, NamePattern: r.NamePattern}
	f.ListOptions, err = r.options()
	return f, err
}

func (h *Handler) networkGet(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in networkRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	id, err := requireID(in.NetworkID, "Network")
	if err != nil {
		return nil, err
	}
	n, err := h.Directory.GetNetwork(ctx, p, id)
	if err != nil {
		return nil, err
	}
	return payload{"network": n}, nil
}

func (h *Handler) networkList(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in networkRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	f, err := in.filters()
	if err != nil {
		return nil, err
	}
	networks, err := h.Directory.ListNetworks(ctx, p, f)
	if err != nil {
		return nil, err
	}
	return payload{"networks": networks}, nil
}

func (h *Handler) networkCount(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in networkRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	f, err := in.filters()
	if err != nil {
		return nil, err
	}
	count, err := h.Directory.CountNetworks(ctx, p, f)
	if err != nil {
		return nil, err
	}
	return payload{"count": count}, nil
}

func (h *Handler) networkInsert(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in struct {
		Network *storage.Network `json:"network"`
	}
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	if in.Network == nil {
		return nil, apierr.BadRequest("network is required")
	}
	n, err := h.Directory.CreateNetwork(ctx, p, *in.Network)
	if err != nil {
		return nil, err
	}
	return payload{"network": n}, nil
}

func (h *Handler) networkUpdate(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in networkRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	id, err := requireID(in.NetworkID, "Network")
	if err != nil {
		return nil, err
	}
	if in.Network == nil {
		return nil, apierr.BadRequest("network is required")
	}
	if err := h.Directory.UpdateNetwork(ctx, p, id, *in.Network); err != nil {
		return nil, err
	}
	return payload{}, nil
}

func (h *Handler) networkDelete(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in networkRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	id, err := requireID(in.NetworkID, "Network")
	if err != nil {
		return nil, err
	}
	if err := h.Directory.DeleteNetwork(ctx, p, id); err != nil {
		return nil, err
	}
	return payload{}, nil
}

type deviceTypeRequest struct {
	DeviceTypeID *int64                      `json:"deviceTypeId"`
	DeviceType   *directory.DeviceTypeUpdate `json:"deviceType"`
	Name         string                      `json:"name"`
	NamePattern  string                      `json:"namePattern"`
	listParams
}

func (r deviceTypeRequest) filters() (storage.DeviceTypeFilters, error) {
	var err error
	f := storage.DeviceTypeFilters{Name: r.Name, NamePattern: r.NamePattern}
	f.ListOptions, err = r.options()
	return f, err
}

func (h *Handler) deviceTypeGet(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in deviceTypeRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	id, err := requireID(in.DeviceTypeID, "DeviceType")
	if err != nil {
		return nil, err
	}
	dt, err := h.Directory.GetDeviceType(ctx, p, id)
	if err != nil {
		return nil, err
	}
	return payload{"deviceType": dt}, nil
}

func (h *Handler) deviceTypeList(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in deviceTypeRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	f, err := in.filters()
	if err != nil {
		return nil, err
	}
	deviceTypes, err := h.Directory.ListDeviceTypes(ctx, p, f)
	if err != nil {
		return nil, err
	}
	return payload{"deviceTypes": deviceTypes}, nil
}

func (h *Handler) deviceTypeCount(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in deviceTypeRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	f, err := in.filters()
	if err != nil {
		return nil, err
	}
	count, err := h.Directory.CountDeviceTypes(ctx, p, f)
	if err != nil {
		return nil, err
	}
	return payload{"count": count}, nil
}

func (h *Handler) deviceTypeInsert(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in struct {
		DeviceType *storage.DeviceType `json:"deviceType"`
	}
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	if in.DeviceType == nil {
		return nil, apierr.BadRequest("deviceType is required")
	}
	dt, err := h.Directory.CreateDeviceType(ctx, p, *in.DeviceType)
	if err != nil {
		return nil, err
	}
	return payload{"deviceType": dt}, nil
}

func (h *Handler) deviceTypeUpdate(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in deviceTypeRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	id, err := requireID(in.DeviceTypeID, "DeviceType")
	if err != nil {
		return nil, err
	}
	if in.DeviceType == nil {
		return nil, apierr.BadRequest("deviceType is required")
	}
	if err := h.Directory.UpdateDeviceType(ctx, p, id, *in.DeviceType); err != nil {
		return nil, err
	}
	return payload{}, nil
}

func (h *Handler) deviceTypeDelete(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in deviceTypeRequest
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	id, err := requireID(in.DeviceTypeID, "DeviceType")
	if err != nil {
		return nil, err
	}
	if err := h.Directory.DeleteDeviceType(ctx, p, id); err != nil {
		return nil, err
	}
	return payload{}, nil
}

func (h *Handler) configurationGet(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in struct {
		Name string `json:"name"`
	}
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	c, err := h.Directory.GetConfiguration(ctx, p, in.Name)
	if err != nil {
		return nil, err
	}
	return payload{"configuration": c}, nil
}

func (h *Handler) configurationPut(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	c, err := h.Directory.PutConfiguration(ctx, p, in.Name, in.Value)
	if err != nil {
		return nil, err
	}
	return payload{"configuration": c}, nil
}

func (h *Handler) configurationDelete(ctx context.Context, _ *conn, p *permission.Principal, req request) (payload, error) {
	var in struct {
		Name string `json:"name"`
	}
	if err := req.decode(&in); err != nil {
		return nil, err
	}
	if err := h.Directory.DeleteConfiguration(ctx, p, in.Name); err != nil {
		return nil, err
	}
	return payload{}, nil
}
