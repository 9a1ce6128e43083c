// Package permission implements the authorization model shared by all
// transports.
package permission

import (
	"net"
	"net/url"
	"strings"
)

// Action defines a permission action.
type Action string

// Available actions.
const (
	Any Action = "*"

	GetNetwork               Action = "GetNetwork"
	GetDevice                Action = "GetDevice"
	GetDeviceType            Action = "GetDeviceType"
	GetDeviceNotification    Action = "GetDeviceNotification"
	GetDeviceCommand         Action = "GetDeviceCommand"
	RegisterDevice           Action = "RegisterDevice"
	CreateDeviceNotification Action = "CreateDeviceNotification"
	CreateDeviceCommand      Action = "CreateDeviceCommand"
	UpdateDeviceCommand      Action = "UpdateDeviceCommand"
	GetCurrentUser           Action = "GetCurrentUser"
	UpdateCurrentUser        Action = "UpdateCurrentUser"
	ManageAccessKey          Action = "ManageAccessKey"
	ManageNetwork            Action = "ManageNetwork"
	ManageDeviceType         Action = "ManageDeviceType"
	ManageUser               Action = "ManageUser"
	ManageToken              Action = "ManageToken"
	ManagePlugin             Action = "ManagePlugin"
	GetPlugin                Action = "GetPlugin"
	ManageConfiguration      Action = "ManageConfiguration"
	ManageOAuthClient        Action = "ManageOAuthClient"
	ManageOAuthGrant         Action = "ManageOAuthGrant"
	GetDeviceEquipment       Action = "GetDeviceEquipment"
)

// ClientActions is the action set granted to client users.
var ClientActions = []Action{
	GetNetwork,
	GetDevice,
	GetDeviceType,
	GetDeviceNotification,
	GetDeviceCommand,
	GetDeviceEquipment,
	RegisterDevice,
	CreateDeviceNotification,
	CreateDeviceCommand,
	UpdateDeviceCommand,
	GetCurrentUser,
	UpdateCurrentUser,
	ManageAccessKey,
	ManageToken,
	GetPlugin,
	ManagePlugin,
}

// DeviceActions is the action set a device credential may use on its own
// guid.
var DeviceActions = []Action{
	GetDevice,
	RegisterDevice,
	GetDeviceCommand,
	UpdateDeviceCommand,
	GetDeviceNotification,
	CreateDeviceNotification,
	GetDeviceEquipment,
}

// ParseAction returns the Action for the given name.
func ParseAction(s string) (Action, bool) {
	if s == string(Any) {
		return Any, true
	}
	for _, a := range allActions {
		if string(a) == s {
			return a, true
		}
	}
	return "", false
}

var allActions = []Action{
	GetNetwork, GetDevice, GetDeviceType, GetDeviceNotification, GetDeviceCommand,
	RegisterDevice, CreateDeviceNotification, CreateDeviceCommand, UpdateDeviceCommand,
	GetCurrentUser, UpdateCurrentUser, ManageAccessKey, ManageNetwork, ManageDeviceType,
	ManageUser, ManageToken, ManagePlugin, GetPlugin, ManageConfiguration,
	ManageOAuthClient, ManageOAuthGrant, GetDeviceEquipment,
}

func hasAction(actions []Action, a Action) bool {
	for _, x := range actions {
		if x == a || x == Any {
			return true
		}
	}
	return false
}

// Permission is a single grant.
type Permission struct {
	Actions       []Action `json:"actions,omitempty"`
	NetworkIDs    *IDSet   `json:"networkIds,omitempty"`
	DeviceTypeIDs *IDSet   `json:"deviceTypeIds,omitempty"`
	DeviceGUIDs   *GUIDSet `json:"deviceIds,omitempty"`
	Subnets       []string `json:"subnets,omitempty"`
	Domains       []string `json:"domains,omitempty"`
}

// AdminPermission returns the permission granting everything.
func AdminPermission() Permission {
	return Permission{
		Actions:       []Action{Any},
		NetworkIDs:    AllIDs(),
		DeviceTypeIDs: AllIDs(),
	}
}

// Restrict intersects the network and device-type lists of each permission
// with the given sets. A nil list on the permission stays nil.
func Restrict(perms []Permission, networks, deviceTypes *IDSet) []Permission {
	out := make([]Permission, len(perms))
	for i, p := range perms {
		out[i] = p
		if p.NetworkIDs != nil {
			out[i].NetworkIDs = p.NetworkIDs.Intersect(networks)
			if out[i].NetworkIDs == nil {
				out[i].NetworkIDs = NewIDSet()
			}
		}
		if p.DeviceTypeIDs != nil {
			out[i].DeviceTypeIDs = p.DeviceTypeIDs.Intersect(deviceTypes)
			if out[i].DeviceTypeIDs == nil {
				out[i].DeviceTypeIDs = NewIDSet()
			}
		}
	}
	return out
}

// Kind defines the kind of credential a principal was built from.
type Kind int

// Principal kinds.
const (
	KindUser Kind = iota
	KindJWT
	KindAccessKey
	KindDevice
	KindGateway
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindJWT:
		return "jwt"
	case KindAccessKey:
		return "accesskey"
	case KindDevice:
		return "device"
	case KindGateway:
		return "gateway"
	}
	return "unknown"
}

// Principal is the authenticated identity of a request or connection.
type Principal struct {
	Kind        Kind
	UserID      int64
	Admin       bool
	AccessKeyID int64
	DeviceGUID  string
	Permissions []Permission
	ClientIP    net.IP
	Origin      string
}

// HasUser returns true when the principal is backed by a user.
func (p *Principal) HasUser() bool {
	return p != nil && p.UserID != 0
}

// Scope identifies the target of an action. Nil ids are not checked.
type Scope struct {
	NetworkID    *int64
	DeviceTypeID *int64
	DeviceGUID   string
}

// NetworkScope returns the scope of a network.
func NetworkScope(id int64) Scope {
	return Scope{NetworkID: &id}
}

// DeviceTypeScope returns the scope of a device type.
func DeviceTypeScope(id int64) Scope {
	return Scope{DeviceTypeID: &id}
}

// DeviceScope returns the scope of a device.
func DeviceScope(guid string, networkID, deviceTypeID *int64) Scope {
	return Scope{DeviceGUID: guid, NetworkID: networkID, DeviceTypeID: deviceTypeID}
}

// Decision is the result of Evaluate.
type Decision struct {
	Allowed bool
	Reason  string
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Evaluate decides whether principal p may perform action on scope s.
func Evaluate(p *Principal, action Action, s Scope) Decision {
	if p == nil {
		return deny("not authenticated")
	}

	switch p.Kind {
	case KindDevice:
		if !hasAction(DeviceActions, action) {
			return deny("action is not allowed for device credentials")
		}
		if s.DeviceGUID == "" || s.DeviceGUID != p.DeviceGUID {
			return deny("device credentials are bound to their own device")
		}
		return Decision{Allowed: true}
	case KindGateway:
		if !hasAction(DeviceActions, action) || s.DeviceGUID == "" {
			return deny("action is not allowed for gateway credentials")
		}
		return Decision{Allowed: true}
	}

	reason := "no permission grants " + string(action)
	for i := range p.Permissions {
		ok, r := p.Permissions[i].allows(action, s, p.ClientIP, p.Origin)
		if ok {
			return Decision{Allowed: true}
		}
		if r != "" {
			reason = r
		}
	}
	return deny(reason)
}

// Allowed is a shortcut for Evaluate(p, action, s).Allowed.
func Allowed(p *Principal, action Action, s Scope) bool {
	return Evaluate(p, action, s).Allowed
}

// CanAny returns true when the principal holds the action on any scope.
func CanAny(p *Principal, action Action) bool {
	if p == nil {
		return false
	}
	switch p.Kind {
	case KindDevice, KindGateway:
		return hasAction(DeviceActions, action)
	}
	for i := range p.Permissions {
		perm := &p.Permissions[i]
		if hasAction(perm.Actions, action) && perm.matchesClient(p.ClientIP, p.Origin) {
			return true
		}
	}
	return false
}

// Networks returns the network ids on which the principal holds action.
// The result is nil when it holds none.
func Networks(p *Principal, action Action) *IDSet {
	return collect(p, action, func(perm *Permission) *IDSet { return perm.NetworkIDs })
}

// DeviceTypes returns the device-type ids on which the principal holds
// action. The result is nil when it holds none.
func DeviceTypes(p *Principal, action Action) *IDSet {
	return collect(p, action, func(perm *Permission) *IDSet { return perm.DeviceTypeIDs })
}

// DeviceGUIDs returns the device guids the principal is narrowed to for
// action. A nil result means no narrowing applies.
func DeviceGUIDs(p *Principal, action Action) *GUIDSet {
	if p == nil {
		return NewGUIDSet()
	}
	switch p.Kind {
	case KindDevice:
		return NewGUIDSet(p.DeviceGUID)
	case KindGateway:
		return nil
	}

	var guids []string
	for i := range p.Permissions {
		perm := &p.Permissions[i]
		if !hasAction(perm.Actions, action) || !perm.matchesClient(p.ClientIP, p.Origin) {
			continue
		}
		if perm.DeviceGUIDs == nil || perm.DeviceGUIDs.all {
			return nil
		}
		guids = append(guids, perm.DeviceGUIDs.GUIDs()...)
	}
	return NewGUIDSet(guids...)
}

// Grant is the scope of a single permission holding an action.
type Grant struct {
	NetworkIDs    *IDSet
	DeviceTypeIDs *IDSet
	// DeviceGUIDs is nil when the grant does not narrow devices.
	DeviceGUIDs *GUIDSet
}

// Grants returns the scopes on which the principal holds action. Each
// grant is an alternative.
func Grants(p *Principal, action Action) []Grant {
	if p == nil {
		return nil
	}
	switch p.Kind {
	case KindDevice:
		if !hasAction(DeviceActions, action) {
			return nil
		}
		return []Grant{{NetworkIDs: AllIDs(), DeviceTypeIDs: AllIDs(), DeviceGUIDs: NewGUIDSet(p.DeviceGUID)}}
	case KindGateway:
		if !hasAction(DeviceActions, action) {
			return nil
		}
		return []Grant{{NetworkIDs: AllIDs(), DeviceTypeIDs: AllIDs()}}
	}

	var out []Grant
	for i := range p.Permissions {
		perm := &p.Permissions[i]
		if !hasAction(perm.Actions, action) || !perm.matchesClient(p.ClientIP, p.Origin) {
			continue
		}
		g := Grant{
			NetworkIDs:    perm.NetworkIDs,
			DeviceTypeIDs: perm.DeviceTypeIDs,
		}
		if perm.DeviceGUIDs != nil && !perm.DeviceGUIDs.all {
			g.DeviceGUIDs = perm.DeviceGUIDs
		}
		out = append(out, g)
	}
	return out
}

func collect(p *Principal, action Action, get func(*Permission) *IDSet) *IDSet {
	if p == nil {
		return nil
	}
	switch p.Kind {
	case KindDevice:
		return nil
	case KindGateway:
		return AllIDs()
	}

	var out *IDSet
	for i := range p.Permissions {
		perm := &p.Permissions[i]
		if !hasAction(perm.Actions, action) || !perm.matchesClient(p.ClientIP, p.Origin) {
			continue
		}
		out = out.Union(get(perm))
	}
	return out
}

func (p *Permission) allows(action Action, s Scope, ip net.IP, origin string) (bool, string) {
	if !hasAction(p.Actions, action) {
		return false, ""
	}
	if !p.matchesClient(ip, origin) {
		return false, "client address or origin is not permitted"
	}
	if s.NetworkID != nil && !p.NetworkIDs.Contains(*s.NetworkID) {
		return false, "network is out of scope"
	}
	if s.DeviceTypeID != nil && !p.DeviceTypeIDs.Contains(*s.DeviceTypeID) {
		return false, "device type is out of scope"
	}
	if s.DeviceGUID != "" {
		// a device without network is only visible to network wildcards
		if s.NetworkID == nil && !p.NetworkIDs.All() {
			return false, "network is out of scope"
		}
		if p.DeviceGUIDs != nil && !p.DeviceGUIDs.Contains(s.DeviceGUID) {
			return false, "device is out of scope"
		}
	}
	return true, ""
}

func (p *Permission) matchesClient(ip net.IP, origin string) bool {
	if len(p.Subnets) > 0 {
		if ip == nil {
			return false
		}
		var ok bool
		for _, s := range p.Subnets {
			if inSubnet(ip, s) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	if len(p.Domains) > 0 {
		host := originHost(origin)
		if host == "" {
			return false
		}
		var ok bool
		for _, d := range p.Domains {
			d = strings.ToLower(strings.TrimPrefix(d, "."))
			if host == d || strings.HasSuffix(host, "."+d) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	return true
}

func inSubnet(ip net.IP, subnet string) bool {
	if !strings.Contains(subnet, "/") {
		return ip.Equal(net.ParseIP(subnet))
	}
	_, n, err := net.ParseCIDR(subnet)
	if err != nil {
		return false
	}
	return n.Contains(ip)
}

func originHost(origin string) string {
	if origin == "" {
		return ""
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return strings.ToLower(origin)
	}
	return strings.ToLower(u.Hostname())
}
