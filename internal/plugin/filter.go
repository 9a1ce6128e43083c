package plugin

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/devicehive/devicehive-server/internal/subscription"
)

// Filter is the parsed form of a plugin filter. The text form is
// "<kinds>/<networkIds>/<deviceTypeIds>/<deviceId>/<names>" where every
// list is comma separated and "*" matches everything.
type Filter struct {
	Kinds         []subscription.Kind
	NetworkIDs    []int64
	DeviceTypeIDs []int64
	DeviceGUID    string
	Names         []string
}

const wildcard = "*"

var kindNames = map[string]subscription.Kind{
	"command":        subscription.KindCommand,
	"command_update": subscription.KindCommandUpdate,
	"notification":   subscription.KindNotification,
}

// ParseFilter parses the text form of a plugin filter.
func ParseFilter(s string) (Filter, error) {
	var f Filter
	parts := strings.Split(s, "/")
	if len(parts) != 5 {
		return f, errors.New("filter must have 5 parts")
	}

	for _, name := range splitList(parts[0]) {
		k, ok := kindNames[name]
		if !ok {
			return f, errors.Errorf("unknown event kind: %s", name)
		}
		f.Kinds = append(f.Kinds, k)
	}
	if len(f.Kinds) == 0 {
		f.Kinds = []subscription.Kind{subscription.KindCommand, subscription.KindCommandUpdate, subscription.KindNotification}
	}

	var err error
	if f.NetworkIDs, err = parseIDs(parts[1]); err != nil {
		return f, errors.Wrap(err, "parse network ids error")
	}
	if f.DeviceTypeIDs, err = parseIDs(parts[2]); err != nil {
		return f, errors.Wrap(err, "parse device-type ids error")
	}
	if parts[3] != wildcard {
		f.DeviceGUID = parts[3]
	}
	f.Names = splitList(parts[4])

	var scopes int
	for _, set := range []bool{len(f.NetworkIDs) != 0, len(f.DeviceTypeIDs) != 0, f.DeviceGUID != ""} {
		if set {
			scopes++
		}
	}
	if scopes > 1 {
		return f, errors.New("only one of network ids, device-type ids and device id can be set")
	}
	return f, nil
}

// String returns the text form of the filter.
func (f Filter) String() string {
	kinds := make([]string, 0, len(f.Kinds))
	for _, k := range f.Kinds {
		kinds = append(kinds, k.String())
	}
	guid := f.DeviceGUID
	if guid == "" {
		guid = wildcard
	}
	return strings.Join([]string{
		joinList(kinds),
		joinIDs(f.NetworkIDs),
		joinIDs(f.DeviceTypeIDs),
		guid,
		joinList(f.Names),
	}, "/")
}

// Subscriptions returns one subscription filter per event kind.
func (f Filter) Subscriptions() []subscription.Filter {
	out := make([]subscription.Filter, 0, len(f.Kinds))
	for _, k := range f.Kinds {
		sf := subscription.Filter{
			Kind:          k,
			NetworkIDs:    f.NetworkIDs,
			DeviceTypeIDs: f.DeviceTypeIDs,
			Names:         f.Names,
		}
		if f.DeviceGUID != "" {
			sf.DeviceGUIDs = []string{f.DeviceGUID}
		}
		out = append(out, sf)
	}
	return out
}

func splitList(s string) []string {
	if s == "" || s == wildcard {
		return nil
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func joinList(items []string) string {
	if len(items) == 0 {
		return wildcard
	}
	return strings.Join(items, ",")
}

func parseIDs(s string) ([]int64, error) {
	var out []int64
	for _, item := range splitList(s) {
		id, err := strconv.ParseInt(item, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func joinIDs(ids []int64) string {
	items := make([]string, 0, len(ids))
	for _, id := range ids {
		items = append(items, strconv.FormatInt(id, 10))
	}
	return joinList(items)
}
