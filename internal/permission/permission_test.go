package permission

import (
	"encoding/json"
	"fmt"
	"net"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func i64(v int64) *int64 {
	return &v
}

func TestEvaluate(t *testing.T) {
	Convey("Given a set of principals", t, func() {
		admin := &Principal{Kind: KindUser, UserID: 1, Admin: true, Permissions: []Permission{AdminPermission()}}
		client := &Principal{Kind: KindJWT, UserID: 2, Permissions: []Permission{
			{
				Actions:       []Action{GetDevice, GetDeviceNotification, CreateDeviceCommand},
				NetworkIDs:    NewIDSet(10, 11),
				DeviceTypeIDs: NewIDSet(20),
			},
		}}
		noTypes := &Principal{Kind: KindAccessKey, UserID: 3, Permissions: []Permission{
			{
				Actions:    []Action{GetDevice},
				NetworkIDs: NewIDSet(10),
			},
		}}
		narrowed := &Principal{Kind: KindAccessKey, UserID: 4, Permissions: []Permission{
			{
				Actions:       []Action{Any},
				NetworkIDs:    AllIDs(),
				DeviceTypeIDs: AllIDs(),
				DeviceGUIDs:   NewGUIDSet("dev-a"),
			},
		}}
		device := &Principal{Kind: KindDevice, DeviceGUID: "dev-a"}
		gateway := &Principal{Kind: KindGateway}

		tests := []struct {
			Name      string
			Principal *Principal
			Action    Action
			Scope     Scope
			Allowed   bool
		}{
			{"nil principal", nil, GetDevice, DeviceScope("dev-a", i64(10), i64(20)), false},
			{"admin any device", admin, GetDevice, DeviceScope("dev-a", i64(99), i64(98)), true},
			{"admin detached device", admin, GetDevice, DeviceScope("dev-a", nil, nil), true},
			{"client in scope", client, GetDevice, DeviceScope("dev-a", i64(10), i64(20)), true},
			{"client wrong network", client, GetDevice, DeviceScope("dev-a", i64(12), i64(20)), false},
			{"client wrong device type", client, GetDevice, DeviceScope("dev-a", i64(10), i64(21)), false},
			{"client device without device type", client, GetDevice, DeviceScope("dev-a", i64(11), nil), true},
			{"client detached device", client, GetDevice, DeviceScope("dev-a", nil, nil), false},
			{"client missing action", client, ManageNetwork, NetworkScope(10), false},
			{"absent device type list", noTypes, GetDevice, DeviceScope("dev-a", i64(10), i64(20)), false},
			{"guid narrowing allows", narrowed, GetDevice, DeviceScope("dev-a", i64(1), i64(1)), true},
			{"guid narrowing denies", narrowed, GetDevice, DeviceScope("dev-b", i64(1), i64(1)), false},
			{"device own guid", device, CreateDeviceNotification, DeviceScope("dev-a", i64(1), nil), true},
			{"device other guid", device, CreateDeviceNotification, DeviceScope("dev-b", i64(1), nil), false},
			{"device forbidden action", device, CreateDeviceCommand, DeviceScope("dev-a", i64(1), nil), false},
			{"gateway device action", gateway, CreateDeviceNotification, DeviceScope("dev-z", nil, nil), true},
			{"gateway user action", gateway, ManageUser, Scope{}, false},
		}

		for i, test := range tests {
			Convey(fmt.Sprintf("Testing: %s [%d]", test.Name, i), func() {
				So(Evaluate(test.Principal, test.Action, test.Scope).Allowed, ShouldEqual, test.Allowed)
			})
		}
	})
}

func TestClientRestrictions(t *testing.T) {
	Convey("Given a permission narrowed by subnet and domain", t, func() {
		perm := Permission{
			Actions:       []Action{GetNetwork},
			NetworkIDs:    AllIDs(),
			DeviceTypeIDs: AllIDs(),
			Subnets:       []string{"10.0.0.0/8", "192.168.1.5"},
			Domains:       []string{"example.com"},
		}

		Convey("A request from an allowed address and origin passes", func() {
			p := &Principal{Kind: KindAccessKey, Permissions: []Permission{perm}, ClientIP: net.ParseIP("10.1.2.3"), Origin: "https://app.example.com"}
			So(Allowed(p, GetNetwork, NetworkScope(1)), ShouldBeTrue)
			So(CanAny(p, GetNetwork), ShouldBeTrue)
		})

		Convey("A single address entry matches exactly", func() {
			p := &Principal{Kind: KindAccessKey, Permissions: []Permission{perm}, ClientIP: net.ParseIP("192.168.1.5"), Origin: "http://example.com:8080"}
			So(Allowed(p, GetNetwork, NetworkScope(1)), ShouldBeTrue)
		})

		Convey("A request from another subnet is denied", func() {
			p := &Principal{Kind: KindAccessKey, Permissions: []Permission{perm}, ClientIP: net.ParseIP("172.16.0.1"), Origin: "https://example.com"}
			So(Allowed(p, GetNetwork, NetworkScope(1)), ShouldBeFalse)
			So(CanAny(p, GetNetwork), ShouldBeFalse)
		})

		Convey("A request from another origin is denied", func() {
			p := &Principal{Kind: KindAccessKey, Permissions: []Permission{perm}, ClientIP: net.ParseIP("10.0.0.1"), Origin: "https://example.org"}
			So(Allowed(p, GetNetwork, NetworkScope(1)), ShouldBeFalse)
		})
	})
}

func TestScopeCollections(t *testing.T) {
	Convey("Given a principal with two permissions", t, func() {
		p := &Principal{Kind: KindJWT, Permissions: []Permission{
			{Actions: []Action{GetNetwork}, NetworkIDs: NewIDSet(1, 2)},
			{Actions: []Action{GetNetwork, GetDevice}, NetworkIDs: NewIDSet(3), DeviceTypeIDs: NewIDSet(7), DeviceGUIDs: NewGUIDSet("a", "b")},
		}}

		Convey("Networks returns the union for the action", func() {
			So(Networks(p, GetNetwork).IDs(), ShouldResemble, []int64{1, 2, 3})
			So(Networks(p, GetDevice).IDs(), ShouldResemble, []int64{3})
			So(Networks(p, ManageUser), ShouldBeNil)
		})

		Convey("DeviceTypes returns the union for the action", func() {
			So(DeviceTypes(p, GetDevice).IDs(), ShouldResemble, []int64{7})
		})

		Convey("DeviceGUIDs returns the narrowing list", func() {
			So(DeviceGUIDs(p, GetDevice).GUIDs(), ShouldResemble, []string{"a", "b"})
			So(DeviceGUIDs(p, GetNetwork), ShouldBeNil)
		})

		Convey("Grants returns one alternative per permission", func() {
			g := Grants(p, GetDevice)
			So(g, ShouldHaveLength, 1)
			So(g[0].NetworkIDs.IDs(), ShouldResemble, []int64{3})
			So(g[0].DeviceGUIDs.GUIDs(), ShouldResemble, []string{"a", "b"})
			So(Grants(p, GetNetwork), ShouldHaveLength, 2)
			So(Grants(p, ManageUser), ShouldBeEmpty)

			d := Grants(&Principal{Kind: KindDevice, DeviceGUID: "x"}, GetDeviceCommand)
			So(d, ShouldHaveLength, 1)
			So(d[0].NetworkIDs.All(), ShouldBeTrue)
			So(d[0].DeviceGUIDs.GUIDs(), ShouldResemble, []string{"x"})
		})

		Convey("Restrict intersects with the current assignments", func() {
			out := Restrict(p.Permissions, NewIDSet(2, 3), AllIDs())
			So(out[0].NetworkIDs.IDs(), ShouldResemble, []int64{2})
			So(out[1].NetworkIDs.IDs(), ShouldResemble, []int64{3})
			So(out[1].DeviceTypeIDs.IDs(), ShouldResemble, []int64{7})
			So(out[0].DeviceTypeIDs, ShouldBeNil)
		})
	})
}

func TestIDSetJSON(t *testing.T) {
	Convey("Given JSON permission payloads", t, func() {
		Convey("Numbers and numeric strings are accepted", func() {
			var p Permission
			So(json.Unmarshal([]byte(`{"actions":["GetDevice"],"networkIds":[1,"2"],"deviceTypeIds":["*"]}`), &p), ShouldBeNil)
			So(p.NetworkIDs.IDs(), ShouldResemble, []int64{1, 2})
			So(p.DeviceTypeIDs.All(), ShouldBeTrue)
			So(p.DeviceGUIDs, ShouldBeNil)

			b, err := json.Marshal(p)
			So(err, ShouldBeNil)
			So(string(b), ShouldEqual, `{"actions":["GetDevice"],"networkIds":[1,2],"deviceTypeIds":["*"]}`)
		})

		Convey("A null list stays absent", func() {
			var p Permission
			So(json.Unmarshal([]byte(`{"actions":["GetDevice"],"networkIds":null}`), &p), ShouldBeNil)
			So(p.NetworkIDs, ShouldBeNil)
		})

		Convey("Invalid ids are rejected", func() {
			var p Permission
			So(json.Unmarshal([]byte(`{"networkIds":["abc"]}`), &p), ShouldNotBeNil)
		})
	})
}

func TestParseAction(t *testing.T) {
	Convey("Given action names", t, func() {
		a, ok := ParseAction("GetDevice")
		So(ok, ShouldBeTrue)
		So(a, ShouldEqual, GetDevice)

		a, ok = ParseAction("*")
		So(ok, ShouldBeTrue)
		So(a, ShouldEqual, Any)

		_, ok = ParseAction("DropDatabase")
		So(ok, ShouldBeFalse)
	})
}
