package gateway

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/devicehive/devicehive-server/internal/storage"
)

func TestDeviceIDFromTopic(t *testing.T) {
	Convey("Given a set of topics", t, func() {
		tests := []struct {
			Pattern  string
			Topic    string
			Sep      string
			Wildcard string
			Expected string
			Error    bool
		}{
			{"devicehive/+/notification", "devicehive/dev-1/notification", "/", "+", "dev-1", false},
			{"devicehive.*.notification", "devicehive.dev-2.notification", ".", "*", "dev-2", false},
			{"devicehive/+/notification", "devicehive/dev-1/x/notification", "/", "+", "", true},
			{"devicehive/notification", "devicehive/notification", "/", "+", "", true},
		}

		for _, test := range tests {
			Convey("Testing: "+test.Topic, func() {
				id, err := DeviceIDFromTopic(test.Pattern, test.Topic, test.Sep, test.Wildcard)
				if test.Error {
					So(err, ShouldNotBeNil)
					return
				}
				So(err, ShouldBeNil)
				So(id, ShouldEqual, test.Expected)
			})
		}
	})
}

func TestNotification(t *testing.T) {
	Convey("Given a notification payload", t, func() {
		b := []byte(`{"notification": "temperature", "parameters": {"value": 21.5}}`)

		Convey("Then it decodes for a valid device id", func() {
			n, err := UnmarshalNotification("dev-1", b)
			So(err, ShouldBeNil)
			So(n.DeviceGUID, ShouldEqual, "dev-1")
			So(n.Notification, ShouldEqual, "temperature")
			So(n.Parameters, ShouldNotBeEmpty)
		})

		Convey("Then an invalid device id is rejected", func() {
			_, err := UnmarshalNotification("dev 1", b)
			So(err, ShouldNotBeNil)
		})

		Convey("Then a missing name is rejected", func() {
			_, err := UnmarshalNotification("dev-1", []byte(`{"parameters": {}}`))
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given a command topic template", t, func() {
		tmpl, err := NewTopicTemplate("command", "devicehive/{{ .DeviceID }}/command")
		So(err, ShouldBeNil)

		Convey("Then the device id is filled in", func() {
			topic, err := ExecuteTopicTemplate(tmpl, "dev-1")
			So(err, ShouldBeNil)
			So(topic, ShouldEqual, "devicehive/dev-1/command")
		})

		Convey("Then commands are encoded as JSON", func() {
			b, err := MarshalCommand(storage.DeviceCommand{ID: 1, DeviceGUID: "dev-1", Command: "reboot"})
			So(err, ShouldBeNil)
			So(string(b), ShouldContainSubstring, `"command":"reboot"`)
		})
	})
}
