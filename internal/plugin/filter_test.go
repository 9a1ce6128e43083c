package plugin

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/devicehive/devicehive-server/internal/subscription"
)

func TestFilter(t *testing.T) {
	Convey("Given a set of plugin filters", t, func() {
		tests := []struct {
			Name     string
			Text     string
			Expected Filter
			Canon    string
			Error    bool
		}{
			{
				Name: "wildcards select all kinds",
				Text: "*/*/*/*/*",
				Expected: Filter{
					Kinds: []subscription.Kind{subscription.KindCommand, subscription.KindCommandUpdate, subscription.KindNotification},
				},
				Canon: "command,command_update,notification/*/*/*/*",
			},
			{
				Name: "notifications of two networks",
				Text: "notification/1,2/*/*/temperature,humidity",
				Expected: Filter{
					Kinds:      []subscription.Kind{subscription.KindNotification},
					NetworkIDs: []int64{1, 2},
					Names:      []string{"temperature", "humidity"},
				},
				Canon: "notification/1,2/*/*/temperature,humidity",
			},
			{
				Name: "commands of a device",
				Text: "command/*/*/dev-1/*",
				Expected: Filter{
					Kinds:      []subscription.Kind{subscription.KindCommand},
					DeviceGUID: "dev-1",
				},
				Canon: "command/*/*/dev-1/*",
			},
			{
				Name:  "unknown kind",
				Text:  "event/*/*/*/*",
				Error: true,
			},
			{
				Name:  "missing parts",
				Text:  "command/*/*",
				Error: true,
			},
			{
				Name:  "invalid network id",
				Text:  "command/x/*/*/*",
				Error: true,
			},
			{
				Name:  "two scopes",
				Text:  "command/1/2/*/*",
				Error: true,
			},
		}

		for _, test := range tests {
			Convey("Testing: "+test.Name, func() {
				f, err := ParseFilter(test.Text)
				if test.Error {
					So(err, ShouldNotBeNil)
					return
				}
				So(err, ShouldBeNil)
				So(f, ShouldResemble, test.Expected)
				So(f.String(), ShouldEqual, test.Canon)
				So(f.Subscriptions(), ShouldHaveLength, len(test.Expected.Kinds))
			})
		}
	})
}
