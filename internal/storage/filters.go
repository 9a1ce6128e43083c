package storage

import (
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// Sort orders.
const (
	SortASC  = "ASC"
	SortDESC = "DESC"
)

// ListOptions holds the paging and sorting options of list queries.
type ListOptions struct {
	SortField string
	SortOrder string
	Take      int
	Skip      int
}

// clause returns the order by, limit and offset clause. The sort field must
// be a key of columns.
func (o ListOptions) clause(columns map[string]string, def string) (string, error) {
	col := def
	if o.SortField != "" {
		c, ok := columns[o.SortField]
		if !ok {
			return "", ErrInvalidSortField
		}
		col = c
	}

	order := SortASC
	if strings.EqualFold(o.SortOrder, SortDESC) {
		order = SortDESC
	}

	out := " order by " + col + " " + order
	if o.Take > 0 {
		out += " limit " + strconv.Itoa(o.Take)
	}
	if o.Skip > 0 {
		out += " offset " + strconv.Itoa(o.Skip)
	}
	return out, nil
}

// VisibilityClause is one alternative under which a row is visible. An
// empty NetworkIDs with AllNetworks unset matches nothing. A row without
// device type passes the device-type check.
type VisibilityClause struct {
	AllNetworks    bool
	NetworkIDs     []int64
	AllDeviceTypes bool
	DeviceTypeIDs  []int64
	// DeviceGUIDs narrows devices when not nil.
	DeviceGUIDs []string
}

// Visibility restricts list queries to the rows a principal may see. A nil
// *Visibility does not restrict.
type Visibility struct {
	Clauses []VisibilityClause
}

type query struct {
	where []string
	args  []interface{}
}

func (q *query) arg(v interface{}) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

func (q *query) and(cond string) {
	q.where = append(q.where, cond)
}

func (q *query) whereClause() string {
	if len(q.where) == 0 {
		return ""
	}
	return " where " + strings.Join(q.where, " and ")
}

// visible adds the visibility condition for the given columns. An empty
// column name skips that dimension.
func (q *query) visible(v *Visibility, networkCol, deviceTypeCol, guidCol string) {
	if v == nil {
		return
	}
	if len(v.Clauses) == 0 {
		q.and("false")
		return
	}

	var alts []string
	for _, c := range v.Clauses {
		var parts []string
		if networkCol != "" && !c.AllNetworks {
			parts = append(parts, networkCol+" = any("+q.arg(pq.Array(c.NetworkIDs))+")")
		}
		if deviceTypeCol != "" && !c.AllDeviceTypes {
			parts = append(parts, "("+deviceTypeCol+" is null or "+deviceTypeCol+" = any("+q.arg(pq.Array(c.DeviceTypeIDs))+"))")
		}
		if guidCol != "" && c.DeviceGUIDs != nil {
			parts = append(parts, guidCol+" = any("+q.arg(pq.Array(c.DeviceGUIDs))+")")
		}
		if len(parts) == 0 {
			alts = append(alts, "true")
			continue
		}
		alts = append(alts, "("+strings.Join(parts, " and ")+")")
	}
	q.and("(" + strings.Join(alts, " or ") + ")")
}
