package remote

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
)

// Query holds the global query parameters understood by the API.
type Query struct {
	Fields []string
	Filter map[string]any
	Search string
	Sort   []string
	Limit  int
	Offset int
	Page   int
	Deep   map[string]any
}

// Values encodes the query. Zero fields are omitted.
func (q Query) Values() url.Values {
	v := url.Values{}
	if len(q.Fields) > 0 {
		v.Set("fields", strings.Join(q.Fields, ","))
	}
	if len(q.Filter) > 0 {
		if data, err := json.Marshal(q.Filter); err == nil {
			v.Set("filter", string(data))
		}
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if len(q.Sort) > 0 {
		v.Set("sort", strings.Join(q.Sort, ","))
	}
	if q.Limit != 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if len(q.Deep) > 0 {
		if data, err := json.Marshal(q.Deep); err == nil {
			v.Set("deep", string(data))
		}
	}
	return v
}

// Key returns a stable string form used in cache keys.
func (q Query) Key() string {
	return q.Values().Encode()
}

// WithID returns q with "id" added to an explicit field list, so a profile
// read always identifies its user.
func (q Query) WithID() Query {
	if len(q.Fields) == 0 {
		return q
	}
	for _, f := range q.Fields {
		if f == "id" || f == "*" {
			return q
		}
	}
	q.Fields = append([]string{"id"}, q.Fields...)
	return q
}
