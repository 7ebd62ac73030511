package qhttp

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/oapi-codegen/runtime"
)

// page covers the three list envelopes used by the platform: Data Management
// (data + links.next.href), OSS (items + next) and Design Automation
// (data + paginationToken).
type page struct {
	Data  []json.RawMessage `json:"data"`
	Items []json.RawMessage `json:"items"`
	Next  string            `json:"next"`
	Links struct {
		Next struct {
			Href string `json:"href"`
		} `json:"next"`
	} `json:"links"`
	PaginationToken string `json:"paginationToken"`
}

func (p *page) entries() []json.RawMessage {
	if len(p.Data) > 0 {
		return p.Data
	}
	return p.Items
}

// Paginate calls fn for every entry of every page starting at path. Returning
// an error from fn stops iteration.
func (c *Client) Paginate(ctx context.Context, path string, query url.Values, fn func(json.RawMessage) error) error {
	next := path
	q := query
	for next != "" {
		var p page
		if err := c.Get(ctx, next, q, &p); err != nil {
			return err
		}
		for _, e := range p.entries() {
			if err := fn(e); err != nil {
				return err
			}
		}

		switch {
		case p.Links.Next.Href != "":
			next, q = p.Links.Next.Href, nil
		case p.Next != "":
			next, q = p.Next, nil
		case p.PaginationToken != "":
			q = cloneValues(query)
			q.Set("page", p.PaginationToken)
			next = path
		default:
			next = ""
		}
	}
	return nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+1)
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Path joins segments into an escaped URL path, e.g.
// Path("buckets", key, "objects", name) -> "/buckets/<key>/objects/<name>".
func Path(segments ...string) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString("/")
		escaped, err := runtime.StyleParamWithLocation("simple", false, "segment", runtime.ParamLocationPath, s)
		if err != nil {
			escaped = url.PathEscape(s)
		}
		b.WriteString(escaped)
	}
	return b.String()
}
