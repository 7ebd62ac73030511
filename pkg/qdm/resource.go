// Package qdm is a client for the Data Management project and data APIs:
// hubs, projects, folders, items, versions and storage locations.
package qdm

import "encoding/json"

// Ref points at another resource.
type Ref struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Relationship wraps a Ref the JSON:API way.
type Relationship struct {
	Data *Ref           `json:"data,omitempty"`
	Meta map[string]any `json:"meta,omitempty"`
}

type Link struct {
	Href string `json:"href"`
}

// Resource is one JSON:API resource object. Attributes differ per type and are
// kept loosely typed.
type Resource struct {
	Type          string                  `json:"type"`
	ID            string                  `json:"id,omitempty"`
	Attributes    map[string]any          `json:"attributes,omitempty"`
	Relationships map[string]Relationship `json:"relationships,omitempty"`
	Links         map[string]Link         `json:"links,omitempty"`
}

// Attr returns a string attribute, or "".
func (r *Resource) Attr(name string) string {
	if r == nil {
		return ""
	}
	s, _ := r.Attributes[name].(string)
	return s
}

// Name is the display name of hubs, projects, folders, items and versions.
func (r *Resource) Name() string {
	if n := r.Attr("displayName"); n != "" {
		return n
	}
	return r.Attr("name")
}

// Related returns the id of a to-one relationship, e.g. Related("parent").
func (r *Resource) Related(name string) string {
	if r == nil {
		return ""
	}
	if rel, ok := r.Relationships[name]; ok && rel.Data != nil {
		return rel.Data.ID
	}
	return ""
}

// document is the top-level envelope of single-resource responses and
// create requests.
type document struct {
	JSONAPI  *jsonAPIVersion `json:"jsonapi,omitempty"`
	Data     *Resource       `json:"data"`
	Included []Resource      `json:"included,omitempty"`
}

type jsonAPIVersion struct {
	Version string `json:"version"`
}

func newDocument(data *Resource, included ...Resource) document {
	return document{JSONAPI: &jsonAPIVersion{Version: "1.0"}, Data: data, Included: included}
}

func relation(typ, id string) Relationship {
	return Relationship{Data: &Ref{Type: typ, ID: id}}
}

func decodeResources(dst *[]Resource) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		var r Resource
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		*dst = append(*dst, r)
		return nil
	}
}
