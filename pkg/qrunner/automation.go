package qrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quatton/apsflow/pkg/qhttp"
	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
)

const (
	DefaultHost   = "https://developer.api.autodesk.com"
	DefaultRegion = "us-east"
)

// BaseURL returns the Design Automation v3 endpoint for a region on host.
// Empty arguments take the defaults.
func BaseURL(host, region string) string {
	if host == "" {
		host = DefaultHost
	}
	if region == "" {
		region = DefaultRegion
	}
	return strings.TrimRight(host, "/") + "/da/" + region + "/v3"
}

// Client talks to the Design Automation v3 REST API. It implements Runner.
type Client struct {
	api    *qhttp.Client
	logger *qlog.Logger
}

var _ Runner = (*Client)(nil)

// NewClient uses api, which must be rooted at BaseURL(host, region) and carry a
// token with code:all.
func NewClient(api *qhttp.Client, logger *qlog.Logger) *Client {
	return &Client{api: api, logger: qlog.OrDefault(logger)}
}

func submissionError(err error) error {
	if err == nil || qerr.IsCode(err, qerr.CodeSubmission) {
		return err
	}
	return qerr.New(qerr.CodeSubmission, err)
}

func (c *Client) Submit(ctx context.Context, spec Spec) (*WorkItem, error) {
	if spec.ActivityID == "" {
		return nil, qerr.Newf(qerr.CodeConfiguration, "activity id is required")
	}
	var wi WorkItem
	if err := c.api.Post(ctx, "/workitems", nil, spec, &wi); err != nil {
		return nil, submissionError(err)
	}
	if wi.ID == "" {
		return nil, qerr.Newf(qerr.CodeSubmission, "work item response for %s has no id", spec.ActivityID)
	}
	c.logger.Info("work item submitted", "id", wi.ID, "activity", spec.ActivityID, "status", wi.Status)
	return &wi, nil
}

func (c *Client) SubmitBatch(ctx context.Context, specs []Spec) ([]*WorkItem, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	for i, s := range specs {
		if s.ActivityID == "" {
			return nil, qerr.Newf(qerr.CodeConfiguration, "spec %d: activity id is required", i)
		}
	}

	var items []*WorkItem
	if err := c.api.Post(ctx, "/workitems/batch", nil, specs, &items); err != nil {
		return nil, submissionError(err)
	}
	if len(items) != len(specs) {
		return nil, qerr.Newf(qerr.CodeSubmission, "batch returned %d work items for %d specs", len(items), len(specs))
	}
	for i, wi := range items {
		if wi == nil || wi.ID == "" {
			return nil, qerr.Newf(qerr.CodeSubmission, "batch entry %d has no id", i)
		}
	}
	c.logger.Info("work item batch submitted", "count", len(items))
	return items, nil
}

func (c *Client) Get(ctx context.Context, id string) (*WorkItem, error) {
	var wi WorkItem
	if err := c.api.Get(ctx, qhttp.Path("workitems", id), nil, &wi); err != nil {
		return nil, notFound(err)
	}
	return &wi, nil
}

func (c *Client) Cancel(ctx context.Context, id string) error {
	if err := c.api.Delete(ctx, qhttp.Path("workitems", id), nil); err != nil {
		return notFound(err)
	}
	c.logger.Info("work item cancelled", "id", id)
	return nil
}

// Statuses fetches several work items in one request.
func (c *Client) Statuses(ctx context.Context, ids []string) ([]*WorkItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []*WorkItem
	if err := c.api.Post(ctx, "/workitems/status", nil, ids, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func notFound(err error) error {
	if qerr.StatusCode(err) == 404 {
		return qerr.New(qerr.CodeNotFound, err)
	}
	return err
}

func (c *Client) listIDs(ctx context.Context, path string) ([]string, error) {
	var ids []string
	err := c.api.Paginate(ctx, path, nil, func(raw json.RawMessage) error {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return fmt.Errorf("decoding %s entry: %w", path, err)
		}
		ids = append(ids, id)
		return nil
	})
	return ids, err
}

// Engines lists engine ids, e.g. "Autodesk.Revit+2024".
func (c *Client) Engines(ctx context.Context) ([]string, error) {
	return c.listIDs(ctx, "/engines")
}

// Activities lists activity ids visible to the app.
func (c *Client) Activities(ctx context.Context) ([]string, error) {
	return c.listIDs(ctx, "/activities")
}

// AppBundles lists app bundle ids visible to the app.
func (c *Client) AppBundles(ctx context.Context) ([]string, error) {
	return c.listIDs(ctx, "/appbundles")
}

// Activity returns an activity definition as received.
func (c *Client) Activity(ctx context.Context, id string) (json.RawMessage, error) {
	var raw []byte
	if err := c.api.Get(ctx, qhttp.Path("activities", id), nil, &raw); err != nil {
		return nil, notFound(err)
	}
	return raw, nil
}

// ActivityParameter declares one input or output of an activity.
type ActivityParameter struct {
	Verb        Verb   `json:"verb"`
	LocalName   string `json:"localName,omitempty"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
	OnDemand    bool   `json:"ondemand,omitempty"`
	Zip         bool   `json:"zip,omitempty"`
}

// ActivityDefinition creates an activity or a new version of one.
type ActivityDefinition struct {
	ID          string                       `json:"id,omitempty"`
	CommandLine []string                     `json:"commandLine"`
	Parameters  map[string]ActivityParameter `json:"parameters"`
	Engine      string                       `json:"engine"`
	AppBundles  []string                     `json:"appbundles,omitempty"`
	Description string                       `json:"description,omitempty"`
}

// Versioned is the reply to any create call that yields a version number.
type Versioned struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

// CreateActivity registers a new activity at version 1.
func (c *Client) CreateActivity(ctx context.Context, def ActivityDefinition) (*Versioned, error) {
	var v Versioned
	if err := c.api.Post(ctx, "/activities", nil, def, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// CreateActivityVersion adds a version to an existing activity.
func (c *Client) CreateActivityVersion(ctx context.Context, id string, def ActivityDefinition) (*Versioned, error) {
	def.ID = ""
	var v Versioned
	if err := c.api.Post(ctx, qhttp.Path("activities", id, "versions"), nil, def, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// CreateActivityAlias points alias at version.
func (c *Client) CreateActivityAlias(ctx context.Context, id, alias string, version int) error {
	body := map[string]any{"id": alias, "version": version}
	return c.api.Post(ctx, qhttp.Path("activities", id, "aliases"), nil, body, nil)
}

// DeleteActivity removes an activity with all versions and aliases.
func (c *Client) DeleteActivity(ctx context.Context, id string) error {
	return notFound(c.api.Delete(ctx, qhttp.Path("activities", id), nil))
}

// ServiceLimits returns the quota document of owner, "me" for the caller.
func (c *Client) ServiceLimits(ctx context.Context, owner string) (map[string]any, error) {
	if owner == "" {
		owner = "me"
	}
	var out map[string]any
	if err := c.api.Get(ctx, qhttp.Path("servicelimits", owner), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Nickname returns the owner nickname of the calling app.
func (c *Client) Nickname(ctx context.Context) (string, error) {
	var raw []byte
	if err := c.api.Get(ctx, "/forgeapps/me", nil, &raw); err != nil {
		return "", err
	}
	var nick string
	if err := json.Unmarshal(raw, &nick); err != nil {
		return "", qerr.New(qerr.CodeTransport, fmt.Errorf("decoding nickname: %w", err))
	}
	return nick, nil
}
