package qdm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/quatton/apsflow/pkg/qart"
	"github.com/quatton/apsflow/pkg/qhttp"
	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
)

// ContentType is the body type the data API expects on writes.
const ContentType = "application/vnd.api+json"

func ProjectBaseURL(host string) string {
	return strings.TrimRight(host, "/") + "/project/v1"
}

func DataBaseURL(host string) string {
	return strings.TrimRight(host, "/") + "/data/v1"
}

// Client talks to project/v1 (hubs, projects) and data/v1 (folders, items,
// versions, storage). Both need a token with data scopes; most hubs only
// answer 3-legged tokens.
type Client struct {
	project *qhttp.Client
	data    *qhttp.Client
	logger  *qlog.Logger
}

// NewClient uses project rooted at ProjectBaseURL and data rooted at
// DataBaseURL. data should send ContentType.
func NewClient(project, data *qhttp.Client, logger *qlog.Logger) *Client {
	return &Client{project: project, data: data, logger: qlog.OrDefault(logger)}
}

func pageQuery(limit int) url.Values {
	q := url.Values{}
	if limit > 0 {
		q.Set("page[limit]", strconv.Itoa(limit))
	}
	return q
}

func (c *Client) one(ctx context.Context, api *qhttp.Client, path string) (*Resource, error) {
	var doc document
	if err := api.Get(ctx, path, nil, &doc); err != nil {
		return nil, err
	}
	if doc.Data == nil {
		return nil, qerr.Newf(qerr.CodeNotFound, "%s returned no data", path)
	}
	return doc.Data, nil
}

func (c *Client) list(ctx context.Context, api *qhttp.Client, path string, q url.Values) ([]Resource, error) {
	var out []Resource
	err := api.Paginate(ctx, path, q, decodeResources(&out))
	return out, err
}

func (c *Client) create(ctx context.Context, path string, doc document) (*Resource, error) {
	var resp document
	if err := c.data.Post(ctx, path, nil, doc, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, qerr.Newf(qerr.CodeTransport, "POST %s returned no data", path)
	}
	return resp.Data, nil
}

// Hubs and projects.

func (c *Client) ListHubs(ctx context.Context, limit int) ([]Resource, error) {
	return c.list(ctx, c.project, "/hubs", pageQuery(limit))
}

func (c *Client) Hub(ctx context.Context, hubID string) (*Resource, error) {
	return c.one(ctx, c.project, qhttp.Path("hubs", hubID))
}

func (c *Client) ListProjects(ctx context.Context, hubID string, limit int) ([]Resource, error) {
	return c.list(ctx, c.project, qhttp.Path("hubs", hubID, "projects"), pageQuery(limit))
}

func (c *Client) Project(ctx context.Context, hubID, projectID string) (*Resource, error) {
	return c.one(ctx, c.project, qhttp.Path("hubs", hubID, "projects", projectID))
}

// TopFolders lists the folders a user can see at the root of a project.
func (c *Client) TopFolders(ctx context.Context, hubID, projectID string) ([]Resource, error) {
	return c.list(ctx, c.project, qhttp.Path("hubs", hubID, "projects", projectID, "topFolders"), nil)
}

// Folders.

func (c *Client) Folder(ctx context.Context, projectID, folderID string) (*Resource, error) {
	return c.one(ctx, c.data, qhttp.Path("projects", projectID, "folders", folderID))
}

// ContentsOptions filters FolderContents.
type ContentsOptions struct {
	Limit int
	// Include names related resources to embed, e.g. "versions".
	Include string
}

// FolderContents lists the folders and items directly under a folder.
func (c *Client) FolderContents(ctx context.Context, projectID, folderID string, opts ContentsOptions) ([]Resource, error) {
	q := pageQuery(opts.Limit)
	if opts.Include != "" {
		q.Set("include", opts.Include)
	}
	return c.list(ctx, c.data, qhttp.Path("projects", projectID, "folders", folderID, "contents"), q)
}

// SearchFolder searches a folder and its subfolders.
func (c *Client) SearchFolder(ctx context.Context, projectID, folderID, query string, limit int) ([]Resource, error) {
	q := pageQuery(limit)
	q.Set("q", query)
	return c.list(ctx, c.data, qhttp.Path("projects", projectID, "folders", folderID, "search"), q)
}

func (c *Client) CreateFolder(ctx context.Context, projectID, parentID, name string, hidden bool) (*Resource, error) {
	doc := newDocument(&Resource{
		Type:          "folders",
		Attributes:    map[string]any{"name": name, "extension": folderExtension(), "hidden": hidden},
		Relationships: map[string]Relationship{"parent": relation("folders", parentID)},
	})
	f, err := c.create(ctx, qhttp.Path("projects", projectID, "folders"), doc)
	if err != nil {
		return nil, err
	}
	c.logger.Info("folder created", "project", projectID, "parent", parentID, "id", f.ID, "name", name)
	return f, nil
}

func folderExtension() map[string]any {
	return map[string]any{"type": "folders:autodesk.core:Folder", "version": "1.0"}
}

// PatchFolder updates folder attributes such as name or hidden.
func (c *Client) PatchFolder(ctx context.Context, projectID, folderID string, attrs map[string]any) (*Resource, error) {
	doc := newDocument(&Resource{Type: "folders", ID: folderID, Attributes: attrs})
	var resp document
	if err := c.data.Patch(ctx, qhttp.Path("projects", projectID, "folders", folderID), doc, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Items and versions.

func (c *Client) Item(ctx context.Context, projectID, itemID string) (*Resource, error) {
	return c.one(ctx, c.data, qhttp.Path("projects", projectID, "items", itemID))
}

func (c *Client) ItemVersions(ctx context.Context, projectID, itemID string, limit int) ([]Resource, error) {
	return c.list(ctx, c.data, qhttp.Path("projects", projectID, "items", itemID, "versions"), pageQuery(limit))
}

// CreateItem creates an item in folderID together with its first version,
// whose bytes already live at storageURN.
func (c *Client) CreateItem(ctx context.Context, projectID, folderID, fileName, storageURN string) (*Resource, error) {
	doc := newDocument(&Resource{
		Type: "items",
		Attributes: map[string]any{
			"displayName": fileName,
			"extension":   map[string]any{"type": "items:autodesk.core:File", "version": "1.0"},
		},
		Relationships: map[string]Relationship{
			"tip":    relation("versions", "1"),
			"parent": relation("folders", folderID),
		},
	}, Resource{
		Type: "versions",
		ID:   "1",
		Attributes: map[string]any{
			"name":      fileName,
			"extension": map[string]any{"type": "versions:autodesk.core:File", "version": "1.0"},
		},
		Relationships: map[string]Relationship{"storage": relation("objects", storageURN)},
	})
	item, err := c.create(ctx, qhttp.Path("projects", projectID, "items"), doc)
	if err != nil {
		return nil, err
	}
	c.logger.Info("item created", "project", projectID, "folder", folderID, "id", item.ID, "name", fileName)
	return item, nil
}

func (c *Client) Version(ctx context.Context, projectID, versionID string) (*Resource, error) {
	return c.one(ctx, c.data, qhttp.Path("projects", projectID, "versions", versionID))
}

// CreateVersion adds a version to an existing item.
func (c *Client) CreateVersion(ctx context.Context, projectID, itemID, fileName, storageURN string) (*Resource, error) {
	doc := newDocument(&Resource{
		Type: "versions",
		Attributes: map[string]any{
			"name":      fileName,
			"extension": map[string]any{"type": "versions:autodesk.core:File", "version": "1.0"},
		},
		Relationships: map[string]Relationship{
			"item":    relation("items", itemID),
			"storage": relation("objects", storageURN),
		},
	})
	v, err := c.create(ctx, qhttp.Path("projects", projectID, "versions"), doc)
	if err != nil {
		return nil, err
	}
	c.logger.Info("version created", "project", projectID, "item", itemID, "id", v.ID)
	return v, nil
}

// Command runs a data API command and returns the raw response document.
func (c *Client) Command(ctx context.Context, projectID string, payload any) (json.RawMessage, error) {
	var raw []byte
	if err := c.data.Post(ctx, qhttp.Path("projects", projectID, "commands"), nil, payload, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Storage is an upload location reserved in a project folder.
type Storage struct {
	// URN is the object id versions point at once bytes are uploaded.
	URN    string
	Ticket *qart.UploadTicket
}

type storageResource struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			UploadParameters struct {
				URL     string            `json:"url"`
				Headers map[string]string `json:"headers"`
			} `json:"uploadParameters"`
		} `json:"attributes"`
		Links struct {
			SignedURL Link `json:"signedUrl"`
		} `json:"links"`
	} `json:"data"`
}

// CreateStorage reserves a storage object for fileName under folderID.
func (c *Client) CreateStorage(ctx context.Context, projectID, folderID, fileName string) (*Storage, error) {
	doc := newDocument(&Resource{
		Type:          "objects",
		Attributes:    map[string]any{"name": fileName},
		Relationships: map[string]Relationship{"target": relation("folders", folderID)},
	})
	var resp storageResource
	if err := c.data.Post(ctx, qhttp.Path("projects", projectID, "storage"), nil, doc, &resp); err != nil {
		return nil, err
	}
	if resp.Data.ID == "" {
		return nil, qerr.Newf(qerr.CodeTransport, "storage response for %s has no id", fileName)
	}

	s := &Storage{URN: resp.Data.ID}
	up := resp.Data.Attributes.UploadParameters
	switch {
	case up.URL != "":
		s.Ticket = &qart.UploadTicket{URL: up.URL, Headers: up.Headers}
	case resp.Data.Links.SignedURL.Href != "":
		s.Ticket = &qart.UploadTicket{URL: resp.Data.Links.SignedURL.Href}
	}
	return s, nil
}

// UploadFile stores a local file in folderID: it reserves storage, uploads
// the bytes, then creates an item, or a new version of itemID when it is set.
// It returns the created item or version.
func (c *Client) UploadFile(ctx context.Context, tr *qart.Transfer, projectID, folderID, itemID, path string) (*Resource, error) {
	name := filepath.Base(path)
	s, err := c.CreateStorage(ctx, projectID, folderID, name)
	if err != nil {
		return nil, err
	}
	if s.Ticket == nil {
		return nil, qerr.New(qerr.CodeConfiguration, fmt.Errorf("%w: storage %s has no upload url", qerr.ErrUnknownTicketShape, s.URN))
	}
	if _, err := tr.UploadFile(ctx, s.Ticket, path); err != nil {
		return nil, err
	}
	if itemID != "" {
		return c.CreateVersion(ctx, projectID, itemID, name, s.URN)
	}
	return c.CreateItem(ctx, projectID, folderID, name, s.URN)
}
