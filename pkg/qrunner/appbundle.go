package qrunner

import (
	"context"
	"fmt"

	"github.com/quatton/apsflow/pkg/qart"
	"github.com/quatton/apsflow/pkg/qhttp"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
)

// AppBundleDefinition creates an app bundle or a new version of one.
type AppBundleDefinition struct {
	ID          string `json:"id,omitempty"`
	Engine      string `json:"engine"`
	Description string `json:"description,omitempty"`
}

// AppBundle is a freshly created bundle version waiting for its zip.
type AppBundle struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	Engine  string `json:"engine"`
	// Upload is the form ticket the zip must be posted to.
	Upload *qart.UploadTicket `json:"uploadParameters"`
}

// CreateAppBundle registers a new app bundle at version 1.
func (c *Client) CreateAppBundle(ctx context.Context, def AppBundleDefinition) (*AppBundle, error) {
	var b AppBundle
	if err := c.api.Post(ctx, "/appbundles", nil, def, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateAppBundleVersion adds a version to an existing app bundle.
func (c *Client) CreateAppBundleVersion(ctx context.Context, id string, def AppBundleDefinition) (*AppBundle, error) {
	def.ID = ""
	var b AppBundle
	if err := c.api.Post(ctx, qhttp.Path("appbundles", id, "versions"), nil, def, &b); err != nil {
		return nil, err
	}
	if b.ID == "" {
		b.ID = id
	}
	return &b, nil
}

// CreateAppBundleAlias points alias at version.
func (c *Client) CreateAppBundleAlias(ctx context.Context, id, alias string, version int) error {
	body := map[string]any{"id": alias, "version": version}
	return c.api.Post(ctx, qhttp.Path("appbundles", id, "aliases"), nil, body, nil)
}

// DeleteAppBundle removes an app bundle with all versions and aliases.
func (c *Client) DeleteAppBundle(ctx context.Context, id string) error {
	return notFound(c.api.Delete(ctx, qhttp.Path("appbundles", id), nil))
}

// UploadAppBundle posts the zip at path to the bundle's upload form.
func (c *Client) UploadAppBundle(ctx context.Context, tr *qart.Transfer, b *AppBundle, path string) error {
	if b == nil || b.Upload.Shape() != qart.ShapeForm {
		return qerr.New(qerr.CodeConfiguration, fmt.Errorf("app bundle has no form upload parameters: %w", qerr.ErrUnknownTicketShape))
	}
	if _, err := tr.UploadFile(ctx, b.Upload, path); err != nil {
		return err
	}
	c.logger.Info("app bundle uploaded", "id", b.ID, "version", b.Version)
	return nil
}
