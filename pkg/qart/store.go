// Package qart brokers cloud storage locations for remote jobs and moves
// bytes to and from the pre-signed URLs it hands out.
package qart

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/quatton/apsflow/pkg/qsdk/qerr"
)

// Policy is the retention policy of a container.
type Policy string

const (
	PolicyTransient  Policy = "transient"
	PolicyTemporary  Policy = "temporary"
	PolicyPersistent Policy = "persistent"
)

func (p Policy) Valid() bool {
	switch p {
	case PolicyTransient, PolicyTemporary, PolicyPersistent:
		return true
	}
	return false
}

// Access is the permission a signed URL grants.
type Access string

const (
	AccessRead      Access = "read"
	AccessWrite     Access = "write"
	AccessReadWrite Access = "readwrite"
)

// Signed URL lifetimes used by workflows.
const (
	InputURLMinutes    = 60
	DownloadURLMinutes = 10
)

// Container is a storage bucket.
type Container struct {
	Key       string    `json:"bucketKey"`
	Region    string    `json:"region,omitempty"`
	Policy    Policy    `json:"policyKey"`
	Owner     string    `json:"bucketOwner,omitempty"`
	CreatedAt time.Time `json:"-"`
}

// Broker issues storage locations for job inputs and outputs. Each call is one
// remote round trip; nothing is cached.
type Broker interface {
	// EnsureContainer fetches the container and creates it when missing. A
	// concurrent creation by someone else counts as success.
	EnsureContainer(ctx context.Context, key, region string, policy Policy) (*Container, error)

	// IssueUploadTicket returns where and how to upload objectKey.
	IssueUploadTicket(ctx context.Context, containerKey, objectKey string, access Access) (*UploadTicket, error)

	// IssueDownloadURL returns a URL readable without credentials for
	// minutesValid minutes.
	IssueDownloadURL(ctx context.Context, containerKey, objectKey string, minutesValid int) (string, error)
}

var containerKeyPattern = regexp.MustCompile(`^[a-z0-9-]{3,128}$`)

// ValidateContainerKey checks the key format: 3 to 128 characters of
// lowercase letters, digits and hyphens.
func ValidateContainerKey(key string) error {
	if !containerKeyPattern.MatchString(key) {
		return qerr.New(qerr.CodeConfiguration, fmt.Errorf("%w: %q", ErrInvalidKey, key))
	}
	return nil
}

// TicketShape is how an UploadTicket expects bytes to arrive.
type TicketShape int

const (
	ShapeUnknown TicketShape = iota
	// ShapePut is a single pre-signed URL taking the body via HTTP PUT.
	ShapePut
	// ShapeForm is a multipart POST of FormData followed by the file part.
	ShapeForm
)

func (s TicketShape) String() string {
	switch s {
	case ShapePut:
		return "put"
	case ShapeForm:
		return "form"
	}
	return "unknown"
}

// UploadTicket is a short-lived, credential-free upload target.
type UploadTicket struct {
	URL       string            `json:"url,omitempty"`
	Endpoint  string            `json:"endpointURL,omitempty"`
	FormData  map[string]string `json:"formData,omitempty"`
	UploadKey string            `json:"uploadKey,omitempty"`
	// Parts holds every part URL of a multipart S3 upload; URL is Parts[0].
	Parts []string `json:"urls,omitempty"`
	// Headers are sent with a PUT upload.
	Headers map[string]string `json:"-"`
	Expires time.Time         `json:"-"`
}

// Shape detects the upload protocol. A form endpoint wins over a bare URL.
func (t *UploadTicket) Shape() TicketShape {
	switch {
	case t == nil:
		return ShapeUnknown
	case t.Endpoint != "":
		return ShapeForm
	case t.URL != "":
		return ShapePut
	}
	return ShapeUnknown
}

// UnmarshalJSON accepts every ticket payload the platform returns: OSS
// "signedUrl", S3 upload "urls" or "signedUrls" with "uploadKey", plain "url", and the
// "uploadParameters" form envelope of app bundles.
func (t *UploadTicket) UnmarshalJSON(b []byte) error {
	var raw struct {
		SignedURL        string            `json:"signedUrl"`
		URL              string            `json:"url"`
		URLs             []string          `json:"urls"`
		SignedURLs       []string          `json:"signedUrls"`
		UploadKey        string            `json:"uploadKey"`
		Endpoint         string            `json:"endpointURL"`
		FormData         map[string]string `json:"formData"`
		Expiration       int64             `json:"expiration"`
		UploadParameters *struct {
			Endpoint string            `json:"endpointURL"`
			FormData map[string]string `json:"formData"`
		} `json:"uploadParameters"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*t = UploadTicket{UploadKey: raw.UploadKey}
	switch {
	case raw.UploadParameters != nil && raw.UploadParameters.Endpoint != "":
		t.Endpoint = raw.UploadParameters.Endpoint
		t.FormData = raw.UploadParameters.FormData
	case raw.Endpoint != "":
		t.Endpoint = raw.Endpoint
		t.FormData = raw.FormData
	case raw.SignedURL != "":
		t.URL = raw.SignedURL
	case raw.URL != "":
		t.URL = raw.URL
	case len(raw.URLs) > 0:
		t.URL = raw.URLs[0]
		t.Parts = raw.URLs
	case len(raw.SignedURLs) > 0:
		t.URL = raw.SignedURLs[0]
		t.Parts = raw.SignedURLs
	}
	if raw.Expiration > 0 {
		t.Expires = time.UnixMilli(raw.Expiration)
	}
	return nil
}
