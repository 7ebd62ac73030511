package qart

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/quatton/apsflow/pkg/qhttp"
	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
)

const DefaultOSSBaseURL = "https://developer.api.autodesk.com/oss/v2"

// OSSBroker implements Broker on the Object Storage Service REST API.
type OSSBroker struct {
	api    *qhttp.Client
	logger *qlog.Logger
}

// NewOSSBroker uses api, which must be rooted at the OSS v2 base URL and
// carry a token with bucket scopes.
func NewOSSBroker(api *qhttp.Client, logger *qlog.Logger) *OSSBroker {
	return &OSSBroker{api: api, logger: qlog.OrDefault(logger)}
}

type bucketDetails struct {
	BucketKey   string `json:"bucketKey"`
	BucketOwner string `json:"bucketOwner"`
	PolicyKey   string `json:"policyKey"`
	CreatedDate int64  `json:"createdDate"`
}

func (d bucketDetails) container(region string) *Container {
	c := &Container{
		Key:    d.BucketKey,
		Region: region,
		Policy: Policy(d.PolicyKey),
		Owner:  d.BucketOwner,
	}
	if d.CreatedDate > 0 {
		c.CreatedAt = time.UnixMilli(d.CreatedDate)
	}
	return c
}

func (b *OSSBroker) details(ctx context.Context, key string) (*bucketDetails, error) {
	var d bucketDetails
	if err := b.api.Get(ctx, qhttp.Path("buckets", key, "details"), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (b *OSSBroker) EnsureContainer(ctx context.Context, key, region string, policy Policy) (*Container, error) {
	if err := ValidateContainerKey(key); err != nil {
		return nil, err
	}
	if !policy.Valid() {
		return nil, qerr.Newf(qerr.CodeConfiguration, "unknown retention policy %q", policy)
	}

	d, err := b.details(ctx, key)
	if err == nil {
		return d.container(region), nil
	}
	if qerr.StatusCode(err) != http.StatusNotFound {
		return nil, err
	}

	b.logger.Info("creating bucket", "bucket", key, "region", region, "policy", policy)
	body := map[string]string{
		"bucketKey": key,
		"policyKey": string(policy),
	}
	if region != "" {
		body["region"] = region
	}
	var created bucketDetails
	err = b.api.Post(ctx, "/buckets", nil, body, &created)
	switch {
	case err == nil:
		return created.container(region), nil
	case qerr.StatusCode(err) == http.StatusConflict:
		// created concurrently
		d, err := b.details(ctx, key)
		if err != nil {
			return nil, err
		}
		return d.container(region), nil
	default:
		return nil, err
	}
}

func (b *OSSBroker) IssueUploadTicket(ctx context.Context, containerKey, objectKey string, access Access) (*UploadTicket, error) {
	q := url.Values{"access": {string(access)}}
	var t UploadTicket
	err := b.api.Post(ctx, qhttp.Path("buckets", containerKey, "objects", objectKey, "signed"), q, struct{}{}, &t)
	if err != nil {
		return nil, err
	}
	if t.Shape() == ShapeUnknown {
		return nil, qerr.New(qerr.CodeConfiguration, fmt.Errorf("%w for %s/%s", qerr.ErrUnknownTicketShape, containerKey, objectKey))
	}
	return &t, nil
}

func (b *OSSBroker) IssueDownloadURL(ctx context.Context, containerKey, objectKey string, minutesValid int) (string, error) {
	q := url.Values{}
	if minutesValid > 0 {
		q.Set("minutesExpiration", strconv.Itoa(minutesValid))
	}
	var resp struct {
		URL       string `json:"url"`
		SignedURL string `json:"signedUrl"`
		Status    string `json:"status"`
	}
	if err := b.api.Get(ctx, qhttp.Path("buckets", containerKey, "objects", objectKey, "signeds3download"), q, &resp); err != nil {
		return "", err
	}
	if resp.URL != "" {
		return resp.URL, nil
	}
	if resp.SignedURL != "" {
		return resp.SignedURL, nil
	}
	return "", qerr.New(qerr.CodeTransport, fmt.Errorf("%w for %s/%s (status %q)", ErrNoDownloadURL, containerKey, objectKey, resp.Status))
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	BucketKey string `json:"bucketKey"`
	ObjectKey string `json:"objectKey"`
	ObjectID  string `json:"objectId"`
	SHA1      string `json:"sha1"`
	Size      int64  `json:"size"`
	Location  string `json:"location"`
}

// ListContainers lists buckets owned by the application, optionally in one
// region.
func (b *OSSBroker) ListContainers(ctx context.Context, region string) ([]Container, error) {
	q := url.Values{"limit": {"100"}}
	if region != "" {
		q.Set("region", region)
	}
	var out []Container
	err := b.api.Paginate(ctx, "/buckets", q, func(raw json.RawMessage) error {
		var d bucketDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return err
		}
		out = append(out, *d.container(region))
		return nil
	})
	return out, err
}

// ListObjects lists every object in a bucket.
func (b *OSSBroker) ListObjects(ctx context.Context, containerKey string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	err := b.api.Paginate(ctx, qhttp.Path("buckets", containerKey, "objects"), url.Values{"limit": {"100"}}, func(raw json.RawMessage) error {
		var o ObjectInfo
		if err := json.Unmarshal(raw, &o); err != nil {
			return err
		}
		out = append(out, o)
		return nil
	})
	return out, err
}

// ObjectDetails returns metadata for one object.
func (b *OSSBroker) ObjectDetails(ctx context.Context, containerKey, objectKey string) (*ObjectInfo, error) {
	var o ObjectInfo
	if err := b.api.Get(ctx, qhttp.Path("buckets", containerKey, "objects", objectKey, "details"), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// DeleteObject removes an object.
func (b *OSSBroker) DeleteObject(ctx context.Context, containerKey, objectKey string) error {
	return b.api.Delete(ctx, qhttp.Path("buckets", containerKey, "objects", objectKey), nil)
}

// CopyObject copies an object within a bucket.
func (b *OSSBroker) CopyObject(ctx context.Context, containerKey, objectKey, newObjectKey string) (*ObjectInfo, error) {
	var o ObjectInfo
	path := qhttp.Path("buckets", containerKey, "objects", objectKey, "copyto", newObjectKey)
	if err := b.api.Do(ctx, http.MethodPut, path, nil, nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// IssueS3Upload asks for direct-to-S3 upload URLs, one per part. The
// returned ticket carries the uploadKey CompleteS3Upload needs.
func (b *OSSBroker) IssueS3Upload(ctx context.Context, containerKey, objectKey string, parts, minutesValid int) (*UploadTicket, error) {
	q := url.Values{}
	if parts > 1 {
		q.Set("parts", strconv.Itoa(parts))
	}
	if minutesValid > 0 {
		q.Set("minutesExpiration", strconv.Itoa(minutesValid))
	}
	var t UploadTicket
	if err := b.api.Get(ctx, qhttp.Path("buckets", containerKey, "objects", objectKey, "signeds3upload"), q, &t); err != nil {
		return nil, err
	}
	if t.UploadKey == "" || t.Shape() != ShapePut {
		return nil, qerr.New(qerr.CodeTransport, fmt.Errorf("%w for %s/%s", qerr.ErrUnknownTicketShape, containerKey, objectKey))
	}
	return &t, nil
}

// CompleteS3Upload finalizes an upload started by IssueS3Upload. size and
// eTags are optional.
func (b *OSSBroker) CompleteS3Upload(ctx context.Context, containerKey, objectKey, uploadKey string, size int64, eTags []string) (*ObjectInfo, error) {
	body := map[string]any{"uploadKey": uploadKey}
	if size > 0 {
		body["size"] = size
	}
	if len(eTags) > 0 {
		body["eTags"] = eTags
	}
	var o ObjectInfo
	if err := b.api.Post(ctx, qhttp.Path("buckets", containerKey, "objects", objectKey, "signeds3upload"), nil, body, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// UploadObject stores a local file through a single-part S3 upload.
func (b *OSSBroker) UploadObject(ctx context.Context, tr *Transfer, containerKey, objectKey, path string) (*ObjectInfo, error) {
	t, err := b.IssueS3Upload(ctx, containerKey, objectKey, 1, 0)
	if err != nil {
		return nil, err
	}
	size, err := tr.UploadFile(ctx, t, path)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("completing s3 upload", "bucket", containerKey, "object", objectKey, "size", size)
	return b.CompleteS3Upload(ctx, containerKey, objectKey, t.UploadKey, size, nil)
}

var _ Broker = (*OSSBroker)(nil)
