package qart

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
)

// S3Broker implements Broker on any S3-compatible store. Useful for
// self-hosted job engines and local development against MinIO.
type S3Broker struct {
	client    *minio.Client
	region    string
	forms     bool
	lifecycle bool
	logger    *qlog.Logger
}

// S3Config holds configuration for S3-compatible storage.
type S3Config struct {
	Endpoint  string // host:port (e.g., "localhost:9000")
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	// FormUploads issues POST policy tickets instead of pre-signed PUT URLs.
	FormUploads bool
	// ApplyLifecycle maps transient/temporary policies onto expiration rules
	// when a bucket is created.
	ApplyLifecycle bool
	Logger         *qlog.Logger
}

// NewS3Broker creates an S3Broker with the given configuration.
func NewS3Broker(cfg S3Config) (*S3Broker, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, qerr.New(qerr.CodeConfiguration, err)
	}

	return &S3Broker{
		client:    client,
		region:    cfg.Region,
		forms:     cfg.FormUploads,
		lifecycle: cfg.ApplyLifecycle,
		logger:    qlog.OrDefault(cfg.Logger),
	}, nil
}

func retentionDays(p Policy) int {
	switch p {
	case PolicyTransient:
		return 1
	case PolicyTemporary:
		return 30
	}
	return 0
}

func (s *S3Broker) EnsureContainer(ctx context.Context, key, region string, policy Policy) (*Container, error) {
	if err := ValidateContainerKey(key); err != nil {
		return nil, err
	}
	if region == "" {
		region = s.region
	}
	c := &Container{Key: key, Region: region, Policy: policy}

	exists, err := s.client.BucketExists(ctx, key)
	if err != nil {
		return nil, qerr.New(qerr.CodeTransport, err)
	}
	if exists {
		return c, nil
	}

	s.logger.Info("creating bucket", "bucket", key, "region", region, "policy", policy)
	err = s.client.MakeBucket(ctx, key, minio.MakeBucketOptions{Region: region})
	if err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
			return c, nil
		}
		return nil, qerr.New(qerr.CodeTransport, err)
	}

	if days := retentionDays(policy); s.lifecycle && days > 0 {
		cfg := lifecycle.NewConfiguration()
		cfg.Rules = []lifecycle.Rule{{
			ID:         "apsflow-" + string(policy),
			Status:     "Enabled",
			Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(days)},
		}}
		if err := s.client.SetBucketLifecycle(ctx, key, cfg); err != nil {
			return nil, qerr.New(qerr.CodeTransport, fmt.Errorf("setting lifecycle on %s: %w", key, err))
		}
	}
	return c, nil
}

const uploadTicketTTL = time.Hour

func (s *S3Broker) IssueUploadTicket(ctx context.Context, containerKey, objectKey string, access Access) (*UploadTicket, error) {
	expires := time.Now().Add(uploadTicketTTL)

	if access == AccessRead {
		u, err := s.client.PresignedGetObject(ctx, containerKey, objectKey, uploadTicketTTL, nil)
		if err != nil {
			return nil, qerr.New(qerr.CodeTransport, err)
		}
		return &UploadTicket{URL: u.String(), Expires: expires}, nil
	}

	if s.forms {
		policy := minio.NewPostPolicy()
		if err := policy.SetBucket(containerKey); err != nil {
			return nil, qerr.New(qerr.CodeConfiguration, err)
		}
		if err := policy.SetKey(objectKey); err != nil {
			return nil, qerr.New(qerr.CodeConfiguration, err)
		}
		if err := policy.SetExpires(expires.UTC()); err != nil {
			return nil, qerr.New(qerr.CodeConfiguration, err)
		}
		u, form, err := s.client.PresignedPostPolicy(ctx, policy)
		if err != nil {
			return nil, qerr.New(qerr.CodeTransport, err)
		}
		return &UploadTicket{Endpoint: u.String(), FormData: form, Expires: expires}, nil
	}

	u, err := s.client.PresignedPutObject(ctx, containerKey, objectKey, uploadTicketTTL)
	if err != nil {
		return nil, qerr.New(qerr.CodeTransport, err)
	}
	return &UploadTicket{URL: u.String(), Expires: expires}, nil
}

func (s *S3Broker) IssueDownloadURL(ctx context.Context, containerKey, objectKey string, minutesValid int) (string, error) {
	if minutesValid <= 0 {
		minutesValid = DownloadURLMinutes
	}
	u, err := s.client.PresignedGetObject(ctx, containerKey, objectKey, time.Duration(minutesValid)*time.Minute, nil)
	if err != nil {
		return "", qerr.New(qerr.CodeTransport, err)
	}
	return u.String(), nil
}

var _ Broker = (*S3Broker)(nil)
