// Package qsdk wires configuration, credentials, the platform clients and the
// workflow orchestrator into one value CLI commands can use directly.
package qsdk

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/quatton/apsflow/pkg/db"
	"github.com/quatton/apsflow/pkg/kv"
	"github.com/quatton/apsflow/pkg/qart"
	"github.com/quatton/apsflow/pkg/qauth"
	"github.com/quatton/apsflow/pkg/qdm"
	"github.com/quatton/apsflow/pkg/qflow"
	"github.com/quatton/apsflow/pkg/qhttp"
	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/quatton/apsflow/pkg/qrunner"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// Sdk holds every client built from a Config. Ledger and Metrics are nil
// unless configured. OSS is nil when the storage backend is s3.
type Sdk struct {
	Config *Config
	// Auth is nil when the config carries a raw access token.
	Auth       *qauth.Client
	Tokens     oauth2.TokenSource
	Cache      kv.Store
	Storage    qart.Broker
	OSS        *qart.OSSBroker
	Automation *qrunner.Client
	// DataManagement browses hubs and stores files in project folders.
	DataManagement *qdm.Client
	Transfer       *qart.Transfer
	Workflow       *qflow.Workflow
	Ledger         *db.Ledger
	Metrics        *qflow.Metrics

	logger  *qlog.Logger
	closers []func() error
}

type sdkOptions struct {
	logger     *qlog.Logger
	registerer prometheus.Registerer
	tracer     trace.Tracer
	httpClient *http.Client
	userToken  bool
}

// Option configures NewSdk
type Option func(*sdkOptions)

func WithLogger(l *qlog.Logger) Option {
	return func(o *sdkOptions) {
		o.logger = l
	}
}

// WithRegisterer enables workflow metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *sdkOptions) {
		o.registerer = reg
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(o *sdkOptions) {
		o.tracer = t
	}
}

// WithHTTPClient is used for API and token calls. Its Timeout overrides
// httpTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *sdkOptions) {
		o.httpClient = hc
	}
}

// WithUserToken authenticates API calls with the cached 3-legged token from
// Login instead of an app-only token.
func WithUserToken() Option {
	return func(o *sdkOptions) {
		o.userToken = true
	}
}

// NewSdk validates cfg and builds the clients. Close releases the cache and
// database connections.
func NewSdk(ctx context.Context, cfg *Config, opts ...Option) (*Sdk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &sdkOptions{}
	for _, opt := range opts {
		opt(o)
	}
	logger := qlog.OrDefault(o.logger)
	hc := o.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	s := &Sdk{Config: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = s.Close()
		}
	}()

	cache, err := newCache(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.Cache = cache
	s.closers = append(s.closers, cache.Close)

	if cfg.ClientID != "" {
		s.Auth, err = qauth.NewClient(qauth.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			AuthBaseURL:  cfg.AuthBaseURL(),
		},
			qauth.WithHTTPClient(hc),
			qauth.WithTokenCache(qauth.NewTokenCache(cache)),
			qauth.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case cfg.AccessToken != "":
		s.Tokens = oauth2.StaticTokenSource(qauth.TokenFromAccessToken(cfg.AccessToken))
	case o.userToken:
		s.Tokens = s.Auth.ThreeLegged(cfg.Scopes, nil)
	default:
		s.Tokens = s.Auth.TwoLegged(cfg.Scopes)
	}

	apiOpts := []qhttp.Option{
		qhttp.WithHTTPClient(hc),
		qhttp.WithTokenSource(s.Tokens),
		qhttp.WithRetries(cfg.MaxRetries),
		qhttp.WithRateLimit(cfg.RequestsPerSecond, int(cfg.RequestsPerSecond)),
		qhttp.WithLogger(logger),
	}
	oss, err := qhttp.New(cfg.OSSBaseURL(), apiOpts...)
	if err != nil {
		return nil, err
	}
	da, err := qhttp.New(cfg.AutomationBaseURL(), apiOpts...)
	if err != nil {
		return nil, err
	}
	s.Storage, err = newStorage(cfg, oss, logger)
	if err != nil {
		return nil, err
	}
	if ob, isOSS := s.Storage.(*qart.OSSBroker); isOSS {
		s.OSS = ob
	}
	s.Automation = qrunner.NewClient(da, logger)

	project, err := qhttp.New(cfg.ProjectBaseURL(), apiOpts...)
	if err != nil {
		return nil, err
	}
	data, err := qhttp.New(cfg.DataBaseURL(), append(slices.Clone(apiOpts), qhttp.WithContentType(qdm.ContentType))...)
	if err != nil {
		return nil, err
	}
	s.DataManagement = qdm.NewClient(project, data, logger)
	// signed URLs carry their own credentials and may be slow, so no bearer
	// and no client timeout
	s.Transfer = qart.NewTransfer(qart.WithTransferLogger(logger))

	if o.registerer != nil {
		s.Metrics = qflow.NewMetrics(o.registerer)
	}

	// bucketRegion names an OSS region; S3 buckets live in s3Region
	region := cfg.BucketRegion
	if s.OSS == nil {
		region = cfg.S3Region
	}
	flowOpts := []qflow.Option{
		qflow.WithDefaults(qflow.Defaults{
			Container:    cfg.DefaultBucket,
			Region:       region,
			Policy:       qart.Policy(cfg.BucketPolicy),
			PollInterval: cfg.PollInterval,
			Timeout:      cfg.Timeout,
		}),
		qflow.WithTransfer(s.Transfer),
		qflow.WithMetrics(s.Metrics),
		qflow.WithLogger(logger),
	}
	if o.tracer != nil {
		flowOpts = append(flowOpts, qflow.WithTracer(o.tracer))
	}

	if cfg.DatabaseURL != "" {
		bunDB, err := db.New(ctx, db.Config{DSN: cfg.DatabaseURL})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, bunDB.Close)
		s.Ledger = db.NewLedger(bunDB)
		flowOpts = append(flowOpts, qflow.WithRecorder(s.Ledger))
	}

	s.Workflow = qflow.New(s.Storage, s.Automation, flowOpts...)
	ok = true
	return s, nil
}

func newStorage(cfg *Config, oss *qhttp.Client, logger *qlog.Logger) (qart.Broker, error) {
	if cfg.StorageBackend != BackendS3 {
		return qart.NewOSSBroker(oss, logger), nil
	}
	b, err := qart.NewS3Broker(qart.S3Config{
		Endpoint:       cfg.S3Endpoint,
		AccessKey:      cfg.S3AccessKey,
		SecretKey:      cfg.S3SecretKey,
		Region:         cfg.S3Region,
		UseSSL:         cfg.S3UseSSL,
		FormUploads:    cfg.S3FormUploads,
		ApplyLifecycle: cfg.S3Lifecycle,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 storage: %w", err)
	}
	return b, nil
}

func newCache(ctx context.Context, cfg *Config) (kv.Store, error) {
	if cfg.RedisAddr == "" {
		return kv.NewMemoryStore(0)
	}
	vc := kv.ValkeyConfig{Addr: cfg.RedisAddr, Prefix: "apsflow:"}
	if strings.Contains(cfg.RedisAddr, "://") {
		vc = kv.ValkeyConfig{URL: cfg.RedisAddr, Prefix: "apsflow:"}
	}
	store, err := kv.NewValkeyStore(ctx, vc)
	if err != nil {
		return nil, fmt.Errorf("connecting token cache: %w", err)
	}
	return store, nil
}

// Logger returns the logger every client was built with.
func (s *Sdk) Logger() *qlog.Logger {
	return s.logger
}

// Close releases connections in reverse order of creation.
func (s *Sdk) Close() error {
	var errs []error
	for _, c := range slices.Backward(s.closers) {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return utilerrors.NewAggregate(errs)
}
