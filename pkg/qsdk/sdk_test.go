package qsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/quatton/apsflow/pkg/qart"
	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlatform serves the token, revoke, OSS and Design Automation endpoints
// under one host.
type fakePlatform struct {
	*httptest.Server
	mu      sync.Mutex
	bearers []string
	grants  []url.Values
	revoked []string
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()
	f := &fakePlatform{}
	mux := http.NewServeMux()
	mux.HandleFunc("/authentication/v2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.grants = append(f.grants, r.PostForm)
		f.mu.Unlock()

		resp := map[string]any{"token_type": "Bearer", "expires_in": 3600}
		if r.PostForm.Get("grant_type") == "client_credentials" {
			resp["access_token"] = "app-token"
		} else {
			resp["access_token"] = "user-token"
			resp["refresh_token"] = "user-refresh"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/authentication/v2/revoke", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.mu.Lock()
		f.revoked = append(f.revoked, r.PostForm.Get("token_type_hint"))
		f.mu.Unlock()
	})
	mux.HandleFunc("/oss/v2/buckets/my-bucket/details", func(w http.ResponseWriter, r *http.Request) {
		f.bearer(r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bucketKey":"my-bucket","policyKey":"transient"}`))
	})
	mux.HandleFunc("/da/us-east/v3/workitems/wi-1", func(w http.ResponseWriter, r *http.Request) {
		f.bearer(r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"wi-1","status":"success"}`))
	})
	mux.HandleFunc("/project/v1/hubs", func(w http.ResponseWriter, r *http.Request) {
		f.bearer(r)
		w.Header().Set("Content-Type", "application/vnd.api+json")
		_, _ = w.Write([]byte(`{"data":[{"type":"hubs","id":"b.1","attributes":{"name":"Hub"}}]}`))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakePlatform) bearer(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bearers = append(f.bearers, r.Header.Get("Authorization"))
}

func (f *fakePlatform) seenBearers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bearers...)
}

func testConfig(baseURL string) *Config {
	return &Config{
		BaseURL:          baseURL,
		ClientID:         "client",
		ClientSecret:     "secret",
		CallbackURL:      DefaultCallbackURL,
		Scopes:           []string{"code:all", "bucket:read"},
		AutomationRegion: "us-east",
		BucketRegion:     DefaultBucketRegion,
		BucketPolicy:     "transient",
		PollInterval:     time.Second,
		Timeout:          time.Minute,
		HTTPTimeout:      5 * time.Second,
	}
}

func newTestSdk(t *testing.T, cfg *Config, opts ...Option) *Sdk {
	t.Helper()
	opts = append([]Option{WithLogger(qlog.Discard())}, opts...)
	s, err := NewSdk(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSdk_AccessToken(t *testing.T) {
	f := newFakePlatform(t)
	cfg := testConfig(f.URL)
	cfg.ClientID = ""
	cfg.AccessToken = "raw-token"

	s := newTestSdk(t, cfg)
	assert.Nil(t, s.Auth)
	assert.Nil(t, s.Ledger)

	wi, err := s.Automation.Get(context.Background(), "wi-1")
	require.NoError(t, err)
	assert.Equal(t, "wi-1", wi.ID)
	assert.Equal(t, []string{"Bearer raw-token"}, f.seenBearers())
}

func TestNewSdk_TwoLeggedSharedAcrossClients(t *testing.T) {
	f := newFakePlatform(t)
	s := newTestSdk(t, testConfig(f.URL), WithRegisterer(prometheus.NewRegistry()))
	require.NotNil(t, s.Metrics)

	_, err := s.Storage.EnsureContainer(context.Background(), "my-bucket", "US", "transient")
	require.NoError(t, err)
	_, err = s.Automation.Get(context.Background(), "wi-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer app-token", "Bearer app-token"}, f.seenBearers())
	require.Len(t, f.grants, 1, "token is cached between calls")
	assert.Equal(t, "client_credentials", f.grants[0].Get("grant_type"))
	assert.Equal(t, "bucket:read code:all", f.grants[0].Get("scope"))
}

func TestNewSdk_DataManagement(t *testing.T) {
	f := newFakePlatform(t)
	cfg := testConfig(f.URL)
	cfg.ClientID = ""
	cfg.AccessToken = "raw-token"
	s := newTestSdk(t, cfg)

	hubs, err := s.DataManagement.ListHubs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, hubs, 1)
	assert.Equal(t, "Hub", hubs[0].Name())
	assert.Equal(t, []string{"Bearer raw-token"}, f.seenBearers())
}

func TestNewSdk_S3Backend(t *testing.T) {
	f := newFakePlatform(t)
	s3 := httptest.NewServer(gofakes3.New(s3mem.New()).Server())
	t.Cleanup(s3.Close)

	cfg := testConfig(f.URL)
	cfg.StorageBackend = BackendS3
	cfg.S3Endpoint = strings.TrimPrefix(s3.URL, "http://")
	cfg.S3AccessKey = "test"
	cfg.S3SecretKey = "test"

	s := newTestSdk(t, cfg)
	assert.IsType(t, &qart.S3Broker{}, s.Storage)
	assert.Nil(t, s.OSS)

	c, err := s.Workflow.EnsureContainer(context.Background(), "s3-bucket", "", qart.PolicyTransient)
	require.NoError(t, err)
	assert.Equal(t, "s3-bucket", c.Key)
	assert.Empty(t, f.seenBearers(), "no OSS call is made")
}

func TestNewSdk_OSSBackendByDefault(t *testing.T) {
	f := newFakePlatform(t)
	s := newTestSdk(t, testConfig(f.URL))
	require.NotNil(t, s.OSS)
	assert.Same(t, s.OSS, s.Storage)
}

func TestNewSdk_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("http://localhost")
	cfg.ClientID = ""
	_, err := NewSdk(context.Background(), cfg)
	assert.True(t, qerr.IsCode(err, qerr.CodeConfiguration))
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// followRedirect plays the browser: it sends the provider redirect straight
// to the callback server.
func followRedirect(t *testing.T, query func(state string) url.Values) func(string) error {
	return func(authorizeURL string) error {
		u, err := url.Parse(authorizeURL)
		require.NoError(t, err)
		q := u.Query()
		assert.Equal(t, "S256", q.Get("code_challenge_method"))
		assert.NotEmpty(t, q.Get("code_challenge"))

		resp, err := http.Get(q.Get("redirect_uri") + "?" + query(q.Get("state")).Encode())
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

func TestLogin_ExchangesCodeAndLogsOut(t *testing.T) {
	f := newFakePlatform(t)
	cfg := testConfig(f.URL)
	cfg.CallbackURL = fmt.Sprintf("http://127.0.0.1:%d/callback", freePort(t))
	s := newTestSdk(t, cfg)
	ctx := context.Background()

	tok, err := s.Login(ctx, followRedirect(t, func(state string) url.Values {
		return url.Values{"code": {"the-code"}, "state": {state}}
	}))
	require.NoError(t, err)
	assert.Equal(t, "user-token", tok.AccessToken)

	exchange := f.grants[len(f.grants)-1]
	assert.Equal(t, "authorization_code", exchange.Get("grant_type"))
	assert.Equal(t, "the-code", exchange.Get("code"))
	assert.NotEmpty(t, exchange.Get("code_verifier"))

	cached, err := s.UserToken()
	require.NoError(t, err)
	assert.Equal(t, "user-token", cached.AccessToken)

	logoutURL, err := s.Logout(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.URL+"/authentication/v2/logout", logoutURL)
	assert.ElementsMatch(t, []string{"access_token", "refresh_token"}, f.revoked)

	// the cache entry is gone
	_, err = s.Auth.ThreeLegged(cfg.Scopes, nil).Token()
	assert.True(t, qerr.IsCode(err, qerr.CodeUnauthorized))
}

func TestLogin_ProviderError(t *testing.T) {
	f := newFakePlatform(t)
	cfg := testConfig(f.URL)
	cfg.CallbackURL = fmt.Sprintf("http://127.0.0.1:%d/callback", freePort(t))
	s := newTestSdk(t, cfg)

	_, err := s.Login(context.Background(), followRedirect(t, func(state string) url.Values {
		return url.Values{"error": {"access_denied"}, "state": {state}}
	}))
	assert.True(t, qerr.IsCode(err, qerr.CodeUnauthorized))
}

func TestCallbackServer_IgnoresForeignState(t *testing.T) {
	cs, err := StartCallbackServer("http://127.0.0.1:0/cb", "expected")
	require.NoError(t, err)

	resp, err := http.Get("http://" + cs.Addr + "/cb?code=x&state=other")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get("http://" + cs.Addr + "/cb?code=good&state=expected")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	code, err := cs.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "good", code)
}
