package qhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, append([]Option{WithLogger(qlog.Discard())}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestDo_SendsBearerAndJSON(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "/workitems", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Owner.Act+prod", body["activityId"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"wi-1","status":"pending"}`))
	}), WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok-1"})))

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	err := c.Post(context.Background(), "/workitems", nil, map[string]string{"activityId": "Owner.Act+prod"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "wi-1", out.ID)
}

func TestDo_ContentTypeOverride(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.api+json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
	}), WithContentType("application/vnd.api+json"))

	require.NoError(t, c.Post(context.Background(), "/projects/p/folders", nil, map[string]any{"data": nil}, nil))
}

func TestDo_NonSuccessIsTransportError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"reason":"exists"}`))
	}))

	err := c.Get(context.Background(), "/buckets/x/details", nil, nil)
	require.Error(t, err)
	assert.True(t, qerr.IsCode(err, qerr.CodeTransport))

	he, ok := qerr.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, he.StatusCode)
	assert.Equal(t, http.MethodGet, he.Method)
	assert.Contains(t, he.Body, "exists")
}

func TestDo_UnauthorizedCode(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	err := c.Get(context.Background(), "/x", nil, nil)
	assert.True(t, qerr.IsCode(err, qerr.CodeUnauthorized))
}

func TestDo_RetriesOnlyIdempotent(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.Method == http.MethodGet && n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}), WithRetries(3))

	require.NoError(t, c.Get(context.Background(), "/x", nil, nil))
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(0)
	err := c.Post(context.Background(), "/x", nil, map[string]int{}, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_NoRetryByDefault(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	require.Error(t, c.Get(context.Background(), "/x", nil, nil))
	assert.Equal(t, int32(1), calls.Load())
}

func TestPaginate_FollowsEnvelopes(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/dm", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("p") == "2" {
			fmt.Fprint(w, `{"data":[{"n":3}]}`)
			return
		}
		fmt.Fprintf(w, `{"data":[{"n":1},{"n":2}],"links":{"next":{"href":"%s/dm?p=2"}}}`, srvURL)
	})
	mux.HandleFunc("/da", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "t1" {
			assert.Equal(t, "50", r.URL.Query().Get("pageSize"))
			fmt.Fprint(w, `{"data":[{"n":2}]}`)
			return
		}
		fmt.Fprint(w, `{"data":[{"n":1}],"paginationToken":"t1"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	c, err := New(srv.URL, WithLogger(qlog.Discard()))
	require.NoError(t, err)

	collect := func(path string, q url.Values) []int {
		var got []int
		err := c.Paginate(context.Background(), path, q, func(raw json.RawMessage) error {
			var e struct{ N int }
			require.NoError(t, json.Unmarshal(raw, &e))
			got = append(got, e.N)
			return nil
		})
		require.NoError(t, err)
		return got
	}

	assert.Equal(t, []int{1, 2, 3}, collect("/dm", nil))
	assert.Equal(t, []int{1, 2}, collect("/da", url.Values{"pageSize": {"50"}}))
}

func TestPathEscapesSegments(t *testing.T) {
	assert.Equal(t, "/buckets/my-bucket/objects/a%20b.dat", Path("buckets", "my-bucket", "objects", "a b.dat"))
}

func TestNewRejectsRelativeBase(t *testing.T) {
	_, err := New("not-a-url")
	assert.True(t, qerr.IsCode(err, qerr.CodeConfiguration))
}
