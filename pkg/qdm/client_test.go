package qdm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/quatton/apsflow/pkg/qart"
	"github.com/quatton/apsflow/pkg/qhttp"
	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHub serves both API roots and a signed upload target from one host.
type fakeHub struct {
	*httptest.Server
	mu       sync.Mutex
	posts    map[string]map[string]any
	uploaded []byte
	upHeader string
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	f := &fakeHub{posts: map[string]map[string]any{}}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /project/v1/hubs", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page[number]") == "1" {
			writeJSON(w, `{"data":[{"type":"hubs","id":"b.2","attributes":{"name":"Second"}}]}`)
			return
		}
		assert.Equal(t, "1", r.URL.Query().Get("page[limit]"))
		writeJSON(w, `{"data":[{"type":"hubs","id":"b.1","attributes":{"name":"First"}}],
			"links":{"next":{"href":"`+f.URL+`/project/v1/hubs?page[number]=1"}}}`)
	})
	mux.HandleFunc("GET /project/v1/hubs/b.missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("GET /project/v1/hubs/b.1/projects/b.p/topFolders", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"data":[{"type":"folders","id":"urn:f1","attributes":{"displayName":"Project Files","name":"pf"}}]}`)
	})
	mux.HandleFunc("GET /data/v1/projects/b.p/folders/urn:f1/contents", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "versions", r.URL.Query().Get("include"))
		writeJSON(w, `{"data":[{"type":"items","id":"urn:i1","attributes":{"displayName":"a.rvt"},
			"relationships":{"tip":{"data":{"type":"versions","id":"urn:v1"}}}}]}`)
	})
	mux.HandleFunc("POST /data/v1/projects/b.p/{kind}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ContentType, r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		kind := r.PathValue("kind")
		f.mu.Lock()
		f.posts[kind] = body
		f.mu.Unlock()

		w.WriteHeader(http.StatusCreated)
		switch kind {
		case "storage":
			writeJSON(w, `{"data":{"type":"objects","id":"urn:adsk.objects:os.object:wip/abc.rvt",
				"attributes":{"uploadParameters":{"url":"`+f.URL+`/upload/abc","headers":{"x-ms-blob-type":"BlockBlob"}}}}}`)
		case "commands":
			writeJSON(w, `{"data":{"type":"commands","attributes":{"status":"committed"}}}`)
		default:
			writeJSON(w, `{"data":{"type":"`+kind+`","id":"urn:new-`+kind+`"}}`)
		}
	})
	mux.HandleFunc("PUT /upload/abc", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		data, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.uploaded = data
		f.upHeader = r.Header.Get("x-ms-blob-type")
		f.mu.Unlock()
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/vnd.api+json")
	_, _ = w.Write([]byte(body))
}

func newTestClient(t *testing.T, f *fakeHub) *Client {
	t.Helper()
	project, err := qhttp.New(ProjectBaseURL(f.URL), qhttp.WithLogger(qlog.Discard()))
	require.NoError(t, err)
	data, err := qhttp.New(DataBaseURL(f.URL), qhttp.WithContentType(ContentType), qhttp.WithLogger(qlog.Discard()))
	require.NoError(t, err)
	return NewClient(project, data, qlog.Discard())
}

func TestListHubs_FollowsNextLinks(t *testing.T) {
	c := newTestClient(t, newFakeHub(t))

	hubs, err := c.ListHubs(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, hubs, 2)
	assert.Equal(t, "b.1", hubs[0].ID)
	assert.Equal(t, "Second", hubs[1].Name())
}

func TestHub_NotFound(t *testing.T) {
	c := newTestClient(t, newFakeHub(t))

	_, err := c.Hub(context.Background(), "b.missing")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, qerr.StatusCode(err))
}

func TestTopFoldersAndContents(t *testing.T) {
	c := newTestClient(t, newFakeHub(t))
	ctx := context.Background()

	folders, err := c.TopFolders(ctx, "b.1", "b.p")
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "Project Files", folders[0].Name())

	contents, err := c.FolderContents(ctx, "b.p", folders[0].ID, ContentsOptions{Include: "versions"})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "urn:v1", contents[0].Related("tip"))
}

func TestCreateFolder_SendsParent(t *testing.T) {
	f := newFakeHub(t)
	c := newTestClient(t, f)

	folder, err := c.CreateFolder(context.Background(), "b.p", "urn:f1", "Outputs", true)
	require.NoError(t, err)
	assert.Equal(t, "urn:new-folders", folder.ID)

	data := f.posts["folders"]["data"].(map[string]any)
	assert.Equal(t, "folders", data["type"])
	attrs := data["attributes"].(map[string]any)
	assert.Equal(t, "Outputs", attrs["name"])
	assert.Equal(t, true, attrs["hidden"])
	parent := data["relationships"].(map[string]any)["parent"].(map[string]any)["data"].(map[string]any)
	assert.Equal(t, "urn:f1", parent["id"])
}

func TestUploadFile_CreatesItemWithFirstVersion(t *testing.T) {
	f := newFakeHub(t)
	c := newTestClient(t, f)
	path := filepath.Join(t.TempDir(), "abc.rvt")
	require.NoError(t, os.WriteFile(path, []byte("model"), 0o644))

	item, err := c.UploadFile(context.Background(), qart.NewTransfer(qart.WithTransferLogger(qlog.Discard())), "b.p", "urn:f1", "", path)
	require.NoError(t, err)
	assert.Equal(t, "urn:new-items", item.ID)
	assert.Equal(t, []byte("model"), f.uploaded)
	assert.Equal(t, "BlockBlob", f.upHeader)

	target := f.posts["storage"]["data"].(map[string]any)["relationships"].(map[string]any)["target"].(map[string]any)["data"].(map[string]any)
	assert.Equal(t, "urn:f1", target["id"])

	included := f.posts["items"]["included"].([]any)
	require.Len(t, included, 1)
	version := included[0].(map[string]any)
	assert.Equal(t, "1", version["id"])
	storage := version["relationships"].(map[string]any)["storage"].(map[string]any)["data"].(map[string]any)
	assert.Equal(t, "urn:adsk.objects:os.object:wip/abc.rvt", storage["id"])
}

func TestUploadFile_NewVersionOfExistingItem(t *testing.T) {
	f := newFakeHub(t)
	c := newTestClient(t, f)
	path := filepath.Join(t.TempDir(), "abc.rvt")
	require.NoError(t, os.WriteFile(path, []byte("model v2"), 0o644))

	v, err := c.UploadFile(context.Background(), qart.NewTransfer(qart.WithTransferLogger(qlog.Discard())), "b.p", "urn:f1", "urn:i1", path)
	require.NoError(t, err)
	assert.Equal(t, "urn:new-versions", v.ID)
	assert.NotContains(t, f.posts, "items")

	item := f.posts["versions"]["data"].(map[string]any)["relationships"].(map[string]any)["item"].(map[string]any)["data"].(map[string]any)
	assert.Equal(t, "urn:i1", item["id"])
}

func TestCreateStorage_SignedURLLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"data":{"type":"objects","id":"urn:o","links":{"signedUrl":{"href":"https://s3/put"}}}}`)
	}))
	t.Cleanup(srv.Close)
	data, err := qhttp.New(DataBaseURL(srv.URL), qhttp.WithLogger(qlog.Discard()))
	require.NoError(t, err)
	c := NewClient(nil, data, qlog.Discard())

	s, err := c.CreateStorage(context.Background(), "b.p", "urn:f1", "x.rvt")
	require.NoError(t, err)
	assert.Equal(t, "urn:o", s.URN)
	assert.Equal(t, "https://s3/put", s.Ticket.URL)
}

func TestCommand_ReturnsRawDocument(t *testing.T) {
	c := newTestClient(t, newFakeHub(t))

	raw, err := c.Command(context.Background(), "b.p", map[string]any{
		"jsonapi": map[string]string{"version": "1.0"},
		"data":    map[string]any{"type": "commands", "attributes": map[string]any{"extension": map[string]string{"type": "commands:autodesk.core:ListRefs"}}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"type":"commands","attributes":{"status":"committed"}}}`, string(raw))
}
