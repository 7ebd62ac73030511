package qart

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadTicketShapes(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		shape TicketShape
		url   string
	}{
		{"oss signed", `{"signedUrl":"https://s/1"}`, ShapePut, "https://s/1"},
		{"s3 upload", `{"uploadKey":"k","urls":["https://s/2","https://s/3"]}`, ShapePut, "https://s/2"},
		{"s3 signed urls", `{"uploadKey":"k","signedUrls":["https://s/5","https://s/6"]}`, ShapePut, "https://s/5"},
		{"plain url", `{"url":"https://s/4"}`, ShapePut, "https://s/4"},
		{"form", `{"endpointURL":"https://f","formData":{"key":"a/b","policy":"p"}}`, ShapeForm, ""},
		{"bundle envelope", `{"id":"x","uploadParameters":{"endpointURL":"https://f","formData":{"key":"k"}}}`, ShapeForm, ""},
		{"empty", `{"reason":"nope"}`, ShapeUnknown, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var tk UploadTicket
			require.NoError(t, json.Unmarshal([]byte(tc.raw), &tk))
			assert.Equal(t, tc.shape, tk.Shape())
			assert.Equal(t, tc.url, tk.URL)
		})
	}
}

func TestUploadTicket_KeepsEveryPartURL(t *testing.T) {
	var tk UploadTicket
	require.NoError(t, json.Unmarshal([]byte(`{"uploadKey":"k","signedUrls":["https://s/1","https://s/2"]}`), &tk))
	assert.Equal(t, "k", tk.UploadKey)
	assert.Equal(t, []string{"https://s/1", "https://s/2"}, tk.Parts)
}

func TestTransfer_UnknownShapeIsConfigurationError(t *testing.T) {
	tr := NewTransfer(WithTransferLogger(qlog.Discard()))
	err := tr.UploadBytes(context.Background(), &UploadTicket{}, "x", []byte("x"))
	assert.True(t, qerr.IsCode(err, qerr.CodeConfiguration))
	assert.ErrorIs(t, err, qerr.ErrUnknownTicketShape)
}

func TestTransfer_FormUpload(t *testing.T) {
	var gotFields map[string]string
	var gotFile []byte
	var fileName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		mr, err := r.MultipartReader()
		require.NoError(t, err)
		gotFields = map[string]string{}
		var order []string
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			order = append(order, p.FormName())
			data, _ := io.ReadAll(p)
			if p.FormName() == "file" {
				gotFile, fileName = data, p.FileName()
				continue
			}
			gotFields[p.FormName()] = string(data)
		}
		assert.Equal(t, "file", order[len(order)-1])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr := NewTransfer(WithTransferLogger(qlog.Discard()))
	ticket := &UploadTicket{Endpoint: srv.URL, FormData: map[string]string{"key": "apps/bundle.zip", "policy": "p", "x-amz-signature": "s"}}
	require.NoError(t, tr.UploadBytes(context.Background(), ticket, "bundle.zip", []byte("zipdata")))

	assert.Equal(t, "apps/bundle.zip", gotFields["key"])
	assert.Equal(t, "s", gotFields["x-amz-signature"])
	assert.Equal(t, []byte("zipdata"), gotFile)
	assert.Equal(t, "bundle.zip", fileName)
}

func TestTransfer_NonSuccessIsTransferError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("<Error>SignatureDoesNotMatch</Error>"))
	}))
	defer srv.Close()

	tr := NewTransfer(WithTransferLogger(qlog.Discard()))
	err := tr.UploadBytes(context.Background(), &UploadTicket{URL: srv.URL + "/o?X-Amz-Signature=secret"}, "o", []byte("x"))
	require.Error(t, err)
	assert.True(t, qerr.IsCode(err, qerr.CodeTransfer))

	he, ok := qerr.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, he.StatusCode)
	assert.Equal(t, http.MethodPut, he.Method)
	assert.NotContains(t, he.URL, "secret")
	assert.Contains(t, he.Body, "SignatureDoesNotMatch")

	_, err = tr.DownloadBytes(context.Background(), srv.URL+"/o")
	assert.True(t, qerr.IsCode(err, qerr.CodeTransfer))
}

func TestTransfer_DownloadFileCreatesParents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("result"))
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "nested", "dir", "output.dat")
	tr := NewTransfer(WithTransferLogger(qlog.Discard()))
	n, err := tr.DownloadFile(context.Background(), srv.URL, dst)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "result", string(data))
}

func TestTransfer_DownloadFileRemovesPartialOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "output.dat")
	tr := NewTransfer(WithTransferLogger(qlog.Discard()))
	_, err := tr.DownloadFile(context.Background(), srv.URL, dst)
	require.Error(t, err)
	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}
