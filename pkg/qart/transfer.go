package qart

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
)

// Transfer moves bytes to and from pre-signed URLs. Requests carry no
// credentials and are never retried.
type Transfer struct {
	http   *http.Client
	logger *qlog.Logger
}

// TransferOption configures a Transfer
type TransferOption func(*Transfer)

func WithTransferHTTPClient(hc *http.Client) TransferOption {
	return func(t *Transfer) {
		if hc != nil {
			t.http = hc
		}
	}
}

func WithTransferLogger(l *qlog.Logger) TransferOption {
	return func(t *Transfer) {
		t.logger = l
	}
}

func NewTransfer(opts ...TransferOption) *Transfer {
	t := &Transfer{http: &http.Client{}}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = qlog.OrDefault(t.logger)
	return t
}

// Upload sends size bytes from r to the ticket. size may be -1 when unknown,
// which PUT targets generally reject.
func (t *Transfer) Upload(ctx context.Context, ticket *UploadTicket, name string, r io.Reader, size int64) error {
	switch ticket.Shape() {
	case ShapePut:
		return t.put(ctx, ticket.URL, ticket.Headers, r, size)
	case ShapeForm:
		return t.postForm(ctx, ticket.Endpoint, ticket.FormData, name, r)
	default:
		return qerr.New(qerr.CodeConfiguration, qerr.ErrUnknownTicketShape)
	}
}

// UploadBytes uploads an in-memory payload.
func (t *Transfer) UploadBytes(ctx context.Context, ticket *UploadTicket, name string, data []byte) error {
	return t.Upload(ctx, ticket, name, bytes.NewReader(data), int64(len(data)))
}

// UploadFile uploads a local file and returns its size.
func (t *Transfer) UploadFile(ctx context.Context, ticket *UploadTicket, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, qerr.New(qerr.CodeTransfer, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return 0, qerr.New(qerr.CodeTransfer, err)
	}
	if err := t.Upload(ctx, ticket, filepath.Base(path), f, st.Size()); err != nil {
		return 0, err
	}
	t.logger.Debug("uploaded file", "path", path, "size", humanize.Bytes(uint64(st.Size())))
	return st.Size(), nil
}

func (t *Transfer) put(ctx context.Context, target string, headers map[string]string, r io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, r)
	if err != nil {
		return qerr.New(qerr.CodeConfiguration, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if size >= 0 {
		req.ContentLength = size
		if size == 0 {
			req.Body = http.NoBody
		}
	}
	return t.do(req)
}

func (t *Transfer) postForm(ctx context.Context, endpoint string, fields map[string]string, name string, r io.Reader) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := mw.WriteField(k, fields[k]); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		// the file part must come last
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		pr.Close()
		return qerr.New(qerr.CodeConfiguration, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	err = t.do(req)
	pr.Close()
	return err
}

func (t *Transfer) do(req *http.Request) error {
	resp, err := t.http.Do(req)
	if err != nil {
		return qerr.New(qerr.CodeTransfer, fmt.Errorf("%s %s: %w", req.Method, redact(req.URL.String()), err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return qerr.New(qerr.CodeTransfer, &qerr.HTTPError{
			Method:     req.Method,
			URL:        redact(req.URL.String()),
			StatusCode: resp.StatusCode,
			Body:       string(body),
		})
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Download streams the object at url into w.
func (t *Transfer) Download(ctx context.Context, url string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, qerr.New(qerr.CodeConfiguration, err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return 0, qerr.New(qerr.CodeTransfer, fmt.Errorf("GET %s: %w", redact(url), err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return 0, qerr.New(qerr.CodeTransfer, &qerr.HTTPError{
			Method:     http.MethodGet,
			URL:        redact(url),
			StatusCode: resp.StatusCode,
			Body:       string(body),
		})
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, qerr.New(qerr.CodeTransfer, err)
	}
	return n, nil
}

// DownloadBytes returns the object at url.
func (t *Transfer) DownloadBytes(ctx context.Context, url string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := t.Download(ctx, url, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DownloadFile writes the object at url to path, creating parent
// directories. A partial file is removed on failure.
func (t *Transfer) DownloadFile(ctx context.Context, url, path string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, qerr.New(qerr.CodeTransfer, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, qerr.New(qerr.CodeTransfer, err)
	}
	n, err := t.Download(ctx, url, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = qerr.New(qerr.CodeTransfer, cerr)
	}
	if err != nil {
		_ = os.Remove(path)
		return n, err
	}
	t.logger.Debug("downloaded file", "path", path, "size", humanize.Bytes(uint64(n)))
	return n, nil
}

// redact drops the query string, which holds the signature.
func redact(raw string) string {
	base, _, _ := strings.Cut(raw, "?")
	return base
}
