package grobid

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func writePDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pdf-test.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 body"), 0o600))
	return path
}

func kindOf(t *testing.T, err error) Kind {
	t.Helper()
	var gerr *Error
	require.True(t, errors.As(err, &gerr), "expected *grobid.Error, got %T", err)
	return gerr.Kind
}

func TestExtractSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/xml", r.Header.Get("Accept"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "1", r.FormValue("consolidateHeader"))
		assert.Equal(t, "1", r.FormValue("consolidateCitations"))

		file, header, err := r.FormFile("input")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "pdf-test.pdf", header.Filename)
		assert.Equal(t, "%PDF-1.4 body", string(data))

		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte("<TEI/>"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, quietLogger())
	out, err := c.Extract(context.Background(), writePDF(t))
	require.NoError(t, err)
	assert.Equal(t, "<TEI/>", out)
}

func TestExtractStatusErrors(t *testing.T) {
	cases := []struct {
		status  int
		body    string
		kind    Kind
		message string
	}{
		{http.StatusBadRequest, "[BAD_INPUT_DATA] not a pdf", KindBadRequest, "GROBID Bad Request (400): Invalid PDF or GROBID parameter? [BAD_INPUT_DATA] not a pdf"},
		{http.StatusServiceUnavailable, "busy", KindHTTPStatus, "GROBID request failed with status 503"},
		{http.StatusInternalServerError, "", KindHTTPStatus, "GROBID request failed with status 500"},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.Copy(io.Discard, r.Body)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second, quietLogger()).Extract(context.Background(), writePDF(t))
			require.Error(t, err)
			assert.Equal(t, tc.kind, kindOf(t, err))
			assert.Equal(t, tc.message, err.Error())
		})
	}
}

func TestExtractConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	url := "http://" + ln.Addr().String() + "/api/processFulltextDocument"
	require.NoError(t, ln.Close())

	_, err = NewClient(url, time.Second, quietLogger()).Extract(context.Background(), writePDF(t))
	require.Error(t, err)
	assert.Equal(t, KindConnectionRefused, kindOf(t, err))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Contains(t, err.Error(), url)
}

func TestExtractTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewClient(srv.URL, 50*time.Millisecond, quietLogger()).Extract(context.Background(), writePDF(t))
	require.Error(t, err)
	assert.Equal(t, KindTimeout, kindOf(t, err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "GROBID request timed out after 50ms", err.Error())
}

func TestExtractMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone.pdf")
	_, err := NewClient("http://127.0.0.1:1", time.Second, quietLogger()).Extract(context.Background(), missing)
	require.Error(t, err)
	assert.Equal(t, KindFileMissing, kindOf(t, err))
	assert.Equal(t, "File not found at path: "+missing, err.Error())
}

func TestExtractUnconfigured(t *testing.T) {
	_, err := NewClient("", time.Second, quietLogger()).Extract(context.Background(), writePDF(t))
	require.Error(t, err)
	assert.Equal(t, KindRequestSetup, kindOf(t, err))
}
