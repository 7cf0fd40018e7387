// Package grobid sends PDFs to a GROBID server and returns the TEI document it produces.
package grobid

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const maxErrorBody = 4096

// Kind classifies an extraction failure.
type Kind string

const (
	// KindConnectionRefused means the extraction service was not listening.
	KindConnectionRefused Kind = "connection_refused"
	// KindBadRequest means the service rejected the document with 400.
	KindBadRequest Kind = "bad_request"
	// KindHTTPStatus covers any other non-200 response.
	KindHTTPStatus Kind = "http_status"
	// KindNoResponse means the connection broke before a response arrived.
	KindNoResponse Kind = "no_response"
	// KindTimeout means the call ran past its deadline.
	KindTimeout Kind = "timeout"
	// KindFileMissing means the artifact could not be opened.
	KindFileMissing Kind = "file_missing"
	// KindRequestSetup means the request could not be built.
	KindRequestSetup Kind = "request_setup"
)

// Error is an extraction failure. Its message is shown to users as-is.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Client calls GROBID's fulltext endpoint.
type Client struct {
	url     string
	http    *http.Client
	timeout time.Duration
	logger  *log.Logger
}

// NewClient creates a Client posting to url (e.g. http://localhost:8070/api/processFulltextDocument).
// timeout bounds each call; the caller's context may shorten it further.
func NewClient(url string, timeout time.Duration, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		url:     url,
		http:    &http.Client{},
		timeout: timeout,
		logger:  logger,
	}
}

// Extract uploads the PDF at path and returns the TEI XML.
func (c *Client) Extract(ctx context.Context, path string) (string, error) {
	if c.url == "" {
		return "", &Error{Kind: KindRequestSetup, Message: "Error setting up GROBID request: GROBID_URL is not configured"}
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &Error{Kind: KindFileMissing, Message: fmt.Sprintf("File not found at path: %s", path), Err: err}
		}
		return "", &Error{Kind: KindRequestSetup, Message: fmt.Sprintf("Error setting up GROBID request: %v", err), Err: err}
	}
	defer file.Close()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, contentType := multipartBody(file)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		_ = body.Close()
		return "", &Error{Kind: KindRequestSetup, Message: fmt.Sprintf("Error setting up GROBID request: %v", err), Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/xml")

	start := time.Now()
	c.logger.Printf("grobid request started file=%s", filepath.Base(path))
	resp, err := c.http.Do(req)
	if err != nil {
		_ = body.Close()
		return "", c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Printf("grobid request failed file=%s status=%d body=%q", filepath.Base(path), resp.StatusCode, string(data))
		if resp.StatusCode == http.StatusBadRequest {
			return "", &Error{
				Kind:    KindBadRequest,
				Status:  resp.StatusCode,
				Message: fmt.Sprintf("GROBID Bad Request (400): Invalid PDF or GROBID parameter? %s", strings.TrimSpace(string(data))),
			}
		}
		return "", &Error{
			Kind:    KindHTTPStatus,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("GROBID request failed with status %d", resp.StatusCode),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", c.transportError(ctx, err)
	}
	c.logger.Printf("grobid request finished file=%s bytes=%d elapsed=%s", filepath.Base(path), len(data), time.Since(start).Round(time.Millisecond))
	return string(data), nil
}

func (c *Client) transportError(ctx context.Context, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return &Error{
			Kind:    KindConnectionRefused,
			Message: fmt.Sprintf("GROBID connection refused. Is GROBID running at %s?", c.url),
			Err:     err,
		}
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return &Error{
			Kind:    KindTimeout,
			Message: fmt.Sprintf("GROBID request timed out after %s", c.timeoutLabel()),
			Err:     errors.Join(err, context.DeadlineExceeded),
		}
	default:
		return &Error{
			Kind:    KindNoResponse,
			Message: "GROBID request made but no response received.",
			Err:     err,
		}
	}
}

func (c *Client) timeoutLabel() string {
	if c.timeout > 0 {
		return c.timeout.String()
	}
	return "the caller's deadline"
}

// multipartBody streams file as the "input" part followed by the consolidation flags.
func multipartBody(file *os.File) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeParts(mw, file)
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()
	return pr, mw.FormDataContentType()
}

func writeParts(mw *multipart.Writer, file *os.File) error {
	part, err := mw.CreateFormFile("input", filepath.Base(file.Name()))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	if err := mw.WriteField("consolidateHeader", "1"); err != nil {
		return err
	}
	return mw.WriteField("consolidateCitations", "1")
}
