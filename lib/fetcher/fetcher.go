package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/carlmjohnson/requests"
	"github.com/fiffu/feedrelay/config"
	"golang.org/x/net/html/charset"
)

// MaxBodyBytes caps how much of a response body is kept.
const MaxBodyBytes = 8 << 20

var errTooManyRedirects = errors.New("too many redirects")

type Fetcher struct {
	client    *http.Client
	userAgent string
}

func NewFetcher(cfg *config.Config, transport http.RoundTripper) *Fetcher {
	maxRedirects := cfg.Fetch.MaxRedirects
	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.Fetch.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("%w: stopped after %d", errTooManyRedirects, maxRedirects)
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return fmt.Errorf("redirect to unsupported scheme %q", req.URL.Scheme)
			}
			return nil
		},
	}
	return &Fetcher{client, cfg.Fetch.UserAgent}
}

// Response is a fully read upstream response. Body holds the raw bytes.
type Response struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

// Reader decodes Body to UTF-8 according to the declared or sniffed charset.
func (r *Response) Reader() (io.Reader, error) {
	return charset.NewReader(bytes.NewReader(r.Body), r.Header.Get("Content-Type"))
}

// Fetch issues a GET to rawURL. Non-2xx statuses come back as *Error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{Kind: ClientError, URL: rawURL, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &Error{Kind: ClientError, URL: rawURL, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}

	resp := &Response{URL: rawURL}
	err = requests.URL(rawURL).
		Client(f.client).
		UserAgent(f.userAgent).
		Accept("application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5").
		AddValidator(func(res *http.Response) error {
			resp.Status = res.StatusCode
			resp.Header = res.Header
			resp.URL = res.Request.URL.String()
			return classifyStatus(rawURL, res.StatusCode)
		}).
		Handle(func(res *http.Response) error {
			body, err := io.ReadAll(io.LimitReader(res.Body, MaxBodyBytes))
			resp.Body = body
			return err
		}).
		Fetch(ctx)
	if err == nil {
		return resp, nil
	}

	var fe *Error
	switch {
	case errors.As(err, &fe):
		return resp, fe
	case errors.Is(err, errTooManyRedirects):
		return nil, &Error{Kind: ClientError, URL: rawURL, Err: err}
	default:
		return nil, &Error{Kind: Transient, URL: rawURL, Status: resp.Status, Err: err}
	}
}

func classifyStatus(rawURL string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 500:
		return &Error{Kind: ServerError, URL: rawURL, Status: status}
	case status >= 400:
		return &Error{Kind: ClientError, URL: rawURL, Status: status}
	default:
		return &Error{Kind: ClientError, URL: rawURL, Status: status, Err: errors.New("unexpected status")}
	}
}
