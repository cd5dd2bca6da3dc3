package davclient

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"davsync/internal/errs"
	"davsync/internal/httpclient"
)

// DAVClient performs object operations against one calendar collection.
type DAVClient interface {
	// GetCTag fetches the collection's current ctag.
	GetCTag(ctx context.Context) (string, error)
	// GetSyncToken fetches the collection's current sync-token, empty if
	// the server does not offer one.
	GetSyncToken(ctx context.Context) (string, error)
	// SyncCollection reports changes since the given token.
	SyncCollection(ctx context.Context, token string) (*SyncChanges, error)
	// ListObjectETags lists every object href with its etag.
	ListObjectETags(ctx context.Context) (map[string]string, error)
	// MultigetObjects fetches the bodies and etags of the given hrefs.
	MultigetObjects(ctx context.Context, hrefs []string) ([]Object, error)
	// CreateObject stores a new uuid-named member and returns its
	// server-relative href, the same form multistatus responses use.
	// If-None-Match guards against uid collisions.
	CreateObject(ctx context.Context, data []byte) (href string, etag string, err error)
	// PutObject conditionally overwrites an existing member (If-Match).
	PutObject(ctx context.Context, href, etag string, data []byte) (newEtag string, err error)
	// DeleteObject conditionally deletes a member. An empty etag makes
	// the delete unconditional.
	DeleteObject(ctx context.Context, href, etag string) error
}

// Object is a calendar object reference, optionally with its body.
type Object struct {
	Href string
	ETag string
	Data []byte
}

// SyncChanges is the outcome of a sync-collection report.
type SyncChanges struct {
	// Changed holds created or modified members (href + etag, no body).
	Changed []Object
	// Deleted holds the hrefs of removed members.
	Deleted []string
	// NewToken is the token to store for the next incremental sync.
	NewToken string
}

type davClient struct {
	httpClient  httpclient.HttpClientWrapper
	calendarURL string
}

// NewDAVClient creates a client for one calendar collection URL.
func NewDAVClient(httpClient httpclient.HttpClientWrapper, calendarURL string) DAVClient {
	return &davClient{
		httpClient:  httpClient,
		calendarURL: calendarURL,
	}
}

// NewDAVClientForAccount builds the HTTP stack for the given credentials
// and returns a client bound to calendarURL.
func NewDAVClientForAccount(baseURL *url.URL, username, password, calendarURL string, logger *slog.Logger) (DAVClient, error) {
	transport := httpclient.NewBasicAuthTransport(username, password, nil, logger)
	wrapper, err := httpclient.NewHttpClientWrapper(&http.Client{Transport: transport}, *baseURL, logger)
	if err != nil {
		return nil, err
	}
	return NewDAVClient(wrapper, calendarURL), nil
}

// newObjectHref derives a fresh member href inside the collection. The
// href is server-relative so it compares equal to the hrefs the server
// reports in multistatus responses; the HTTP layer resolves it against
// the base URL on its own.
func (c *davClient) newObjectHref(name string) (string, error) {
	base, err := url.Parse(c.calendarURL)
	if err != nil {
		return "", errs.Wrap(errs.Invalid, "davclient.newObjectHref", err)
	}
	ref, err := url.Parse(name + ".ics")
	if err != nil {
		return "", errs.Wrap(errs.Invalid, "davclient.newObjectHref", err)
	}
	return base.ResolveReference(ref).EscapedPath(), nil
}

func (c *davClient) CreateObject(ctx context.Context, data []byte) (string, string, error) {
	href, err := c.newObjectHref(uuid.New().String())
	if err != nil {
		return "", "", err
	}

	etag, err := c.httpClient.DoPUT(ctx, href, "", true, data)
	if err != nil {
		return "", "", err
	}

	if etag == "" {
		etag, err = c.fetchETag(ctx, href)
		if err != nil {
			return href, "", err
		}
	}

	return href, etag, nil
}

func (c *davClient) PutObject(ctx context.Context, href, etag string, data []byte) (string, error) {
	newEtag, err := c.httpClient.DoPUT(ctx, href, etag, false, data)
	if err != nil {
		return "", err
	}

	if newEtag == "" {
		newEtag, err = c.fetchETag(ctx, href)
		if err != nil {
			return "", err
		}
	}

	return newEtag, nil
}

func (c *davClient) DeleteObject(ctx context.Context, href, etag string) error {
	return c.httpClient.DoDELETE(ctx, href, etag)
}

// fetchETag re-reads an object's etag when the server omitted it from a
// write response.
func (c *davClient) fetchETag(ctx context.Context, href string) (string, error) {
	const op = "davclient.fetchETag"

	resp, err := c.httpClient.DoPROPFIND(ctx, href, 0, "getetag")
	if err != nil {
		return "", err
	}
	for _, props := range resp.Resources {
		if props.Etag != "" {
			return props.Etag, nil
		}
	}
	return "", errs.New(errs.Parse, op, "no etag returned for "+href)
}
