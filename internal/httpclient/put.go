package httpclient

import (
	"bytes"
	"context"
	"net/http"

	"davsync/internal/errs"
)

// DoPUT uploads a calendar object. A non-empty etag adds If-Match for
// optimistic locking; create adds If-None-Match: * so an existing member
// is never overwritten.
func (c *httpClientWrapper) DoPUT(ctx context.Context, urlStr string, etag string, create bool, data []byte) (newEtag string, err error) {
	const op = "httpclient.DoPUT"

	c.logger.Debug("starting PUT request",
		"url", urlStr,
		"etag", etag,
		"create", create,
		"data_length", len(data))

	resolvedURL, err := c.resolveURL(urlStr)
	if err != nil {
		return "", errs.Wrap(errs.Invalid, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, resolvedURL.String(), bytes.NewReader(data))
	if err != nil {
		return "", errs.Wrap(errs.Invalid, op, err)
	}

	if etag != "" {
		req.Header.Set("If-Match", etag)
	}
	if create {
		req.Header.Set("If-None-Match", "*")
	}
	req.Header.Set("Content-Type", "text/calendar; charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "error", err)
		return "", errs.Wrap(errs.Network, op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("received response", "status", resp.Status)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return "", errs.FromStatus(op, resp.StatusCode)
	}

	newEtag = resp.Header.Get("ETag")
	c.logger.Debug("PUT request complete",
		"status", resp.Status,
		"new_etag", newEtag)
	return newEtag, nil
}
