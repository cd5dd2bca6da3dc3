package httpclient

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"

	"github.com/beevik/etree"

	"davsync/internal/errs"
)

// ReportResponse represents a CalDAV REPORT multistatus. The same shape
// covers calendar-query, calendar-multiget and sync-collection; for
// sync-collection the top-level SyncToken is set and deleted members
// carry a 404 response-level status.
type ReportResponse struct {
	XMLName   xml.Name      `xml:"DAV: multistatus"`
	SyncToken string        `xml:"DAV: sync-token"`
	Responses []ReportEntry `xml:"DAV: response"`
}

// ReportEntry is one response element of a REPORT multistatus.
type ReportEntry struct {
	Href string `xml:"DAV: href"`
	// Status is the response-level status, set (instead of propstat)
	// for sync-collection deletions.
	Status    string `xml:"DAV: status"`
	Propstats []struct {
		Status string `xml:"DAV: status"`
		Prop   struct {
			CalendarData string `xml:"urn:ietf:params:xml:ns:caldav calendar-data"`
			ETag         string `xml:"DAV: getetag"`
		} `xml:"DAV: prop"`
	} `xml:"DAV: propstat"`
}

// DoREPORT executes a CalDAV REPORT request with the given body document.
func (c *httpClientWrapper) DoREPORT(ctx context.Context, urlStr string, depth int, body *etree.Document) (*ReportResponse, error) {
	const op = "httpclient.DoREPORT"

	c.logger.Debug("starting REPORT request", "url", urlStr, "depth", depth)

	queryXML, err := body.WriteToBytes()
	if err != nil {
		return nil, errs.Wrap(errs.Invalid, op, err)
	}

	resolvedURL, err := c.resolveURL(urlStr)
	if err != nil {
		return nil, errs.Wrap(errs.Invalid, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, "REPORT", resolvedURL.String(), bytes.NewReader(queryXML))
	if err != nil {
		return nil, errs.Wrap(errs.Invalid, op, err)
	}

	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("Depth", fmt.Sprintf("%d", depth))

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "error", err)
		return nil, errs.Wrap(errs.Network, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus {
		c.logger.Debug("unexpected response status",
			"status_code", resp.StatusCode,
			"status", resp.Status)
		return nil, errs.FromStatus(op, resp.StatusCode)
	}

	var multiStatus ReportResponse
	if err := xml.NewDecoder(resp.Body).Decode(&multiStatus); err != nil {
		c.logger.Debug("failed to decode response", "error", err)
		return nil, errs.Wrap(errs.Parse, op, err)
	}

	c.logger.Debug("REPORT request complete",
		"response_count", len(multiStatus.Responses),
		"sync_token", multiStatus.SyncToken != "")
	return &multiStatus, nil
}
