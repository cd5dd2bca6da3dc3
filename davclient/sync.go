package davclient

import (
	"context"
	"net/http"
	"strings"

	"davsync/internal/errs"
	davxml "davsync/internal/xml"
)

func (c *davClient) GetCTag(ctx context.Context) (string, error) {
	const op = "davclient.GetCTag"

	resp, err := c.httpClient.DoPROPFIND(ctx, c.calendarURL, 0, "getctag")
	if err != nil {
		return "", err
	}
	for _, props := range resp.Resources {
		if props.CTag != "" {
			return props.CTag, nil
		}
	}
	return "", errs.New(errs.Discovery, op, "collection offers no ctag")
}

func (c *davClient) GetSyncToken(ctx context.Context) (string, error) {
	resp, err := c.httpClient.DoPROPFIND(ctx, c.calendarURL, 0, "sync-token")
	if err != nil {
		return "", err
	}
	for _, props := range resp.Resources {
		if props.SyncToken != "" {
			return props.SyncToken, nil
		}
	}
	// No token is not an error; the engine falls back to ctag diffing.
	return "", nil
}

func (c *davClient) SyncCollection(ctx context.Context, token string) (*SyncChanges, error) {
	body := (&davxml.SyncCollectionRequest{
		SyncToken: token,
		Prop:      []string{"getetag"},
	}).ToXML()

	resp, err := c.httpClient.DoREPORT(ctx, c.calendarURL, 1, body)
	if err != nil {
		// Sabre rejects an expired or foreign token with 403 (the
		// valid-sync-token precondition); other servers use 409/412.
		// Normalize so the engine can fall back to a full listing.
		if token != "" {
			switch errs.StatusOf(err) {
			case http.StatusForbidden, http.StatusConflict, http.StatusPreconditionFailed:
				return nil, errs.Wrap(errs.PreconditionFailed, "davclient.SyncCollection", err)
			}
		}
		return nil, err
	}

	changes := &SyncChanges{NewToken: resp.SyncToken}
	for _, entry := range resp.Responses {
		if entry.Href == "" || c.isCollectionHref(entry.Href) {
			continue
		}
		if strings.Contains(entry.Status, "404") {
			changes.Deleted = append(changes.Deleted, entry.Href)
			continue
		}
		for _, ps := range entry.Propstats {
			if strings.Contains(ps.Status, "200") {
				changes.Changed = append(changes.Changed, Object{
					Href: entry.Href,
					ETag: ps.Prop.ETag,
				})
				break
			}
		}
	}

	return changes, nil
}

func (c *davClient) ListObjectETags(ctx context.Context) (map[string]string, error) {
	body := (&davxml.CalendarQueryRequest{Prop: []string{"getetag"}}).ToXML()

	resp, err := c.httpClient.DoREPORT(ctx, c.calendarURL, 1, body)
	if err != nil {
		return nil, err
	}

	etags := make(map[string]string)
	for _, entry := range resp.Responses {
		if entry.Href == "" || c.isCollectionHref(entry.Href) {
			continue
		}
		for _, ps := range entry.Propstats {
			if strings.Contains(ps.Status, "200") && ps.Prop.ETag != "" {
				etags[entry.Href] = ps.Prop.ETag
				break
			}
		}
	}
	return etags, nil
}

func (c *davClient) MultigetObjects(ctx context.Context, hrefs []string) ([]Object, error) {
	if len(hrefs) == 0 {
		return nil, nil
	}

	body := (&davxml.CalendarMultigetRequest{
		Prop:  []string{"getetag", "calendar-data"},
		Hrefs: hrefs,
	}).ToXML()

	resp, err := c.httpClient.DoREPORT(ctx, c.calendarURL, 1, body)
	if err != nil {
		return nil, err
	}

	objects := make([]Object, 0, len(resp.Responses))
	for _, entry := range resp.Responses {
		// Objects deleted between listing and fetch come back as 404
		// entries; the engine treats missing hrefs as deletions.
		if strings.Contains(entry.Status, "404") {
			continue
		}
		for _, ps := range entry.Propstats {
			if !strings.Contains(ps.Status, "200") {
				continue
			}
			objects = append(objects, Object{
				Href: entry.Href,
				ETag: ps.Prop.ETag,
				Data: []byte(ps.Prop.CalendarData),
			})
			break
		}
	}
	return objects, nil
}

// isCollectionHref reports whether the href names the collection itself
// rather than a member. Some servers include the collection in REPORT
// responses.
func (c *davClient) isCollectionHref(href string) bool {
	h := strings.TrimRight(href, "/")
	// Hrefs are usually server-relative, so compare against both the
	// absolute collection URL and its path.
	return h == strings.TrimRight(c.calendarURL, "/") ||
		h == strings.TrimRight(pathOf(c.calendarURL), "/")
}

func pathOf(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		rest := raw[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			return rest[j:]
		}
		return "/"
	}
	return raw
}
