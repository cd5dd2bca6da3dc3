package httpclient

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"davsync/internal/errs"
	davxml "davsync/internal/xml"
)

// PropfindResponse is the flattened result of a PROPFIND multistatus.
type PropfindResponse struct {
	// PrincipalHrefs collects every current-user-principal href returned.
	// Discovery requires exactly one.
	PrincipalHrefs []string
	// HomeSetHrefs collects every calendar-home-set href returned.
	HomeSetHrefs []string
	Resources    map[string]ResourceProps
}

// ResourceProps holds the per-resource properties the engine reads.
type ResourceProps struct {
	IsCalendar  bool
	DisplayName string
	Color       string
	CTag        string
	SyncToken   string
	Etag        string
	CanWrite    bool
}

type multistatusXML struct {
	XMLName   xml.Name      `xml:"DAV: multistatus"`
	Responses []responseXML `xml:"DAV: response"`
}

type responseXML struct {
	Href      string        `xml:"DAV: href"`
	Propstats []propstatXML `xml:"DAV: propstat"`
}

type propstatXML struct {
	Status string      `xml:"DAV: status"`
	Prop   propertyXML `xml:"DAV: prop"`
}

type propertyXML struct {
	ResourceType struct {
		Calendar *struct{} `xml:"urn:ietf:params:xml:ns:caldav calendar"`
	} `xml:"DAV: resourcetype"`
	DisplayName   string `xml:"DAV: displayname"`
	CalendarColor string `xml:"http://apple.com/ns/ical/ calendar-color"`
	GetCTag       string `xml:"http://calendarserver.org/ns/ getctag"`
	SyncToken     string `xml:"DAV: sync-token"`
	Getetag       string `xml:"DAV: getetag"`

	CurrentUserPrincipal struct {
		Hrefs []string `xml:"DAV: href"`
	} `xml:"DAV: current-user-principal"`
	CalendarHomeSet struct {
		Hrefs []string `xml:"DAV: href"`
	} `xml:"urn:ietf:params:xml:ns:caldav calendar-home-set"`

	PrivilegeSet struct {
		Privileges []privilegeXML `xml:"DAV: privilege"`
	} `xml:"DAV: current-user-privilege-set"`
}

type privilegeXML struct {
	Write        *struct{} `xml:"DAV: write"`
	WriteContent *struct{} `xml:"DAV: write-content"`
	All          *struct{} `xml:"DAV: all"`
}

// DoPROPFIND performs a PROPFIND request for the named properties.
func (c *httpClientWrapper) DoPROPFIND(ctx context.Context, urlStr string, depth int, props ...string) (*PropfindResponse, error) {
	const op = "httpclient.DoPROPFIND"

	c.logger.Debug("starting PROPFIND request",
		"url", urlStr,
		"depth", depth,
		"properties", props)

	body, err := (&davxml.PropfindRequest{Prop: props}).ToXML().WriteToBytes()
	if err != nil {
		return nil, errs.Wrap(errs.Invalid, op, err)
	}

	resolvedURL, err := c.resolveURL(urlStr)
	if err != nil {
		return nil, errs.Wrap(errs.Invalid, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, "PROPFIND", resolvedURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.Invalid, op, err)
	}

	req.Header.Set("Depth", fmt.Sprintf("%d", depth))
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.Network, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus {
		c.logger.Debug("unexpected response status",
			"status_code", resp.StatusCode,
			"status", resp.Status)
		return nil, errs.FromStatus(op, resp.StatusCode)
	}

	var multiStatus multistatusXML
	if err := xml.NewDecoder(resp.Body).Decode(&multiStatus); err != nil {
		c.logger.Debug("failed to parse XML response", "error", err)
		return nil, errs.Wrap(errs.Parse, op, err)
	}

	result := PropfindResponse{Resources: make(map[string]ResourceProps)}

	for _, r := range multiStatus.Responses {
		for _, ps := range r.Propstats {
			if !strings.Contains(ps.Status, "200") {
				continue
			}

			p := ps.Prop
			result.PrincipalHrefs = append(result.PrincipalHrefs, p.CurrentUserPrincipal.Hrefs...)
			result.HomeSetHrefs = append(result.HomeSetHrefs, p.CalendarHomeSet.Hrefs...)

			resource := ResourceProps{
				IsCalendar:  p.ResourceType.Calendar != nil,
				DisplayName: p.DisplayName,
				Color:       p.CalendarColor,
				CTag:        p.GetCTag,
				SyncToken:   p.SyncToken,
				Etag:        p.Getetag,
			}
			for _, priv := range p.PrivilegeSet.Privileges {
				if priv.Write != nil || priv.WriteContent != nil || priv.All != nil {
					resource.CanWrite = true
					break
				}
			}

			result.Resources[r.Href] = resource
		}
	}

	c.logger.Debug("PROPFIND request complete",
		"resource_count", len(result.Resources),
		"principal_hrefs", len(result.PrincipalHrefs),
		"home_set_hrefs", len(result.HomeSetHrefs))
	return &result, nil
}
