// Package xml builds the WebDAV/CalDAV request documents the client
// sends: PROPFIND bodies and the REPORT variants used for sync.
package xml

import "github.com/beevik/etree"

// PropfindRequest represents a PROPFIND request body.
type PropfindRequest struct {
	Prop []string
}

// ToXML converts a PropfindRequest to an XML document.
func (r *PropfindRequest) ToXML() *etree.Document {
	doc := etree.NewDocument()
	root := CreateRoot(doc, "propfind", DAV)

	if len(r.Prop) > 0 {
		prop := CreateElem(root, "prop")
		for _, name := range r.Prop {
			CreateElem(prop, name)
		}
	}

	return doc
}

// CalendarMultigetRequest represents a calendar-multiget REPORT request.
type CalendarMultigetRequest struct {
	Prop  []string
	Hrefs []string
}

// ToXML converts a CalendarMultigetRequest to an XML document.
func (r *CalendarMultigetRequest) ToXML() *etree.Document {
	doc := etree.NewDocument()
	root := CreateRoot(doc, "calendar-multiget", CalDAV)

	if len(r.Prop) > 0 {
		prop := CreateElem(root, "prop")
		for _, name := range r.Prop {
			CreateElem(prop, name)
		}
	}

	for _, href := range r.Hrefs {
		h := CreateElem(root, "href")
		h.SetText(href)
	}

	return doc
}

// CalendarQueryRequest represents a calendar-query REPORT request
// restricted to VEVENT components. Used for etag-only listings.
type CalendarQueryRequest struct {
	Prop []string
}

// ToXML converts a CalendarQueryRequest to an XML document.
func (r *CalendarQueryRequest) ToXML() *etree.Document {
	doc := etree.NewDocument()
	root := CreateRoot(doc, "calendar-query", CalDAV)

	if len(r.Prop) > 0 {
		prop := CreateElem(root, "prop")
		for _, name := range r.Prop {
			CreateElem(prop, name)
		}
	}

	filter := CreateElem(root, "filter")
	outer := CreateElem(filter, "comp-filter")
	outer.CreateAttr("name", "VCALENDAR")
	inner := CreateElem(outer, "comp-filter")
	inner.CreateAttr("name", "VEVENT")

	return doc
}

// SyncCollectionRequest represents a sync-collection REPORT request
// (RFC 6578). An empty SyncToken requests the full initial state.
type SyncCollectionRequest struct {
	SyncToken string
	SyncLevel string
	Prop      []string
}

// ToXML converts a SyncCollectionRequest to an XML document.
func (r *SyncCollectionRequest) ToXML() *etree.Document {
	doc := etree.NewDocument()
	root := CreateRoot(doc, "sync-collection", DAV)

	token := CreateElem(root, "sync-token")
	token.SetText(r.SyncToken)

	level := CreateElem(root, "sync-level")
	if r.SyncLevel == "" {
		level.SetText("1")
	} else {
		level.SetText(r.SyncLevel)
	}

	if len(r.Prop) > 0 {
		prop := CreateElem(root, "prop")
		for _, name := range r.Prop {
			CreateElem(prop, name)
		}
	}

	return doc
}
