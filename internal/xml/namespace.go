package xml

import (
	"strings"

	"github.com/beevik/etree"
)

// Namespace definitions for CalDAV and WebDAV
const (
	// DAV is the WebDAV namespace
	DAV = "DAV:"
	// CalDAV is the CalDAV namespace
	CalDAV = "urn:ietf:params:xml:ns:caldav"
	// CalendarServer is the Calendar Server namespace (getctag)
	CalendarServer = "http://calendarserver.org/ns/"
	// AppleICal is Apple's calendar extension namespace (calendar-color)
	AppleICal = "http://apple.com/ns/ical/"
)

// prefixes maps namespace URIs to the prefixes used in generated documents.
var prefixes = map[string]string{
	DAV:            "D",
	CalDAV:         "C",
	CalendarServer: "CS",
	AppleICal:      "A",
}

// propNamespaces maps property local names to their namespace URI.
// Unlisted properties default to the DAV: namespace.
var propNamespaces = map[string]string{
	"calendar-home-set":                CalDAV,
	"calendar-data":                    CalDAV,
	"supported-calendar-component-set": CalDAV,
	"filter":                           CalDAV,
	"comp-filter":                      CalDAV,
	"time-range":                       CalDAV,
	"getctag":                          CalendarServer,
	"calendar-color":                   AppleICal,
}

// CreateRoot creates the root element with the given DAV: local name and
// declares all namespaces the document may reference.
func CreateRoot(doc *etree.Document, local string, ns string) *etree.Element {
	root := doc.CreateElement(prefixes[ns] + ":" + local)
	for uri, prefix := range prefixes {
		root.CreateAttr("xmlns:"+prefix, uri)
	}
	return root
}

// CreateElem appends a child element, resolving the property's namespace
// prefix from its local name.
func CreateElem(parent *etree.Element, local string) *etree.Element {
	ns, ok := propNamespaces[local]
	if !ok {
		ns = DAV
	}
	return parent.CreateElement(prefixes[ns] + ":" + local)
}

// LocalName strips a namespace prefix from an element tag.
func LocalName(tag string) string {
	if i := strings.IndexByte(tag, ':'); i >= 0 {
		return tag[i+1:]
	}
	return tag
}
