package davclient

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"davsync/internal/errs"
)

func TestNormalizeServerURL(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		allowInsecure bool
		want          string
		wantWarning   bool
		wantErr       bool
	}{
		{name: "bare host", raw: "cloud.example.com", want: "https://cloud.example.com"},
		{name: "trailing slash", raw: "https://cloud.example.com/", want: "https://cloud.example.com"},
		{name: "whitespace", raw: "  cloud.example.com  ", want: "https://cloud.example.com"},
		{name: "http rejected", raw: "http://cloud.example.com", wantErr: true},
		{name: "http allowed with warning", raw: "http://cloud.example.com", allowInsecure: true, want: "http://cloud.example.com", wantWarning: true},
		{name: "bad scheme", raw: "ftp://cloud.example.com", wantErr: true},
		{name: "empty", raw: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, warning, err := NormalizeServerURL(tt.raw, tt.allowInsecure)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errs.Discovery, errs.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, u.String())
			assert.Equal(t, tt.wantWarning, warning != "")
		})
	}
}

// discoveryTransport serves canned multistatus bodies keyed by URL path.
type discoveryTransport struct {
	responses map[string]string
	requested []string
}

func (d *discoveryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	d.requested = append(d.requested, req.URL.Path)
	body, ok := d.responses[req.URL.Path]
	if !ok {
		return &http.Response{StatusCode: http.StatusNotFound, Body: http.NoBody}, nil
	}
	return &http.Response{
		StatusCode: http.StatusMultiStatus,
		Header:     http.Header{"Content-Type": []string{"application/xml"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

const discoverPrincipal = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:">
 <d:response><d:href>/remote.php/dav/</d:href><d:propstat>
  <d:prop><d:current-user-principal><d:href>/remote.php/dav/principals/users/alice/</d:href></d:current-user-principal></d:prop>
  <d:status>HTTP/1.1 200 OK</d:status>
 </d:propstat></d:response>
</d:multistatus>`

const discoverHomeSet = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:cal="urn:ietf:params:xml:ns:caldav">
 <d:response><d:href>/remote.php/dav/principals/users/alice/</d:href><d:propstat>
  <d:prop><cal:calendar-home-set><d:href>/remote.php/dav/calendars/alice/</d:href></cal:calendar-home-set></d:prop>
  <d:status>HTTP/1.1 200 OK</d:status>
 </d:propstat></d:response>
</d:multistatus>`

const discoverCalendars = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:cal="urn:ietf:params:xml:ns:caldav"
  xmlns:cs="http://calendarserver.org/ns/" xmlns:x1="http://apple.com/ns/ical/">
 <d:response><d:href>/remote.php/dav/calendars/alice/</d:href><d:propstat>
  <d:prop><d:resourcetype><d:collection/></d:resourcetype></d:prop>
  <d:status>HTTP/1.1 200 OK</d:status>
 </d:propstat></d:response>
 <d:response><d:href>/remote.php/dav/calendars/alice/personal/</d:href><d:propstat>
  <d:prop>
   <d:resourcetype><d:collection/><cal:calendar/></d:resourcetype>
   <d:displayname>Personal</d:displayname>
   <x1:calendar-color>#0082C9</x1:calendar-color>
   <cs:getctag>5</cs:getctag>
   <d:current-user-privilege-set><d:privilege><d:write/></d:privilege></d:current-user-privilege-set>
  </d:prop>
  <d:status>HTTP/1.1 200 OK</d:status>
 </d:propstat></d:response>
</d:multistatus>`

func testDiscoverConfig(transport *discoveryTransport) *Config {
	return &Config{
		Client: &http.Client{Transport: transport},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestDiscoverWellKnownFallback(t *testing.T) {
	// The well-known path 404s; discovery must try the Nextcloud DAV
	// root before failing.
	transport := &discoveryTransport{responses: map[string]string{
		"/remote.php/dav/":                        discoverPrincipal,
		"/remote.php/dav/principals/users/alice/": discoverHomeSet,
		"/remote.php/dav/calendars/alice/":        discoverCalendars,
	}}

	disc, err := DiscoverWithConfig(context.Background(), "cloud.example.com", "alice", "secret", testDiscoverConfig(transport))
	require.NoError(t, err)

	assert.Equal(t, "/.well-known/caldav", transport.requested[0])
	assert.Equal(t, "/remote.php/dav/", transport.requested[1])

	assert.Equal(t, "https://cloud.example.com/remote.php/dav/principals/users/alice/", disc.PrincipalURL)
	assert.Equal(t, "https://cloud.example.com/remote.php/dav/calendars/alice/", disc.HomeSetURL)

	require.Len(t, disc.Calendars, 1)
	cal := disc.Calendars[0]
	assert.Equal(t, "https://cloud.example.com/remote.php/dav/calendars/alice/personal/", cal.URI)
	assert.Equal(t, "Personal", cal.Name)
	assert.Equal(t, "#0082C9", cal.Color.OrElse(""))
	assert.Equal(t, "5", cal.CTag.OrElse(""))
	assert.False(t, cal.SyncToken.IsPresent())
	assert.False(t, cal.ReadOnly)
}

func TestDiscoverWellKnownDirect(t *testing.T) {
	transport := &discoveryTransport{responses: map[string]string{
		"/.well-known/caldav":                     discoverPrincipal,
		"/remote.php/dav/principals/users/alice/": discoverHomeSet,
		"/remote.php/dav/calendars/alice/":        discoverCalendars,
	}}

	disc, err := DiscoverWithConfig(context.Background(), "cloud.example.com", "alice", "secret", testDiscoverConfig(transport))
	require.NoError(t, err)
	assert.Equal(t, []string{"/.well-known/caldav"}, transport.requested[:1])
	assert.Len(t, disc.Calendars, 1)
}

func TestDiscoverNoPrincipal(t *testing.T) {
	transport := &discoveryTransport{responses: map[string]string{}}

	_, err := DiscoverWithConfig(context.Background(), "cloud.example.com", "alice", "secret", testDiscoverConfig(transport))
	require.Error(t, err)
	assert.Equal(t, errs.Discovery, errs.KindOf(err))
}

func TestDiscoverEmptyCalendarList(t *testing.T) {
	emptyHome := `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:">
 <d:response><d:href>/remote.php/dav/calendars/alice/</d:href><d:propstat>
  <d:prop><d:resourcetype><d:collection/></d:resourcetype></d:prop>
  <d:status>HTTP/1.1 200 OK</d:status>
 </d:propstat></d:response>
</d:multistatus>`

	transport := &discoveryTransport{responses: map[string]string{
		"/remote.php/dav/":                        discoverPrincipal,
		"/remote.php/dav/principals/users/alice/": discoverHomeSet,
		"/remote.php/dav/calendars/alice/":        emptyHome,
	}}

	disc, err := DiscoverWithConfig(context.Background(), "cloud.example.com", "alice", "secret", testDiscoverConfig(transport))
	require.NoError(t, err)
	assert.Empty(t, disc.Calendars)
}
