// Package davclient talks CalDAV to a Nextcloud server: discovery of
// the account's calendars and conditional object operations against one
// calendar collection.
package davclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/samber/mo"

	"davsync/internal/errs"
	"davsync/internal/httpclient"
)

// wellKnownPath is the standard CalDAV bootstrap path (RFC 6764).
const wellKnownPath = "/.well-known/caldav"

// nextcloudDAVRoot is the fallback DAV root used when the well-known
// path is absent or misconfigured.
const nextcloudDAVRoot = "/remote.php/dav/"

// CalendarInfo describes one calendar collection found during discovery.
type CalendarInfo struct {
	URI       string
	Name      string
	Color     mo.Option[string]
	CTag      mo.Option[string]
	SyncToken mo.Option[string]
	ReadOnly  bool
}

// Discovery is the value object produced by a successful discovery run.
// Nothing is persisted here; the orchestrator owns the merge.
type Discovery struct {
	PrincipalURL string
	HomeSetURL   string
	Calendars    []CalendarInfo
	// Warning is set when the caller overrode the https requirement.
	Warning string
}

// Config holds configuration for Discover.
type Config struct {
	Client *http.Client
	Logger *slog.Logger
	// AllowInsecure permits http:// servers. Discovery then carries a
	// warning instead of failing.
	AllowInsecure bool
}

// NormalizeServerURL canonicalizes a user-supplied server string: trims
// whitespace, defaults the scheme to https and strips the trailing
// slash. Non-https schemes are rejected unless allowInsecure is set.
func NormalizeServerURL(raw string, allowInsecure bool) (*url.URL, string, error) {
	const op = "davclient.NormalizeServerURL"

	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, "", errs.New(errs.Discovery, op, "empty server URL")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	s = strings.TrimRight(s, "/")

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return nil, "", errs.New(errs.Discovery, op, fmt.Sprintf("invalid server URL %q", raw))
	}

	var warning string
	switch u.Scheme {
	case "https":
	case "http":
		if !allowInsecure {
			return nil, "", errs.New(errs.Discovery, op, "server URL must use https")
		}
		warning = fmt.Sprintf("connecting to %s without TLS", u.Host)
	default:
		return nil, "", errs.New(errs.Discovery, op, fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}

	return u, warning, nil
}

// Discover resolves the current-user-principal and calendar-home-set for
// the given server and lists its calendar collections. An account with
// zero calendars is a valid (empty) result, not an error.
func Discover(ctx context.Context, location, username, password string) (*Discovery, error) {
	return DiscoverWithConfig(ctx, location, username, password, &Config{})
}

// DiscoverWithConfig allows injecting a custom HTTP client and logger.
func DiscoverWithConfig(ctx context.Context, location, username, password string, cfg *Config) (*Discovery, error) {
	const op = "davclient.Discover"

	baseURL, warning, err := NormalizeServerURL(location, cfg.AllowInsecure)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = httpclient.NewBasicAuthTransport(username, password, transport, logger)

	wrapper, err := httpclient.NewHttpClientWrapper(client, *baseURL, logger)
	if err != nil {
		return nil, errs.Wrap(errs.Discovery, op, err)
	}

	principalURL, err := resolvePrincipal(ctx, wrapper, baseURL, logger)
	if err != nil {
		return nil, err
	}

	homeSetURL, err := resolveHomeSet(ctx, wrapper, principalURL)
	if err != nil {
		return nil, err
	}

	calendars, err := listCalendars(ctx, wrapper, homeSetURL)
	if err != nil {
		return nil, err
	}

	logger.Debug("discovery complete",
		"principal", principalURL,
		"home_set", homeSetURL,
		"calendar_count", len(calendars))

	return &Discovery{
		PrincipalURL: principalURL,
		HomeSetURL:   homeSetURL,
		Calendars:    calendars,
		Warning:      warning,
	}, nil
}

// resolvePrincipal tries the well-known path first, then the Nextcloud
// DAV root. Redirects are handled by the HTTP client.
func resolvePrincipal(ctx context.Context, wrapper httpclient.HttpClientWrapper, baseURL *url.URL, logger *slog.Logger) (string, error) {
	const op = "davclient.resolvePrincipal"

	candidates := []string{
		baseURL.JoinPath(wellKnownPath).String(),
		baseURL.JoinPath(nextcloudDAVRoot).String(),
	}

	var lastErr error
	for _, candidate := range candidates {
		resp, err := wrapper.DoPROPFIND(ctx, candidate, 0, "current-user-principal")
		if err != nil {
			switch errs.KindOf(err) {
			case errs.Network:
				// Transport failures are not a signal to try other
				// paths; the server is unreachable.
				return "", err
			case errs.Auth:
				return "", err
			default:
				logger.Debug("principal candidate failed, trying next",
					"url", candidate, "error", err)
				lastErr = err
				continue
			}
		}

		switch len(resp.PrincipalHrefs) {
		case 0:
			lastErr = errs.New(errs.Discovery, op,
				fmt.Sprintf("no current-user-principal at %s", candidate))
			continue
		case 1:
			return absoluteURL(candidate, resp.PrincipalHrefs[0]), nil
		default:
			return "", errs.New(errs.Discovery, op,
				fmt.Sprintf("ambiguous current-user-principal at %s (%d hrefs)", candidate, len(resp.PrincipalHrefs)))
		}
	}

	if lastErr != nil {
		return "", errs.Wrap(errs.Discovery, op, lastErr)
	}
	return "", errs.New(errs.Discovery, op, "could not resolve current-user-principal")
}

func resolveHomeSet(ctx context.Context, wrapper httpclient.HttpClientWrapper, principalURL string) (string, error) {
	const op = "davclient.resolveHomeSet"

	resp, err := wrapper.DoPROPFIND(ctx, principalURL, 0, "calendar-home-set")
	if err != nil {
		return "", errs.Wrap(errs.Discovery, op, err)
	}
	if len(resp.HomeSetHrefs) == 0 {
		return "", errs.New(errs.Discovery, op, "no calendar-home-set on principal")
	}
	return absoluteURL(principalURL, resp.HomeSetHrefs[0]), nil
}

func listCalendars(ctx context.Context, wrapper httpclient.HttpClientWrapper, homeSetURL string) ([]CalendarInfo, error) {
	const op = "davclient.listCalendars"

	resp, err := wrapper.DoPROPFIND(ctx, homeSetURL, 1,
		"resourcetype",
		"displayname",
		"calendar-color",
		"getctag",
		"sync-token",
		"current-user-privilege-set")
	if err != nil {
		return nil, errs.Wrap(errs.Discovery, op, err)
	}

	calendars := make([]CalendarInfo, 0)
	for uri, resource := range resp.Resources {
		if !resource.IsCalendar {
			continue
		}
		calendars = append(calendars, CalendarInfo{
			URI:       absoluteURL(homeSetURL, uri),
			Name:      resource.DisplayName,
			Color:     optional(resource.Color),
			CTag:      optional(resource.CTag),
			SyncToken: optional(resource.SyncToken),
			ReadOnly:  !resource.CanWrite,
		})
	}

	return calendars, nil
}

// absoluteURL resolves a possibly relative href against its source URL.
func absoluteURL(base, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}

func optional(s string) mo.Option[string] {
	if s == "" {
		return mo.None[string]()
	}
	return mo.Some(s)
}
