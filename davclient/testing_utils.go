package davclient

import (
	"context"

	"github.com/beevik/etree"

	"davsync/internal/httpclient"
)

// Mock types for testing
type mockHTTPClient struct {
	propfindResponse *httpclient.PropfindResponse
	propfindErr      error
	reportResponse   *httpclient.ReportResponse
	reportErr        error
	putEtag          string
	putErr           error
	deleteErr        error

	// doPropfind, when set, overrides the canned propfind response.
	doPropfind func(url string, depth int, props ...string) (*httpclient.PropfindResponse, error)
	// lastReportBody records the serialized body of the last REPORT.
	lastReportBody string
	putCalls       []mockPutCall
	deleteCalls    []mockDeleteCall
}

type mockPutCall struct {
	url    string
	etag   string
	create bool
	data   []byte
}

type mockDeleteCall struct {
	url  string
	etag string
}

func (m *mockHTTPClient) DoPROPFIND(_ context.Context, url string, depth int, props ...string) (*httpclient.PropfindResponse, error) {
	if m.doPropfind != nil {
		return m.doPropfind(url, depth, props...)
	}
	return m.propfindResponse, m.propfindErr
}

func (m *mockHTTPClient) DoREPORT(_ context.Context, url string, depth int, body *etree.Document) (*httpclient.ReportResponse, error) {
	if s, err := body.WriteToString(); err == nil {
		m.lastReportBody = s
	}
	return m.reportResponse, m.reportErr
}

func (m *mockHTTPClient) DoPUT(_ context.Context, url string, etag string, create bool, data []byte) (string, error) {
	m.putCalls = append(m.putCalls, mockPutCall{url: url, etag: etag, create: create, data: data})
	return m.putEtag, m.putErr
}

func (m *mockHTTPClient) DoDELETE(_ context.Context, url string, etag string) error {
	m.deleteCalls = append(m.deleteCalls, mockDeleteCall{url: url, etag: etag})
	return m.deleteErr
}
