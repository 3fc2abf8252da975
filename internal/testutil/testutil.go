// Package testutil provides common test utilities and helpers for Makeriess tests.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/tonytanb/makeriess-marketplace-sub000/internal/models"
)

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes the response envelope and validates its status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) models.APIResponse {
	t.Helper()
	var response models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode JSON response %q: %v", rr.Body.String(), err)
	}
	if response.Status != string(expectedStatus) {
		t.Errorf("expected status '%s', got '%s' (message %q)", expectedStatus, response.Status, response.Message)
	}
	return response
}

// DecodeResult decodes the result field of a response envelope into target.
func DecodeResult(t *testing.T, rr *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode JSON response %q: %v", rr.Body.String(), err)
	}
	if err := json.Unmarshal(envelope.Result, target); err != nil {
		t.Fatalf("failed to decode result %s: %v", envelope.Result, err)
	}
}

// Origin is a fake storefront origin.
type Origin struct {
	URL      *url.URL
	requests atomic.Int32
}

// Requests returns how many requests the origin has served.
func (o *Origin) Requests() int {
	return int(o.requests.Load())
}

// NewOrigin starts an origin answering every path with the body
// "asset <path>", except paths listed in missing, which get a 404.
func NewOrigin(t *testing.T, missing ...string) *Origin {
	t.Helper()
	o := &Origin{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.requests.Add(1)
		for _, m := range missing {
			if r.URL.Path == m {
				http.NotFound(w, r)
				return
			}
		}
		io.WriteString(w, "asset "+r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	o.URL, _ = url.Parse(srv.URL)
	return o
}
