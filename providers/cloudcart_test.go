package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc, retry RetryPolicy) *CloudCartProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewCloudCartProvider(CloudCartOptions{
		BaseURL: srv.URL,
		APIKey:  "secret-key",
		Timeout: 2 * time.Second,
		Retry:   retry,
	}, zap.NewNop())
}

func TestFindVariantsBySKU_ParsesVariantsAndImages(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v2/variants", r.URL.Path)
		assert.Equal(t, "1011B..001", r.URL.Query().Get("filter[sku]"))
		assert.Equal(t, "images", r.URL.Query().Get("include"))
		assert.Equal(t, "secret-key", r.Header.Get("X-CloudCart-ApiKey"))
		assert.Equal(t, "application/vnd.api+json", r.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/vnd.api+json")
		_, _ = io.WriteString(w, `{"data":[
			{"type":"variants","id":"10","attributes":{"item_id":7},"relationships":{"images":{"data":[{"type":"images","id":"99"}]}}},
			{"type":"variants","id":11,"attributes":{"item_id":"7"},"relationships":{"images":{"data":null}}}
		]}`)
	}, NoRetry)

	variants, err := p.FindVariantsBySKU(context.Background(), "1011B..001")
	require.NoError(t, err)
	require.Len(t, variants, 2)

	assert.Equal(t, "10", variants[0].ID)
	assert.Equal(t, "7", variants[0].ItemID)
	assert.Equal(t, []string{"99"}, variants[0].ImageIDs)
	assert.Equal(t, "11", variants[1].ID)
	assert.Empty(t, variants[1].ImageIDs)
}

func TestFindVariantsBySKU_EmptyData(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[]}`)
	}, NoRetry)

	variants, err := p.FindVariantsBySKU(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, variants)
}

func TestFindVariantsBySKU_RetriesServerErrors(t *testing.T) {
	var calls int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"data":[]}`)
	}, RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond})

	_, err := p.FindVariantsBySKU(context.Background(), "SKU001")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFindVariantsBySKU_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}, RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond})

	_, err := p.FindVariantsBySKU(context.Background(), "SKU001")
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCreateImage_SendsJSONAPIBody(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v2/images", r.URL.Path)

		var body map[string]map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		data := body["data"]
		assert.Equal(t, "images", data["type"])
		assert.Equal(t, "https://cdn/x.jpg", data["attributes"].(map[string]interface{})["src"])
		product := data["relationships"].(map[string]interface{})["product"].(map[string]interface{})["data"].(map[string]interface{})
		assert.Equal(t, "products", product["type"])
		assert.Equal(t, "7", product["id"])

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"data":{"type":"images","id":501}}`)
	}, NoRetry)

	img, err := p.CreateImage(context.Background(), "https://cdn/x.jpg", "7")
	require.NoError(t, err)
	assert.Equal(t, "501", img.ID)
	assert.Equal(t, "https://cdn/x.jpg", img.Src)
}

func TestCreateImage_MissingIDIsAnError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"errors":[{"detail":"bad"}]}`)
	}, NoRetry)

	_, err := p.CreateImage(context.Background(), "https://cdn/x.jpg", "7")
	assert.ErrorIs(t, err, ErrMissingResourceID)
}

func TestCreateImage_IsNeverRetried(t *testing.T) {
	var calls int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, RetryPolicy{Attempts: 5, BaseDelay: time.Millisecond})

	_, err := p.CreateImage(context.Background(), "https://cdn/x.jpg", "7")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLinkVariantImages_ReplacesRelationship(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/v2/variants/42", r.URL.Path)

		var body variantUpdateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "variants", body.Data.Type)
		assert.Equal(t, "42", body.Data.ID)
		require.Len(t, body.Data.Relationships.Images.Data, 2)
		assert.Equal(t, resourceIdentifier{Type: "images", ID: "1"}, body.Data.Relationships.Images.Data[0])
		assert.Equal(t, resourceIdentifier{Type: "images", ID: "2"}, body.Data.Relationships.Images.Data[1])

		_, _ = io.WriteString(w, `{"data":{"type":"variants","id":"42"}}`)
	}, NoRetry)

	err := p.LinkVariantImages(context.Background(), "42", []string{"1", "2"})
	assert.NoError(t, err)
}

func TestResourceIDDecoding(t *testing.T) {
	cases := map[string]resourceID{
		`"abc"`: "abc",
		`12`:    "12",
		`null`:  "",
	}
	for in, want := range cases {
		var got resourceID
		require.NoError(t, json.Unmarshal([]byte(in), &got), in)
		assert.Equal(t, want, got, in)
	}

	var bad resourceID
	assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), &bad))
}
