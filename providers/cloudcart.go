package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pilievwm/ccimageupload/models"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	jsonAPIMediaType = "application/vnd.api+json"
	apiKeyHeader     = "X-CloudCart-ApiKey"

	// DefaultCatalogTimeout bounds one catalog request attempt.
	DefaultCatalogTimeout = 15 * time.Second
	// DefaultAPIPrefix is prepended to every resource path.
	DefaultAPIPrefix = "/api/v2"
)

// CloudCartOptions configures a CloudCartProvider.
type CloudCartOptions struct {
	BaseURL   string
	APIPrefix string
	APIKey    string
	Timeout   time.Duration
	Limiter   *rate.Limiter
	// Retry applies to GET and PATCH only. Image creation is never retried
	// so a lost response cannot produce a duplicate image.
	Retry RetryPolicy
}

// CloudCartProvider implements CatalogProvider against a JSON:API catalog.
type CloudCartProvider struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	limiter    *rate.Limiter
	retry      RetryPolicy
	httpClient *http.Client
	logger     *zap.Logger
}

// NewCloudCartProvider creates a new CloudCartProvider.
func NewCloudCartProvider(opts CloudCartOptions, logger *zap.Logger) *CloudCartProvider {
	prefix := opts.APIPrefix
	if prefix == "" {
		prefix = DefaultAPIPrefix
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultCatalogTimeout
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = NewLimiter(0)
	}
	return &CloudCartProvider{
		baseURL:    strings.TrimRight(opts.BaseURL, "/") + "/" + strings.Trim(prefix, "/"),
		apiKey:     opts.APIKey,
		timeout:    timeout,
		limiter:    limiter,
		retry:      opts.Retry,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// ---- JSON:API request/response structs ----

// resourceID decodes ids sent either as JSON strings or as bare numbers.
type resourceID string

func (id *resourceID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = resourceID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("resource id must be a string or number: %s", string(b))
	}
	*id = resourceID(n.String())
	return nil
}

type resourceIdentifier struct {
	Type string     `json:"type"`
	ID   resourceID `json:"id"`
}

type toManyRelationship struct {
	Data []resourceIdentifier `json:"data"`
}

type toOneRelationship struct {
	Data resourceIdentifier `json:"data"`
}

type variantResource struct {
	Type       string     `json:"type"`
	ID         resourceID `json:"id"`
	Attributes struct {
		ItemID resourceID `json:"item_id"`
	} `json:"attributes"`
	Relationships struct {
		Images toManyRelationship `json:"images"`
	} `json:"relationships"`
}

type variantListResponse struct {
	Data []variantResource `json:"data"`
}

type imageCreateRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			Src string `json:"src"`
		} `json:"attributes"`
		Relationships struct {
			Product toOneRelationship `json:"product"`
		} `json:"relationships"`
	} `json:"data"`
}

type imageCreateResponse struct {
	Data struct {
		Type string     `json:"type"`
		ID   resourceID `json:"id"`
	} `json:"data"`
}

type variantUpdateRequest struct {
	Data struct {
		Type          string `json:"type"`
		ID            string `json:"id"`
		Relationships struct {
			Images toManyRelationship `json:"images"`
		} `json:"relationships"`
	} `json:"data"`
}

// APIError is a non-2xx catalog response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("catalog API error (status %d): %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed if sent again.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ---- CatalogProvider implementation ----

// FindVariantsBySKU lists variants filtered by SKU, including their images.
func (p *CloudCartProvider) FindVariantsBySKU(ctx context.Context, sku string) ([]models.CatalogVariant, error) {
	q := url.Values{}
	q.Set("filter[sku]", sku)
	q.Set("include", "images")

	var resp variantListResponse
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		resp = variantListResponse{}
		return p.doRequest(ctx, http.MethodGet, "/variants", q, nil, &resp)
	}, p.retryable(ctx))
	if err != nil {
		return nil, fmt.Errorf("cloudcart FindVariantsBySKU: %w", err)
	}

	variants := make([]models.CatalogVariant, 0, len(resp.Data))
	for _, r := range resp.Data {
		v := models.CatalogVariant{
			ID:       string(r.ID),
			ItemID:   string(r.Attributes.ItemID),
			ImageIDs: make([]string, 0, len(r.Relationships.Images.Data)),
		}
		for _, img := range r.Relationships.Images.Data {
			v.ImageIDs = append(v.ImageIDs, string(img.ID))
		}
		variants = append(variants, v)
	}
	return variants, nil
}

// CreateImage registers a new image resource owned by productID.
func (p *CloudCartProvider) CreateImage(ctx context.Context, src, productID string) (models.UploadedImage, error) {
	var req imageCreateRequest
	req.Data.Type = "images"
	req.Data.Attributes.Src = src
	req.Data.Relationships.Product.Data = resourceIdentifier{Type: "products", ID: resourceID(productID)}

	var resp imageCreateResponse
	if err := p.doRequest(ctx, http.MethodPost, "/images", nil, req, &resp); err != nil {
		return models.UploadedImage{}, fmt.Errorf("cloudcart CreateImage: %w", err)
	}
	if resp.Data.ID == "" {
		return models.UploadedImage{}, fmt.Errorf("cloudcart CreateImage: %w", ErrMissingResourceID)
	}
	return models.UploadedImage{ID: string(resp.Data.ID), Src: src}, nil
}

// LinkVariantImages replaces the images relationship of one variant.
func (p *CloudCartProvider) LinkVariantImages(ctx context.Context, variantID string, imageIDs []string) error {
	var req variantUpdateRequest
	req.Data.Type = "variants"
	req.Data.ID = variantID
	req.Data.Relationships.Images.Data = make([]resourceIdentifier, 0, len(imageIDs))
	for _, id := range imageIDs {
		req.Data.Relationships.Images.Data = append(req.Data.Relationships.Images.Data, resourceIdentifier{Type: "images", ID: resourceID(id)})
	}

	path := "/variants/" + url.PathEscape(variantID)
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		return p.doRequest(ctx, http.MethodPatch, path, nil, req, nil)
	}, p.retryable(ctx))
	if err != nil {
		return fmt.Errorf("cloudcart LinkVariantImages: %w", err)
	}
	return nil
}

// ---- HTTP helper ----

func (p *CloudCartProvider) retryable(parent context.Context) func(error) bool {
	return func(err error) bool {
		if parent.Err() != nil {
			return false
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr.Temporary()
		}
		var decodeErr *decodeError
		return !errors.As(err, &decodeErr)
	}
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func (p *CloudCartProvider) doRequest(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	target := p.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, p.apiKey)
	req.Header.Set("Content-Type", jsonAPIMediaType)
	req.Header.Set("Accept", jsonAPIMediaType)

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	p.logger.Debug("catalog request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBytes)}
	}

	if out != nil && len(respBytes) > 0 {
		if err := json.Unmarshal(respBytes, out); err != nil {
			return &decodeError{err: err}
		}
	}
	return nil
}
