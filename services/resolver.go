package services

import (
	"context"
	"net/http"
	"strings"

	"github.com/pilievwm/ccimageupload/providers"

	"go.uber.org/zap"
)

// DefaultCDNBaseURL is the asset root images are discovered under.
const DefaultCDNBaseURL = "https://images.asics.com/is/image/asics/"

// ZoomQuery is appended to every candidate so the CDN serves the full-size
// rendition.
const ZoomQuery = "?$zoom$"

// ImageSuffixes are the view codes in upload order. At most one asset per
// suffix is kept.
var ImageSuffixes = []string{
	"_SR_RT_GLB",
	"_SB_FR_GLB",
	"_SB_FL_GLB",
	"_SR_LT_GLB",
	"_SB_BK_GLB",
	"_SB_TP_GLB",
	"_SB_BT_GLB",
}

// Disambiguators are tried in order after each suffix.
var Disambiguators = []string{"", "-1", "-2"}

// ImageResolver discovers which candidate CDN assets exist for a SKU.
type ImageResolver struct {
	baseURL string
	prober  providers.Prober
	logger  *zap.Logger
}

// NewImageResolver creates a resolver rooted at baseURL.
func NewImageResolver(baseURL string, prober providers.Prober, logger *zap.Logger) *ImageResolver {
	if baseURL == "" {
		baseURL = DefaultCDNBaseURL
	}
	return &ImageResolver{
		baseURL: strings.TrimRight(baseURL, "/") + "/",
		prober:  prober,
		logger:  logger,
	}
}

// CandidateURL builds the probe URL for one (key, suffix, disambiguator).
func (r *ImageResolver) CandidateURL(key, suffix, disambiguator string) string {
	return r.baseURL + key + suffix + disambiguator + ZoomQuery
}

// CandidateURLs enumerates every candidate, suffix-major.
func (r *ImageResolver) CandidateURLs(key string) []string {
	urls := make([]string, 0, len(ImageSuffixes)*len(Disambiguators))
	for _, suffix := range ImageSuffixes {
		for _, d := range Disambiguators {
			urls = append(urls, r.CandidateURL(key, suffix, d))
		}
	}
	return urls
}

// Resolve returns the first URL answering 200 for each suffix, in suffix
// order. Probe failures are treated as misses. On cancellation the URLs
// found so far are returned with ctx.Err().
func (r *ImageResolver) Resolve(ctx context.Context, key string) ([]string, error) {
	var found []string
	for _, suffix := range ImageSuffixes {
		hit := false
		for _, d := range Disambiguators {
			if err := ctx.Err(); err != nil {
				return found, err
			}

			url := r.CandidateURL(key, suffix, d)
			status, err := r.prober.Probe(ctx, url)
			if err != nil {
				r.logger.Debug("Probe failed", zap.String("url", url), zap.Error(err))
				continue
			}
			if status == http.StatusOK {
				found = append(found, url)
				hit = true
				break
			}
		}
		if !hit {
			if err := ctx.Err(); err != nil {
				return found, err
			}
			r.logger.Info("No image found for suffix", zap.String("sku", key), zap.String("suffix", suffix))
		}
	}
	return found, nil
}
