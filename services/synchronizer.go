package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pilievwm/ccimageupload/models"
	"github.com/pilievwm/ccimageupload/providers"

	"go.uber.org/zap"
)

// IdempotencyPolicy decides which variants are inspected for existing images.
type IdempotencyPolicy string

const (
	// PolicyAnyVariant skips a SKU when any of its variants has an image.
	PolicyAnyVariant IdempotencyPolicy = "any"
	// PolicyFirstVariant only inspects the first variant returned.
	PolicyFirstVariant IdempotencyPolicy = "first"
)

// ParseIdempotencyPolicy parses a configured policy name. Empty means any.
func ParseIdempotencyPolicy(s string) (IdempotencyPolicy, error) {
	switch IdempotencyPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyAnyVariant:
		return PolicyAnyVariant, nil
	case PolicyFirstVariant:
		return PolicyFirstVariant, nil
	default:
		return "", fmt.Errorf("unknown idempotency policy %q", s)
	}
}

// HasImages reports whether the SKU's imagery is already satisfied.
func (p IdempotencyPolicy) HasImages(variants []models.CatalogVariant) bool {
	if len(variants) == 0 {
		return false
	}
	if p == PolicyFirstVariant {
		return len(variants[0].ImageIDs) > 0
	}
	for _, v := range variants {
		if len(v.ImageIDs) > 0 {
			return true
		}
	}
	return false
}

// URLResolver finds the CDN images of a SKU key.
type URLResolver interface {
	Resolve(ctx context.Context, key string) ([]string, error)
}

// SKUSynchronizer brings one SKU's catalog imagery in line with the CDN.
type SKUSynchronizer struct {
	catalog  providers.CatalogProvider
	resolver URLResolver
	policy   IdempotencyPolicy
	logger   *zap.Logger
}

// NewSKUSynchronizer creates a new SKUSynchronizer.
func NewSKUSynchronizer(catalog providers.CatalogProvider, resolver URLResolver, policy IdempotencyPolicy, logger *zap.Logger) *SKUSynchronizer {
	if policy == "" {
		policy = PolicyAnyVariant
	}
	return &SKUSynchronizer{catalog: catalog, resolver: resolver, policy: policy, logger: logger}
}

// Sync runs lookup, guard, resolve, upload and link for one SKU. It never
// returns an error; the outcome and cause are carried in the result.
//
// Once the first image has been created the remaining writes ignore ctx
// cancellation, so a SKU is never left with uploaded but unlinked images
// because of a cancel. Each request is still bounded by its own timeout.
func (s *SKUSynchronizer) Sync(ctx context.Context, entry models.SKUEntry) models.SKUResult {
	res := models.SKUResult{SKU: entry.Raw, Row: entry.Row}
	log := s.logger.With(zap.String("sku", entry.Raw), zap.Int("row", entry.Row))

	if err := ctx.Err(); err != nil {
		return cancelled(res, err)
	}

	record, err := s.lookup(ctx, entry.Raw)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(res, ctx.Err())
		}
		res.Error = err.Error()
		if errors.Is(err, ErrNoCatalogRecord) {
			log.Info("No catalog record found, skipping")
			res.Outcome = models.OutcomeNoCatalogRecord
			return res
		}
		log.Error("Catalog lookup failed", zap.Error(err))
		res.Outcome = models.OutcomeLookupFailed
		return res
	}

	if s.policy.HasImages(record.Variants) {
		log.Info("SKU already has images, skipping")
		res.Outcome = models.OutcomeAlreadyHasImages
		return res
	}

	urls, err := s.resolver.Resolve(ctx, entry.Key)
	if err != nil {
		// Only cancellation interrupts a resolve; nothing was written yet.
		return cancelled(res, err)
	}
	res.ResolvedURLs = urls
	if len(urls) == 0 {
		log.Info("No images resolved on CDN, skipping")
		res.Outcome = models.OutcomeNoImagesResolved
		return res
	}

	writeCtx := context.WithoutCancel(ctx)

	imageIDs, err := s.upload(writeCtx, record.ItemID, urls, log)
	res.ImageIDs = imageIDs
	if err != nil {
		res.Outcome = models.OutcomeUploadFailed
		res.Error = err.Error()
		return res
	}

	linked, failed, err := s.link(writeCtx, record.VariantIDs(), imageIDs, log)
	res.LinkedVariants = linked
	res.FailedVariants = failed
	if err != nil {
		res.Outcome = models.OutcomeLinkFailed
		res.Error = err.Error()
		return res
	}

	log.Info("Images linked to variants", zap.Strings("image_ids", imageIDs), zap.Strings("variant_ids", linked))
	res.Outcome = models.OutcomeLinked
	return res
}

func (s *SKUSynchronizer) lookup(ctx context.Context, sku string) (*models.CatalogRecord, error) {
	variants, err := s.catalog.FindVariantsBySKU(ctx, sku)
	if err != nil {
		return nil, err
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCatalogRecord, sku)
	}
	return &models.CatalogRecord{SKU: sku, ItemID: variants[0].ItemID, Variants: variants}, nil
}

// upload creates one image per URL in order and stops at the first failure.
// The ids created before a failure are returned with the error.
func (s *SKUSynchronizer) upload(ctx context.Context, itemID string, urls []string, log *zap.Logger) ([]string, error) {
	if itemID == "" {
		log.Error("Catalog record has no item_id, not uploading")
		return nil, fmt.Errorf("%w: catalog record has no item_id", ErrUploadFailure)
	}

	ids := make([]string, 0, len(urls))
	for _, u := range urls {
		img, err := s.catalog.CreateImage(ctx, u, itemID)
		if err != nil {
			log.Error("Image upload failed, aborting SKU",
				zap.String("url", u),
				zap.Strings("uploaded_image_ids", ids),
				zap.Error(err),
			)
			return ids, fmt.Errorf("%w: %s: %w", ErrUploadFailure, u, err)
		}
		ids = append(ids, img.ID)
	}
	return ids, nil
}

// link gives every variant the identical full image set. A failed variant
// does not stop the others.
func (s *SKUSynchronizer) link(ctx context.Context, variantIDs, imageIDs []string, log *zap.Logger) (linked, failed []string, err error) {
	var errs []error
	for _, vid := range variantIDs {
		if lerr := s.catalog.LinkVariantImages(ctx, vid, imageIDs); lerr != nil {
			log.Error("Variant link failed", zap.String("variant_id", vid), zap.Error(lerr))
			failed = append(failed, vid)
			errs = append(errs, fmt.Errorf("variant %s: %w", vid, lerr))
			continue
		}
		linked = append(linked, vid)
	}
	if len(errs) > 0 {
		return linked, failed, fmt.Errorf("%w: %w", ErrLinkFailure, errors.Join(errs...))
	}
	return linked, failed, nil
}

func cancelled(res models.SKUResult, err error) models.SKUResult {
	res.Outcome = models.OutcomeCancelled
	res.Error = err.Error()
	return res
}
