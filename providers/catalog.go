package providers

import (
	"context"
	"errors"

	"github.com/pilievwm/ccimageupload/models"
)

// ErrMissingResourceID is returned when the catalog accepts a create call but
// the response carries no resource id.
var ErrMissingResourceID = errors.New("catalog response has no resource id")

// CatalogProvider defines the catalog operations the image sync needs.
type CatalogProvider interface {
	// FindVariantsBySKU returns every variant whose SKU matches, with the
	// ids of images already linked to it. No match is an empty slice.
	FindVariantsBySKU(ctx context.Context, sku string) ([]models.CatalogVariant, error)

	// CreateImage registers src as an image of product productID.
	CreateImage(ctx context.Context, src, productID string) (models.UploadedImage, error)

	// LinkVariantImages replaces the variant's image relationship with imageIDs.
	LinkVariantImages(ctx context.Context, variantID string, imageIDs []string) error
}
