package services

import (
	"fmt"
	"strings"

	"github.com/pilievwm/ccimageupload/models"
)

// NormalizeSKU returns column 0 of row in its CDN-safe form. CDN asset paths
// cannot contain "..", so every occurrence becomes "_".
func NormalizeSKU(row []string) (string, error) {
	raw, err := rawSKU(row)
	if err != nil {
		return "", err
	}
	return CDNKey(raw), nil
}

// CDNKey maps a raw SKU onto the key used in CDN asset paths.
func CDNKey(raw string) string {
	return strings.ReplaceAll(raw, "..", "_")
}

// NewSKUEntry builds the entry for data row rowNum.
func NewSKUEntry(rowNum int, row []string) (models.SKUEntry, error) {
	raw, err := rawSKU(row)
	if err != nil {
		return models.SKUEntry{}, fmt.Errorf("row %d: %w", rowNum, err)
	}
	return models.SKUEntry{Row: rowNum, Raw: raw, Key: CDNKey(raw)}, nil
}

func rawSKU(row []string) (string, error) {
	if len(row) == 0 {
		return "", fmt.Errorf("%w: no columns", ErrMalformedRow)
	}
	sku := strings.TrimSpace(row[0])
	if sku == "" {
		return "", fmt.Errorf("%w: first column is empty", ErrMalformedRow)
	}
	return sku, nil
}
