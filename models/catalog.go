package models

// SKUEntry is one usable data row from the input spreadsheet.
type SKUEntry struct {
	// Row is the 1-based line in the source file; the header is row 1.
	Row int `json:"row"`
	// Raw is the trimmed column 0 value used to filter catalog variants.
	Raw string `json:"raw"`
	// Key is the CDN-safe form of Raw.
	Key string `json:"key"`
}

// CatalogVariant is a sellable unit in the remote catalog.
type CatalogVariant struct {
	ID       string   `json:"id"`
	ItemID   string   `json:"item_id"`
	ImageIDs []string `json:"image_ids"`
}

// CatalogRecord groups every variant returned for one SKU filter.
type CatalogRecord struct {
	SKU      string           `json:"sku"`
	ItemID   string           `json:"item_id"`
	Variants []CatalogVariant `json:"variants"`
}

// VariantIDs lists the variant ids in catalog order.
func (r *CatalogRecord) VariantIDs() []string {
	ids := make([]string, 0, len(r.Variants))
	for _, v := range r.Variants {
		ids = append(ids, v.ID)
	}
	return ids
}

// UploadedImage is a catalog image resource created from a CDN URL.
type UploadedImage struct {
	ID  string `json:"id"`
	Src string `json:"src"`
}
