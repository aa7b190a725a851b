package models

// SKUOutcome is the terminal state of one SKU within a job.
type SKUOutcome string

const (
	OutcomeLinked           SKUOutcome = "linked"
	OutcomeAlreadyHasImages SKUOutcome = "already_has_images"
	OutcomeNoCatalogRecord  SKUOutcome = "no_catalog_record"
	OutcomeNoImagesResolved SKUOutcome = "no_images_resolved"
	OutcomeDuplicate        SKUOutcome = "duplicate"
	OutcomeLookupFailed     SKUOutcome = "lookup_failed"
	OutcomeUploadFailed     SKUOutcome = "upload_failed"
	OutcomeLinkFailed       SKUOutcome = "link_failed"
	OutcomeCancelled        SKUOutcome = "cancelled"
)

// SKUResult records what happened to one spreadsheet SKU.
type SKUResult struct {
	SKU            string     `json:"sku"`
	Row            int        `json:"row"`
	Outcome        SKUOutcome `json:"outcome"`
	ResolvedURLs   []string   `json:"resolved_urls,omitempty"`
	ImageIDs       []string   `json:"image_ids,omitempty"`
	LinkedVariants []string   `json:"linked_variants,omitempty"`
	FailedVariants []string   `json:"failed_variants,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// JobSummary is returned to the status surface in place of a bare done flag.
type JobSummary struct {
	TotalRows      int         `json:"total_rows"`
	MalformedRows  int         `json:"malformed_rows"`
	Processed      int         `json:"processed"`
	Skipped        int         `json:"skipped"`
	Failed         int         `json:"failed"`
	Cancelled      int         `json:"cancelled"`
	ImagesUploaded int         `json:"images_uploaded"`
	VariantsLinked int         `json:"variants_linked"`
	Results        []SKUResult `json:"results,omitempty"`
}

// Record appends r and bumps the counter matching its outcome.
func (s *JobSummary) Record(r SKUResult) {
	s.Results = append(s.Results, r)
	s.ImagesUploaded += len(r.ImageIDs)
	s.VariantsLinked += len(r.LinkedVariants)

	switch r.Outcome {
	case OutcomeLinked:
		s.Processed++
	case OutcomeAlreadyHasImages, OutcomeNoCatalogRecord, OutcomeNoImagesResolved, OutcomeDuplicate:
		s.Skipped++
	case OutcomeCancelled:
		s.Cancelled++
	default:
		s.Failed++
	}
}

// Clone deep-copies the summary, including per-SKU slices.
func (s *JobSummary) Clone() *JobSummary {
	if s == nil {
		return nil
	}
	c := *s
	if s.Results != nil {
		c.Results = make([]SKUResult, len(s.Results))
		for i, r := range s.Results {
			r.ResolvedURLs = append([]string(nil), r.ResolvedURLs...)
			r.ImageIDs = append([]string(nil), r.ImageIDs...)
			r.LinkedVariants = append([]string(nil), r.LinkedVariants...)
			r.FailedVariants = append([]string(nil), r.FailedVariants...)
			c.Results[i] = r
		}
	}
	return &c
}
