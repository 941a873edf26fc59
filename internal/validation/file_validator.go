// Package validation checks uploads before they touch storage.
package validation

import (
	"path/filepath"
	"strings"

	apierrors "concentra/internal/errors"
)

// allowedExtensions are the ingestible file types.
var allowedExtensions = map[string]bool{
	".xlsx": true,
	".xls":  true,
	".csv":  true,
}

// ValidateUpload checks the filename extension and the declared size
// against the configured limit. Size zero means the caller could not
// determine it up front; the storage layer still enforces the limit.
func ValidateUpload(filename string, size, maxBytes int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return apierrors.Validationf("Unsupported file extension '%s'", ext)
	}
	if maxBytes > 0 && size > maxBytes {
		return apierrors.PayloadTooLargef("File exceeds the %d MiB limit", maxBytes>>20)
	}
	return nil
}

// IsSpreadsheet reports whether the filename is a spreadsheet rather
// than delimited text.
func IsSpreadsheet(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".xlsx" || ext == ".xls"
}
