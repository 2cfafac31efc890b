package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	errUnauthorised     = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorised", nil)
	errFileRequired     = domainError(http.StatusBadRequest, "FILE_REQUIRED", "File is required", nil)
	errUnsupportedType  = domainError(http.StatusBadRequest, "UNSUPPORTED_FILE_TYPE", "Unsupported file type", nil)
	errFileTooLarge     = domainError(http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File too large", nil)
	errUploadsDisabled  = domainError(http.StatusServiceUnavailable, "UPLOADS_DISABLED", "Uploads are not configured", nil)
	errInvalidAssetType = domainError(http.StatusBadRequest, "INVALID_TYPE", "type must be IMAGE, VIDEO or TEXT", nil)
)
