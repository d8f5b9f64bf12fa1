package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrMalformedFormat    = errors.New("malformed format")
	ErrUnsupportedFeature = errors.New("unsupported feature")
	ErrEmptyInput         = errors.New("empty input")
	ErrNoSourceFace       = errors.New("no face in source image")
	ErrProcessingFailed   = errors.New("processing failed")
	ErrExternalTool       = errors.New("external tool error")
	ErrValidation         = errors.New("validation error")
	ErrConfiguration      = errors.New("configuration error")
	ErrNotFound           = errors.New("not found")
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrProcessingFailed
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// HTTPStatus maps a job error to the transport status code the API should
// return. Input problems the caller can fix map to 400, missing resources to
// 404, everything else to 500.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNoSourceFace),
		errors.Is(err, ErrMalformedFormat),
		errors.Is(err, ErrUnsupportedFeature),
		errors.Is(err, ErrEmptyInput),
		errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// IsUserError reports whether the failure should be presented as a problem with
// the submitted inputs rather than a pipeline fault.
func IsUserError(err error) bool {
	return HTTPStatus(err) == http.StatusBadRequest
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
