package problem

import "net/http"

type InvalidParam struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type ErrorDetail struct {
	In       string `json:"in"`
	Location string `json:"location"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
}

// APIError implements error and RFC 7807 problem details.
type APIError struct {
	Title  string        `json:"title"`
	Status int           `json:"status"`
	Errors []ErrorDetail `json:"errors,omitempty"`
}

func (e APIError) Error() string { return e.Title }

func NewBadRequest(location, detail string, params ...InvalidParam) APIError {
	return APIError{
		Title:  "Request validation failed",
		Status: http.StatusBadRequest,
		Errors: toErrorDetails(params, detail, "body", location, "bad_request"),
	}
}

func NewNotFound(location, detail string, params ...InvalidParam) APIError {
	return APIError{
		Title:  "Resource Not Found",
		Status: http.StatusNotFound,
		Errors: toErrorDetails(params, detail, "path", location, "not_found"),
	}
}

func NewConflict(detail string) APIError {
	return APIError{
		Title:  "Conflict",
		Status: http.StatusConflict,
		Errors: toErrorDetails(nil, detail, "", "", "conflict"),
	}
}

func NewPreconditionFailed(detail string) APIError {
	return APIError{
		Title:  "Library not configured",
		Status: http.StatusPreconditionFailed,
		Errors: toErrorDetails(nil, detail, "", "", "not_configured"),
	}
}

func NewBadGateway(detail string) APIError {
	return APIError{
		Title:  "Upstream request failed",
		Status: http.StatusBadGateway,
		Errors: toErrorDetails(nil, detail, "", "", "upstream_error"),
	}
}

func NewInternalServerError(detail string) APIError {
	return APIError{
		Title:  "Internal Server Error",
		Status: http.StatusInternalServerError,
		Errors: toErrorDetails(nil, detail, "", "", "internal_error"),
	}
}

func NewUnauthorized(detail string) APIError {
	return APIError{
		Title:  "Unauthorized",
		Status: http.StatusUnauthorized,
		Errors: toErrorDetails(nil, detail, "header", "Authorization", "unauthorized"),
	}
}

func NewForbidden(location, detail string) APIError {
	return APIError{
		Title:  "Forbidden",
		Status: http.StatusForbidden,
		Errors: toErrorDetails(nil, detail, "header", location, "forbidden"),
	}
}

func toErrorDetails(params []InvalidParam, fallbackDetail, fallbackIn, fallbackLocation, fallbackCode string) []ErrorDetail {
	if len(params) == 0 {
		if fallbackDetail == "" {
			return nil
		}
		return []ErrorDetail{{
			In:       fallbackIn,
			Location: fallbackLocation,
			Code:     fallbackCode,
			Detail:   fallbackDetail,
		}}
	}
	out := make([]ErrorDetail, 0, len(params))
	for _, p := range params {
		out = append(out, ErrorDetail{
			In:       fallbackIn,
			Location: p.Name,
			Code:     fallbackCode,
			Detail:   p.Reason,
		})
	}
	return out
}
