package utils

import "time"

// SuccessResponse is the envelope every oracle endpoint answers with.
type SuccessResponse struct {
	Success bool  `json:"success"`
	Data    any   `json:"data"`
	Meta    *Meta `json:"meta,omitempty"`
}

type ErrorResponse struct {
	Success bool     `json:"success"`
	Error   APIError `json:"error"`
}

// APIError.Retryable marks failures where resending the same request later
// can succeed, such as a busy claim lock or a failed transfer.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	Page      *Page     `json:"page,omitempty"`
}

// Page echoes the window a list endpoint served. Count is the number of items
// in this response, not the total.
type Page struct {
	Count  int `json:"count"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset"`
}

func CreateErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{
		Error: APIError{Code: code, Message: message},
	}
}

func CreateRetryableErrorResponse(code, message string) ErrorResponse {
	resp := CreateErrorResponse(code, message)
	resp.Error.Retryable = true
	return resp
}

func CreateSuccessResponse(data any) SuccessResponse {
	return SuccessResponse{
		Success: true,
		Data:    data,
		Meta:    &Meta{Timestamp: time.Now()},
	}
}

func CreateListResponse[T any](items []T, limit, offset int) SuccessResponse {
	if items == nil {
		items = []T{}
	}
	resp := CreateSuccessResponse(items)
	resp.Meta.Page = &Page{Count: len(items), Limit: limit, Offset: offset}
	return resp
}
