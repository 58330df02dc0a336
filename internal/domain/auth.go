package domain

import "encoding/json"

// TokenVerdict is the auth service answer for a token.
type TokenVerdict struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Valid reports whether the auth service accepted the token.
func (v *TokenVerdict) Valid() bool {
	return v != nil && v.Code == 200
}

// FileInfo describes the date range covered by an uploaded workbook.
type FileInfo struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}
