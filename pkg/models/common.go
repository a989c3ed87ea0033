package models

import (
	"github.com/golang-jwt/jwt/v4"
)

// FieldError is a single field-level validation failure, shaped for direct
// display in the UI.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// RecordError is a per-record failure accumulated during a bulk operation.
// Index is the record's position in the source file, 1-based.
type RecordError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sessionID"`
	UserID    int    `json:"userID"`
}
