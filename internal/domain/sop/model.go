package sop

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle of an SOP document.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

var (
	ErrNotFound = errors.New("sop not found")
	ErrInvalid  = errors.New("invalid sop")
	ErrArchived = errors.New("sop is archived")
)

// SOP owns a set of rules extracted from one procedure document. It becomes
// active when the first of its rules is approved.
type SOP struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Organization string    `json:"organization,omitempty"`
	Department   string    `json:"department,omitempty"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
