// Package server provides the HTTP API for submitting content and following
// its upload. It includes handlers, middleware, routes, and DTOs separated
// from domain types.
package server

import "time"

// SubmissionRequest is the metadata of a new submission. It is sent as the
// "meta" part of a multipart request, or as the whole JSON body for
// text-only content.
type SubmissionRequest struct {
	// FormID identifies the creation form; one operation per form may be in flight.
	FormID string `json:"form_id" validate:"omitempty,max=128"`
	// Type is the content type being created.
	Type string `json:"type" validate:"required,oneof=post track note"`
	// Title is the track title or post headline.
	Title string `json:"title" validate:"max=200"`
	// Author is the performing or credited artist.
	Author string `json:"author" validate:"max=200"`
	// Caption is free text shown with the record.
	Caption string `json:"caption" validate:"max=2000"`
	// Showcase pins the record to the owner's profile.
	Showcase bool `json:"showcase"`
	// MediaKind overrides the kind sniffed from the uploaded file.
	MediaKind string `json:"media_kind" validate:"omitempty,oneof=image video audio"`
}

// ownerHeaders carries the identity set by the upstream gateway.
type ownerHeaders struct {
	ID   string `validate:"required,max=128"`
	Role string `validate:"omitempty,oneof=user moderator admin"`
}

// SubmissionResponse is the HTTP response after accepting a submission.
type SubmissionResponse struct {
	// ID is the task identifier.
	ID string `json:"id"`
	// State is the task state when the response was written.
	State string `json:"state"`
}

// FailureResponse describes why a task ended without a record.
type FailureResponse struct {
	Kind    string `json:"kind"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// TaskResponse is a snapshot of a submission. Progress is the fraction of
// the current attempt transferred, in [0,1].
type TaskResponse struct {
	ID          string           `json:"id"`
	FormID      string           `json:"form_id,omitempty"`
	Type        string           `json:"type"`
	State       string           `json:"state"`
	Terminal    bool             `json:"terminal"`
	Attempt     int              `json:"attempt"`
	MaxAttempts int              `json:"max_attempts"`
	Progress    float64          `json:"progress"`
	MediaRef    string           `json:"media_ref,omitempty"`
	RecordID    string           `json:"record_id,omitempty"`
	Error       *FailureResponse `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Active is the number of operations in flight.
	Active int `json:"active"`
}
