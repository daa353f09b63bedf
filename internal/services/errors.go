// Package services defines the business logic for chats and their entries.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into wire-level replies is performed at the protocol dispatcher boundary.
package services

import "errors"

// Chat-related errors.
var (
	// ErrChatNotFound indicates that the requested chat does not exist.
	ErrChatNotFound = errors.New("chat not found")

	// ErrEmptyPrompt is returned when a generation request carries an
	// empty prompt.
	ErrEmptyPrompt = errors.New("prompt is empty")
)
