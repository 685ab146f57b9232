package model

import "github.com/google/uuid"

// NewID returns a new opaque entity identifier. All entities in this
// package use string ids minted this way.
func NewID() string {
	return uuid.NewString()
}
