package model

import "time"

// BaselineMetadata is the sidecar record stored next to a baseline image.
type BaselineMetadata struct {
	TestName string   `json:"test_name"`
	URL      string   `json:"url,omitempty"`
	Viewport Viewport `json:"viewport,omitempty"`

	Branch string `json:"branch"`
	Commit string `json:"commit,omitempty"`

	// Fingerprint of the stored image, for dedup checks without decoding.
	Fingerprint string `json:"fingerprint,omitempty"`

	SavedAt time.Time `json:"saved_at"`
}

// Baseline is the accepted-reference screenshot for a named test within a
// branch scope.
type Baseline struct {
	Image    []byte           `json:"-"`
	Metadata BaselineMetadata `json:"metadata"`

	// Found is false when no candidate branch held a baseline; callers may
	// create a fresh one in that case.
	Found bool `json:"found"`

	// Branch the baseline was actually loaded from (may be the fallback).
	LoadedFrom string `json:"loaded_from,omitempty"`
}

// BaselineInfo is a listing entry (metadata without the image bytes).
type BaselineInfo struct {
	TestName string    `json:"test_name"`
	Branch   string    `json:"branch"`
	SavedAt  time.Time `json:"saved_at"`
	Size     int64     `json:"size"`
}
