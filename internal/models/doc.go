// Package models defines the domain types for mdlm.
package models

// Document represents a knowledge-base document as stored by the remote
// service. Version is bumped by the server on every successful update.
type Document struct {
	ID       string `json:"id"`
	Version  int    `json:"version"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Content  string `json:"content"`
}

// Categories is the closed set of domain tags the service accepts.
var Categories = []string{
	"architecture",
	"business_logic",
	"dependencies",
	"deployment",
	"error_handling",
	"general",
	"security",
	"stack",
	"style",
	"testing",
}

// CategoryGeneral is the fallback category for files whose path does not
// encode a known category.
const CategoryGeneral = "general"

var categorySet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Categories))
	for _, c := range Categories {
		m[c] = struct{}{}
	}
	return m
}()

// ValidCategory reports whether c is one of the fixed categories.
func ValidCategory(c string) bool {
	_, ok := categorySet[c]
	return ok
}

// QueryResult is the response payload of the knowledge query endpoint.
type QueryResult struct {
	Answer      string `json:"answer"`
	GapDetected bool   `json:"gap_detected"`
}

// Violation is a single rule violation reported by code validation.
type Violation struct {
	Rule          string `json:"rule"`
	Message       string `json:"message"`
	FixSuggestion string `json:"fix_suggestion,omitempty"`
}

// ValidationResult is the response payload of the code validation endpoint.
type ValidationResult struct {
	Status        string      `json:"status"`
	Violations    []Violation `json:"violations"`
	FixSuggestion string      `json:"fix_suggestion,omitempty"`
}

// GapResolution is the response payload of the gap resolution endpoint.
type GapResolution struct {
	GapDetected    bool   `json:"gap_detected"`
	ResolutionMode string `json:"resolution_mode"`
	Resolution     string `json:"resolution,omitempty"`
	GapID          string `json:"gap_id,omitempty"`
}
