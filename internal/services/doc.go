// Package services provides shared error classification and context
// annotation helpers used by every pipeline stage.
package services
