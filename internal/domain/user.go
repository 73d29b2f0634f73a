// Package domain contains entity without logic, just meta-data
package domain

// UserID is the server-issued account identifier. The client never creates
// or edits user records; participants and seats reference this alone.
type UserID string
