// Package crawler defines the domain types and collaborator interfaces shared by
// the profile crawler subsystems: search, extraction, persistence, and scheduling.
package crawler
