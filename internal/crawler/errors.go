package crawler

import "errors"

var (
	// ErrComplianceBlocked is returned when robots.txt disallows the requested path
	ErrComplianceBlocked = errors.New("path disallowed by robots.txt")
	// ErrRateLimited is returned when the server kept answering HTTP 429 past the retry budget
	ErrRateLimited = errors.New("rate limited by server")
	// ErrRunActive is returned when a crawl run is already in progress
	ErrRunActive = errors.New("a crawl run is already in progress")
	// ErrSlotNotFound is returned when a requested slot has not been written yet
	ErrSlotNotFound = errors.New("slot not found")
	// ErrNoRuns is returned when no run has finished yet
	ErrNoRuns = errors.New("no runs recorded")
)
