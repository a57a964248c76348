package types

import "errors"

// Domain errors for type validation
var (
	// Commit record errors
	ErrEmptyCommitID = errors.New("commit id cannot be empty")

	// Match result errors
	ErrEmptyTargetID         = errors.New("target commit id cannot be empty")
	ErrInvalidConfidence     = errors.New("confidence must be between 0 and 1")
	ErrUnknownStrategy       = errors.New("unknown match strategy")
	ErrInvalidEdgeStrength   = errors.New("edge strength must be between 0 and 1")
	ErrEdgeEndpointsRequired = errors.New("edge endpoints are required")
)
