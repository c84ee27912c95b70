package corekit

import "context"

// Service represents a lifecycle-managed component that a Runner starts
// and stops deterministically. The HTTP ingress implements it; the
// heartbeat monitor (StartMonitoring/StopMonitoring) and the distributor
// do not.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ClampLimit returns defaultLimit when limit is non-positive, max when limit
// exceeds max, and limit otherwise.
func ClampLimit(limit, defaultLimit, max int) int {
	if defaultLimit <= 0 {
		defaultLimit = 25
	}
	if max <= 0 {
		max = defaultLimit
	}
	if limit <= 0 {
		return defaultLimit
	}
	if limit > max {
		return max
	}
	return limit
}
