// Package utils provides utility functions for the application.
package utils

import (
	"time"
)

// UTCNow returns the current time in UTC. All persisted instants go through
// this so comparisons against database values never mix locations.
func UTCNow() time.Time {
	return time.Now().UTC()
}
