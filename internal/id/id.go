package id

import "github.com/segmentio/ksuid"

// New returns a time-sortable unique identifier.
func New() string {
	return ksuid.New().String()
}
