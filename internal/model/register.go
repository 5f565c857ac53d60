package model

import "sync"

var registerOnce sync.Once

// RegisterAll defines the framework models exactly once. Call it before
// opening environments or syncing the schema.
func RegisterAll() {
	registerOnce.Do(func() {
		defineRole()
		defineUser()
		defineAttachment()
	})
}
