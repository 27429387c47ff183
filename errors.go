package activitystore

import "github.com/aweris/activitystore/internal/fault"

var (
	ErrInvalidObject     = fault.ErrInvalidObject
	ErrInvalidQuery      = fault.ErrInvalidQuery
	ErrInvalidCollection = fault.ErrInvalidCollection
	ErrNotFound          = fault.ErrNotFound
	ErrBackend           = fault.ErrBackend
)
