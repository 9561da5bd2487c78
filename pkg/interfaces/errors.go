package interfaces

import "errors"

var (
	ErrInvalidToken         = errors.New("invalid or missing identity token")
	ErrNotificationNotFound = errors.New("notification not found")
)
