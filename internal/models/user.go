package models

import "time"

// User is an identity known to the membership source. The entitlement flag
// (IsSubscribed) is written only by the entitlement re-check path; IsActive is
// an operator kill switch and is written only by an administrator.
type User struct {
	ID         string
	TelegramID string
	Username   string

	IsActive     bool
	IsAdmin      bool
	IsSubscribed bool

	// Last time the membership source was consulted for this user
	SubscriptionCheckedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
