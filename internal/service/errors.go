package service

import "errors"

var (
	// ErrGrantConflict means the user already holds an active grant. Callers
	// revoke first or call Renew; grants are never auto-revoked here.
	ErrGrantConflict = errors.New("user already has an active grant")

	// ErrUserDisabled means the operator kill switch is set for this user.
	ErrUserDisabled = errors.New("user is disabled")

	// ErrNoActiveGrant means the user holds no active grant.
	ErrNoActiveGrant = errors.New("no active grant")

	// ErrEntitlementLookup means the membership source could not be consulted.
	// Access decisions treat this as not-entitled, but it is logged apart from
	// a confirmed negative.
	ErrEntitlementLookup = errors.New("entitlement lookup failed")
)
