package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/okeeper/vpn-access-service/internal/models"
	"github.com/okeeper/vpn-access-service/internal/repository"
)

// MembershipChecker is the external membership signal (Telegram channels).
type MembershipChecker interface {
	CheckMembership(ctx context.Context, channelID, telegramID string) (bool, error)
}

// EntitlementService derives a user's entitlement from channel membership.
// A user is entitled when they belong to the primary channel or the mentor
// channel; either one is enough.
type EntitlementService struct {
	users           repository.UserStore
	telegram        MembershipChecker
	channelID       string
	mentorChannelID string
}

func NewEntitlementService(users repository.UserStore, telegram MembershipChecker, channelID, mentorChannelID string) *EntitlementService {
	return &EntitlementService{
		users:           users,
		telegram:        telegram,
		channelID:       channelID,
		mentorChannelID: mentorChannelID,
	}
}

// Check re-runs the membership lookups for one user and stamps the result on
// the user row. On lookup failure it returns ErrEntitlementLookup and leaves
// the stored flag untouched, so a later confirmed flip still notifies once.
func (s *EntitlementService) Check(ctx context.Context, user *models.User) (bool, error) {
	primary, primaryErr := s.telegram.CheckMembership(ctx, s.channelID, user.TelegramID)

	var secondary bool
	var secondaryErr error
	if s.mentorChannelID != "" {
		secondary, secondaryErr = s.telegram.CheckMembership(ctx, s.mentorChannelID, user.TelegramID)
	}

	entitled := primary || secondary

	// A failed lookup only matters if the other channel did not already
	// confirm membership.
	if !entitled && (primaryErr != nil || secondaryErr != nil) {
		err := primaryErr
		if err == nil {
			err = secondaryErr
		}
		log.Printf("[EntitlementService] Lookup failed for user %s: %v", user.ID, err)
		return false, fmt.Errorf("%w: %v", ErrEntitlementLookup, err)
	}

	if err := s.users.UpdateSubscription(ctx, user.ID, entitled, time.Now()); err != nil {
		log.Printf("[EntitlementService] Failed to stamp subscription check for user %s: %v", user.ID, err)
	}

	return entitled, nil
}
