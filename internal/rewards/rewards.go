// Package rewards holds the engagement call sites that grant petals: quest
// completion, achievement unlocks, and the daily-visit bonus. Each grant goes
// through the idempotent collector so a replayed completion never
// double-awards.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/otakumori/petals/internal/collect"
	"github.com/otakumori/petals/pkg/petals"
)

var (
	ErrUnknownQuest       = errors.New("unknown quest")
	ErrUnknownAchievement = errors.New("unknown achievement")
)

const (
	reasonPrefixQuest       = "quest"
	reasonPrefixAchievement = "achievement"
	questDailyVisit         = "daily"
)

// Quest is a petal-earning engagement action.
type Quest struct {
	ID     string
	Petals int64
	// Daily quests reset at UTC midnight; others award once per user.
	Daily bool
}

// Achievement awards petals once when unlocked.
type Achievement struct {
	ID     string
	Petals int64
}

// Granter is the collection surface rewards drive (satisfied by
// collect.Collector).
type Granter interface {
	Collect(ctx context.Context, userID petals.UserID, amount petals.Amount, reason petals.Reason, key petals.CollectKey, metadata petals.MetadataJSON) (petals.Receipt, bool, error)
}

// Service resolves quest and achievement IDs to petal grants.
type Service struct {
	granter      Granter
	quests       map[string]Quest
	achievements map[string]Achievement
	nowFn        func() time.Time
}

// NewService wires a reward Service over a catalog.
func NewService(granter Granter, quests []Quest, achievements []Achievement, now func() time.Time) (*Service, error) {
	if granter == nil {
		return nil, fmt.Errorf("%w: granter dependency is nil", petals.ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", petals.ErrInvalidServiceConfig)
	}
	questIndex := make(map[string]Quest, len(quests))
	for _, quest := range quests {
		questIndex[quest.ID] = quest
	}
	achievementIndex := make(map[string]Achievement, len(achievements))
	for _, achievement := range achievements {
		achievementIndex[achievement.ID] = achievement
	}
	return &Service{
		granter:      granter,
		quests:       questIndex,
		achievements: achievementIndex,
		nowFn:        now,
	}, nil
}

// DefaultQuests is the storefront's built-in quest catalog.
func DefaultQuests() []Quest {
	return []Quest{
		{ID: "first_visit", Petals: 50},
		{ID: questDailyVisit, Petals: 100, Daily: true},
		{ID: "profile_complete", Petals: 75},
		{ID: "first_order", Petals: 200},
	}
}

// DefaultAchievements is the storefront's built-in achievement catalog.
func DefaultAchievements() []Achievement {
	return []Achievement{
		{ID: "petal_collector", Petals: 150},
		{ID: "mini_game_master", Petals: 250},
		{ID: "avatar_stylist", Petals: 100},
	}
}

// CompleteQuest awards the quest's petals, at most once per reset window.
// The replayed return reports whether this completion had already been
// recorded.
func (service *Service) CompleteQuest(ctx context.Context, userID petals.UserID, questID string) (petals.Receipt, bool, error) {
	quest, exists := service.quests[questID]
	if !exists {
		return petals.Receipt{}, false, fmt.Errorf("%w: %q", ErrUnknownQuest, questID)
	}
	var (
		key petals.CollectKey
		err error
	)
	if quest.Daily {
		key, err = collect.DailyKey(reasonTag(reasonPrefixQuest, quest.ID), userID, service.nowFn())
	} else {
		key, err = collect.ActionKey(reasonTag(reasonPrefixQuest, quest.ID), userID)
	}
	if err != nil {
		return petals.Receipt{}, false, err
	}
	return service.grant(ctx, userID, quest.Petals, reasonTag(reasonPrefixQuest, quest.ID), key)
}

// UnlockAchievement awards the achievement's petals once per user.
func (service *Service) UnlockAchievement(ctx context.Context, userID petals.UserID, achievementID string) (petals.Receipt, bool, error) {
	achievement, exists := service.achievements[achievementID]
	if !exists {
		return petals.Receipt{}, false, fmt.Errorf("%w: %q", ErrUnknownAchievement, achievementID)
	}
	key, err := collect.ActionKey(reasonTag(reasonPrefixAchievement, achievement.ID), userID)
	if err != nil {
		return petals.Receipt{}, false, err
	}
	return service.grant(ctx, userID, achievement.Petals, reasonTag(reasonPrefixAchievement, achievement.ID), key)
}

func (service *Service) grant(ctx context.Context, userID petals.UserID, amount int64, reason string, key petals.CollectKey) (petals.Receipt, bool, error) {
	grantAmount, err := petals.NewAmount(amount)
	if err != nil {
		return petals.Receipt{}, false, err
	}
	grantReason, err := petals.NewReason(reason)
	if err != nil {
		return petals.Receipt{}, false, err
	}
	metadata, err := petals.NewMetadataJSON(fmt.Sprintf(`{"source":%q}`, reason))
	if err != nil {
		return petals.Receipt{}, false, err
	}
	return service.granter.Collect(ctx, userID, grantAmount, grantReason, key, metadata)
}

func reasonTag(prefix string, id string) string {
	return prefix + ":" + id
}
