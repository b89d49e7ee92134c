package petals

import "context"

// Wallet returns the balance, lifetime-earned total, and the most recent
// ledger entries for the wallet UI.
func (service *Service) Wallet(requestContext context.Context, userID UserID, limit int) (Wallet, error) {
	user, err := service.store.GetOrCreateUser(requestContext, userID)
	if err != nil {
		return Wallet{}, err
	}
	entries, err := service.store.ListEntries(requestContext, userID, limit)
	if err != nil {
		return Wallet{}, err
	}
	return Wallet{
		Balance:        user.PetalBalance,
		LifetimeEarned: user.LifetimeEarned,
		Entries:        entries,
	}, nil
}

// ListEntries lists recent ledger entries for a user.
func (service *Service) ListEntries(requestContext context.Context, userID UserID, limit int) ([]Entry, error) {
	return service.store.ListEntries(requestContext, userID, limit)
}
