package repository

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/agmm7834/MyNetBoot-v2/internal/model"
)

// Seeder is implemented by both account stores.
type Seeder interface {
	Count(ctx context.Context) (int64, error)
	Create(ctx context.Context, a *model.Account) (*model.Account, error)
}

// DemoAccounts returns the accounts inserted into an empty store.
func DemoAccounts() []model.Account {
	return []model.Account{
		{Surname: "Karimov", GivenName: "Javlon", Phone: "901234567", Password: "abc123", Balance: 5000, Status: model.AccountActive},
		{Surname: "Saidova", GivenName: "Malika", Phone: "902345678", Password: "xyz789", Balance: 3000, Status: model.AccountActive},
		{Surname: "Rahimov", GivenName: "Sardor", Phone: "903456789", Password: "qwe456", Balance: 1500, Status: model.AccountBlocked},
	}
}

// Seed inserts accounts only when the store has none. It returns how many were inserted.
func Seed(ctx context.Context, s Seeder, accounts []model.Account) (int, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}

	for i := range accounts {
		if _, err := s.Create(ctx, &accounts[i]); err != nil {
			return i, fmt.Errorf("failed to seed account %s: %w", accounts[i].Phone, err)
		}
	}

	log.Info().Int("count", len(accounts)).Msg("Seeded demo accounts")
	return len(accounts), nil
}
