package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vibast-solutions/ms-go-tap-payments/app/entity"
)

type MerchantRepository struct {
	db DBTX
}

func NewMerchantRepository(db DBTX) *MerchantRepository {
	return &MerchantRepository{db: db}
}

func (r *MerchantRepository) FindByID(ctx context.Context, id string) (*entity.Merchant, error) {
	merchant := &entity.Merchant{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, wallet_address, lifetime_volume_minor, updated_at
		FROM merchants
		WHERE id = ?
	`, id).Scan(&merchant.ID, &merchant.WalletAddress, &merchant.LifetimeVolumeMinor, &merchant.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return merchant, nil
}

func (r *MerchantRepository) AddVolume(ctx context.Context, id string, amount int64, now time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE merchants SET lifetime_volume_minor = lifetime_volume_minor + ?, updated_at = ?
		WHERE id = ?
	`, amount, now, id)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrMerchantNotFound)
}

func (r *MerchantRepository) FindTerminal(ctx context.Context, terminalID string) (*entity.Terminal, error) {
	terminal := &entity.Terminal{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, merchant_id, active
		FROM terminals
		WHERE id = ?
	`, terminalID).Scan(&terminal.ID, &terminal.MerchantID, &terminal.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return terminal, nil
}
