package postgres

import (
	"context"
	"errors"

	"github.com/MrEthical07/atlasauth"
	"github.com/jackc/pgx/v5"
)

// TwoFactorRepository implements atlasauth.TwoFactorRepository.
type TwoFactorRepository struct {
	db DB
}

func NewTwoFactorRepository(db DB) *TwoFactorRepository {
	return &TwoFactorRepository{db: db}
}

func (r *TwoFactorRepository) GetTwoFactor(ctx context.Context, userID string) (atlasauth.TwoFactorRecord, error) {
	query := `SELECT encrypted_secret, enabled, last_used_counter FROM two_factor WHERE user_id = $1`

	record := atlasauth.TwoFactorRecord{UserID: userID}
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&record.EncryptedSecret,
		&record.Enabled,
		&record.LastUsedCounter,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return atlasauth.TwoFactorRecord{}, atlasauth.ErrNotFound
		}
		return atlasauth.TwoFactorRecord{}, wrap("scan two-factor", err)
	}
	return record, nil
}

// SavePendingSecret replaces a pending secret and resets the counter. An
// enabled record is left untouched and reported as
// atlasauth.ErrTwoFactorAlreadyEnabled.
func (r *TwoFactorRepository) SavePendingSecret(ctx context.Context, userID, encryptedSecret string) error {
	query := `
		INSERT INTO two_factor (user_id, encrypted_secret, enabled, last_used_counter)
		VALUES ($1, $2, false, 0)
		ON CONFLICT (user_id) DO UPDATE
		SET encrypted_secret = EXCLUDED.encrypted_secret, enabled = false, last_used_counter = 0
		WHERE two_factor.enabled = false`

	ct, err := r.db.Exec(ctx, query, userID, encryptedSecret)
	if err != nil {
		return wrap("save pending secret", err)
	}
	if ct.RowsAffected() == 0 {
		return atlasauth.ErrTwoFactorAlreadyEnabled
	}
	return nil
}

func (r *TwoFactorRepository) EnableTwoFactor(ctx context.Context, userID string) error {
	query := `UPDATE two_factor SET enabled = true WHERE user_id = $1 AND encrypted_secret <> ''`

	ct, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return wrap("enable two-factor", err)
	}
	if ct.RowsAffected() == 0 {
		return atlasauth.ErrNotFound
	}
	return nil
}

// DisableTwoFactor deletes the secret and every recovery code in one
// transaction.
func (r *TwoFactorRepository) DisableTwoFactor(ctx context.Context, userID string) error {
	return inTx(ctx, r.db, "disable two-factor", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM two_factor WHERE user_id = $1`, userID)
		return err
	})
}

// UpdateLastUsedCounter advances the counter only forward, so two requests
// racing on the same code cannot both succeed.
func (r *TwoFactorRepository) UpdateLastUsedCounter(ctx context.Context, userID string, counter int64) (bool, error) {
	query := `UPDATE two_factor SET last_used_counter = $2 WHERE user_id = $1 AND last_used_counter < $2`

	ct, err := r.db.Exec(ctx, query, userID, counter)
	if err != nil {
		return false, wrap("update last used counter", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *TwoFactorRepository) ReplaceRecoveryCodes(ctx context.Context, userID string, codes []atlasauth.RecoveryCodeRecord) error {
	hashes := make([][]byte, len(codes))
	for i := range codes {
		hashes[i] = codes[i].Hash[:]
	}

	return inTx(ctx, r.db, "replace recovery codes", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID); err != nil {
			return err
		}
		if len(hashes) == 0 {
			return nil
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO recovery_codes (user_id, code_hash) SELECT $1, unnest($2::bytea[])`,
			userID, hashes,
		)
		return err
	})
}

// ConsumeRecoveryCode deletes the matching code. The row delete is the
// single-use guarantee: only one caller sees a row affected.
func (r *TwoFactorRepository) ConsumeRecoveryCode(ctx context.Context, userID string, hash [32]byte) (bool, error) {
	query := `DELETE FROM recovery_codes WHERE user_id = $1 AND code_hash = $2`

	ct, err := r.db.Exec(ctx, query, userID, hash[:])
	if err != nil {
		return false, wrap("consume recovery code", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *TwoFactorRepository) CountRecoveryCodes(ctx context.Context, userID string) (int, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM recovery_codes WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, wrap("count recovery codes", err)
	}
	return int(n), nil
}
