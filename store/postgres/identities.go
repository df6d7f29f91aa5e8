package postgres

import (
	"context"
	"errors"

	"github.com/MrEthical07/atlasauth"
	"github.com/jackc/pgx/v5"
)

// LinkedIdentityRepository implements atlasauth.LinkedIdentityRepository.
// The (provider, provider_account_id) primary key settles concurrent links.
type LinkedIdentityRepository struct {
	db DB
}

func NewLinkedIdentityRepository(db DB) *LinkedIdentityRepository {
	return &LinkedIdentityRepository{db: db}
}

func (r *LinkedIdentityRepository) FindLinkedIdentity(ctx context.Context, provider, providerAccountID string) (atlasauth.LinkedIdentity, error) {
	query := `
		SELECT user_id, provider, provider_account_id, access_token, refresh_token, id_token, token_type, scope, expires_at
		FROM linked_identities
		WHERE provider = $1 AND provider_account_id = $2`

	var link atlasauth.LinkedIdentity
	err := r.db.QueryRow(ctx, query, provider, providerAccountID).Scan(
		&link.UserID,
		&link.Provider,
		&link.ProviderAccountID,
		&link.AccessToken,
		&link.RefreshToken,
		&link.IDToken,
		&link.TokenType,
		&link.Scope,
		&link.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return atlasauth.LinkedIdentity{}, atlasauth.ErrNotFound
		}
		return atlasauth.LinkedIdentity{}, wrap("scan linked identity", err)
	}
	return link, nil
}

// CreateLinkedIdentity inserts the link or reports LinkConflict when the
// provider account is already linked.
func (r *LinkedIdentityRepository) CreateLinkedIdentity(ctx context.Context, link atlasauth.LinkedIdentity) (atlasauth.LinkOutcome, error) {
	query := `
		INSERT INTO linked_identities (provider, provider_account_id, user_id, access_token, refresh_token, id_token, token_type, scope, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (provider, provider_account_id) DO NOTHING`

	ct, err := r.db.Exec(ctx, query,
		link.Provider,
		link.ProviderAccountID,
		link.UserID,
		link.AccessToken,
		link.RefreshToken,
		link.IDToken,
		link.TokenType,
		link.Scope,
		link.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return atlasauth.LinkConflict, nil
		}
		return atlasauth.LinkConflict, wrap("insert linked identity", err)
	}
	if ct.RowsAffected() == 0 {
		return atlasauth.LinkConflict, nil
	}
	return atlasauth.LinkCreated, nil
}
