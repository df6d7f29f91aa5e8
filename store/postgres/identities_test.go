package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/atlasauth"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLink() atlasauth.LinkedIdentity {
	expires := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	return atlasauth.LinkedIdentity{
		UserID:            testUserID,
		Provider:          "google",
		ProviderAccountID: "g-123",
		AccessToken:       "at",
		RefreshToken:      "rt",
		IDToken:           "idt",
		TokenType:         "Bearer",
		Scope:             "openid email",
		ExpiresAt:         &expires,
	}
}

func linkArgs(l atlasauth.LinkedIdentity) []any {
	return []any{
		l.Provider, l.ProviderAccountID, l.UserID, l.AccessToken, l.RefreshToken,
		l.IDToken, l.TokenType, l.Scope, l.ExpiresAt,
	}
}

func TestLinkedIdentityRepository_Find(t *testing.T) {
	mock := newMockPool(t)
	repo := NewLinkedIdentityRepository(mock)
	l := sampleLink()

	rows := pgxmock.NewRows([]string{
		"user_id", "provider", "provider_account_id", "access_token", "refresh_token",
		"id_token", "token_type", "scope", "expires_at",
	}).AddRow(l.UserID, l.Provider, l.ProviderAccountID, l.AccessToken, l.RefreshToken,
		l.IDToken, l.TokenType, l.Scope, l.ExpiresAt)

	mock.ExpectQuery("SELECT .+ FROM linked_identities").
		WithArgs("google", "g-123").
		WillReturnRows(rows)

	got, err := repo.FindLinkedIdentity(context.Background(), "google", "g-123")
	require.NoError(t, err)
	assert.Equal(t, l.UserID, got.UserID)
	assert.Equal(t, l.Scope, got.Scope)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLinkedIdentityRepository_Find_NotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := NewLinkedIdentityRepository(mock)

	mock.ExpectQuery("SELECT .+ FROM linked_identities").
		WithArgs("google", "missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.FindLinkedIdentity(context.Background(), "google", "missing")
	assert.ErrorIs(t, err, atlasauth.ErrNotFound)
}

func TestLinkedIdentityRepository_Create(t *testing.T) {
	tests := []struct {
		name    string
		result  pgconn.CommandTag
		err     error
		want    atlasauth.LinkOutcome
		wantErr bool
	}{
		{name: "inserted", result: pgxmock.NewResult("INSERT", 1), want: atlasauth.LinkCreated},
		{name: "on conflict do nothing", result: pgxmock.NewResult("INSERT", 0), want: atlasauth.LinkConflict},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: atlasauth.LinkConflict},
		{name: "backend down", err: errors.New("dial tcp: refused"), want: atlasauth.LinkConflict, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockPool(t)
			repo := NewLinkedIdentityRepository(mock)
			l := sampleLink()

			exp := mock.ExpectExec("INSERT INTO linked_identities").WithArgs(linkArgs(l)...)
			if tt.err != nil {
				exp.WillReturnError(tt.err)
			} else {
				exp.WillReturnResult(tt.result)
			}

			got, err := repo.CreateLinkedIdentity(context.Background(), l)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
