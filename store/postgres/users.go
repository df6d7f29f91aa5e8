package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/atlasauth"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, email, password_hash, display_name, role, email_verified_at, deleted_at`

// UserRepository implements atlasauth.UserRepository and
// atlasauth.PasswordHashUpdater.
type UserRepository struct {
	db DB
}

func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindUserByEmail(ctx context.Context, email string) (atlasauth.UserAccount, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	return r.scanUser(ctx, query, strings.TrimSpace(email))
}

func (r *UserRepository) FindUserByID(ctx context.Context, userID string) (atlasauth.UserAccount, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return atlasauth.UserAccount{}, atlasauth.ErrNotFound
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(ctx, query, userID)
}

// CreateUser inserts user, generating a UUID when user.ID is empty. A taken
// email returns atlasauth.ErrUserExists.
func (r *UserRepository) CreateUser(ctx context.Context, user atlasauth.UserAccount) (atlasauth.UserAccount, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = atlasauth.RoleUser
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	query := `
		INSERT INTO users (id, email, password_hash, display_name, role, email_verified_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.DisplayName,
		string(user.Role),
		user.EmailVerifiedAt,
		user.DeletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return atlasauth.UserAccount{}, atlasauth.ErrUserExists
		}
		return atlasauth.UserAccount{}, wrap("insert user", err)
	}
	return user, nil
}

// MarkEmailVerified stamps the first verification time; later calls keep it.
func (r *UserRepository) MarkEmailVerified(ctx context.Context, userID string, at time.Time) error {
	query := `UPDATE users SET email_verified_at = COALESCE(email_verified_at, $2) WHERE id = $1`

	ct, err := r.db.Exec(ctx, query, userID, at)
	if err != nil {
		return wrap("mark email verified", err)
	}
	if ct.RowsAffected() == 0 {
		return atlasauth.ErrNotFound
	}
	return nil
}

func (r *UserRepository) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	query := `UPDATE users SET password_hash = $2 WHERE id = $1`

	ct, err := r.db.Exec(ctx, query, userID, passwordHash)
	if err != nil {
		return wrap("update password hash", err)
	}
	if ct.RowsAffected() == 0 {
		return atlasauth.ErrNotFound
	}
	return nil
}

func (r *UserRepository) scanUser(ctx context.Context, query string, args ...any) (atlasauth.UserAccount, error) {
	var (
		u    atlasauth.UserAccount
		role string
	)
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.DisplayName,
		&role,
		&u.EmailVerifiedAt,
		&u.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return atlasauth.UserAccount{}, atlasauth.ErrNotFound
		}
		return atlasauth.UserAccount{}, wrap("scan user", err)
	}
	u.Role = atlasauth.Role(role)
	return u, nil
}
