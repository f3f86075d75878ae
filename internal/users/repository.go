package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/giftdrive/casework/internal/platform/db"
	"github.com/giftdrive/casework/internal/shared"
)

const userColumns = `id, email, password_hash, name_first, name_last, rank, phone, affiliation_id, role,
confirmation_code, confirmation_email, email_verified, approved, active, created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindByEmail returns the user with exactly this email or shared.ErrNotFound.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanOne(row)
}

// FindByID returns the user or shared.ErrNotFound.
func (r *Repository) FindByID(ctx context.Context, id int64) (*User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanOne(row)
}

// Create inserts a user with all workflow flags at their defaults.
func (r *Repository) Create(ctx context.Context, in NewUser) (*User, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO users (email, password_hash, name_first, name_last, rank, phone, affiliation_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+userColumns,
		in.Email, in.PasswordHash, in.NameFirst, in.NameLast, in.Rank, in.Phone, in.AffiliationID)
	user, err := scanOne(row)
	if err != nil {
		if db.IsUniqueViolation(err, "users_email_key") {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("users: create: %w", err)
	}
	return user, nil
}

// SetConfirmationCode stores code for an unverified user. Verified users are
// left untouched and yield ErrAlreadyVerified.
func (r *Repository) SetConfirmationCode(ctx context.Context, id int64, code string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET confirmation_code = $2, updated_at = NOW()
WHERE id = $1 AND NOT email_verified`, id, code)
	if err != nil {
		return fmt.Errorf("users: set confirmation code %d: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var verified bool
	err = r.pool.QueryRow(ctx, `SELECT email_verified FROM users WHERE id = $1`, id).Scan(&verified)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return shared.ErrNotFound
	case err != nil:
		return fmt.Errorf("users: set confirmation code %d: %w", id, err)
	case verified:
		return ErrAlreadyVerified
	}
	return fmt.Errorf("users: set confirmation code %d: no row updated", id)
}

// MarkVerificationSent records that the verification email went out.
func (r *Repository) MarkVerificationSent(ctx context.Context, id int64) error {
	return r.setFlags(ctx, id, "mark verification sent", `confirmation_email = TRUE`)
}

// MarkVerified sets email_verified and clears the confirmation code.
func (r *Repository) MarkVerified(ctx context.Context, id int64) error {
	return r.setFlags(ctx, id, "mark verified", `email_verified = TRUE, confirmation_code = NULL`)
}

// MarkApproved approves and activates the account.
func (r *Repository) MarkApproved(ctx context.Context, id int64) error {
	return r.setFlags(ctx, id, "mark approved", `approved = TRUE, active = TRUE`)
}

func (r *Repository) setFlags(ctx context.Context, id int64, op, assignments string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET `+assignments+`, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("users: %s %d: %w", op, id, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// List returns one page of users ordered by id and the total count.
func (r *Repository) List(ctx context.Context, filter ListFilter, page shared.Page) ([]User, int, error) {
	where := `WHERE TRUE`
	if filter.PendingApproval {
		where = `WHERE email_verified AND NOT approved`
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users `+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("users: count: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users `+where+` ORDER BY id LIMIT $1 OFFSET $2`,
		page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0, page.Limit())
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Role returns the role and active flag used by the RBAC middleware.
func (r *Repository) Role(ctx context.Context, id int64) (string, bool, error) {
	var role string
	var active bool
	err := r.pool.QueryRow(ctx, `SELECT role, active FROM users WHERE id = $1`, id).Scan(&role, &active)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, shared.ErrNotFound
	}
	return role, active, err
}

// SetRole changes the role of user id.
func (r *Repository) SetRole(ctx context.Context, id int64, role string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`, id, role)
	if err != nil {
		return fmt.Errorf("users: set role %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// UnsentVerifications returns ids of unverified users created before
// createdBefore whose verification email was never sent.
func (r *Repository) UnsentVerifications(ctx context.Context, createdBefore time.Time, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users
WHERE NOT confirmation_email AND NOT email_verified AND created_at < $1
ORDER BY id LIMIT $2`, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("users: unsent verifications: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("users: unsent verifications: %w", err)
	}
	return ids, nil
}

func scanOne(row pgx.Row) (*User, error) {
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	return user, err
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.NameFirst, &u.NameLast, &u.Rank, &u.Phone,
		&u.AffiliationID, &u.Role, &u.ConfirmationCode, &u.ConfirmationEmail, &u.EmailVerified,
		&u.Approved, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
