package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/pkg/database"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrRollNumberTaken    = errors.New("roll number already registered")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

const userColumns = `id, name, email, password_hash, role, COALESCE(roll_number,''), COALESCE(profile_pic_url,''), created_at, updated_at`

// Repository handles user persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Password, &u.Role, &u.RollNumber, &u.ProfilePicURL, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByEmail returns a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
}

// Create inserts a new user. Email and roll number collisions are reported as
// ErrEmailTaken and ErrRollNumberTaken.
func (r *Repository) Create(ctx context.Context, u *models.User) error {
	const q = `INSERT INTO users (name, email, password_hash, role, roll_number, profile_pic_url)
		VALUES ($1, $2, $3, $4, NULLIF($5,''), NULLIF($6,''))
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, u.Name, strings.ToLower(u.Email), u.Password, u.Role, u.RollNumber, u.ProfilePicURL).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	return mapUniqueErr(err)
}

// UpdateProfile overwrites the editable profile fields.
func (r *Repository) UpdateProfile(ctx context.Context, u *models.User) error {
	const q = `UPDATE users SET name = $2, email = $3, roll_number = NULLIF($4,''), profile_pic_url = NULLIF($5,''), updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`
	err := r.pool.QueryRow(ctx, q, u.ID, u.Name, strings.ToLower(u.Email), u.RollNumber, u.ProfilePicURL).Scan(&u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrUserNotFound
	}
	return mapUniqueErr(err)
}

// ListIDsByRole returns the ids of every user holding role.
func (r *Repository) ListIDsByRole(ctx context.Context, role models.Role) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users WHERE role = $1`, role)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func mapUniqueErr(err error) error {
	switch {
	case err == nil:
		return nil
	case database.IsUniqueViolation(err, "users_email_key"):
		return ErrEmailTaken
	case database.IsUniqueViolation(err, "users_roll_number_key"):
		return ErrRollNumberTaken
	default:
		return err
	}
}
