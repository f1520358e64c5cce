package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/driftmail/keel/consts"
)

// dummyPasswordHash is compared against when the user does not exist,
// so login timing does not reveal which addresses are provisioned.
var dummyPasswordHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("keel-no-such-user"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
}()

// Authenticate verifies the password for an address and returns the user ID.
func (db *Database) Authenticate(ctx context.Context, address string, password string) (int64, error) {
	var userID int64
	var passwordHash string
	err := db.Pool.QueryRow(ctx, `
		SELECT id, password_hash FROM users WHERE LOWER(address) = LOWER($1)
	`, address).Scan(&userID, &passwordHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(password))
			return 0, consts.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to fetch credentials: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return 0, consts.ErrUserNotFound
	}
	return userID, nil
}

func (db *Database) GetUserIDByAddress(ctx context.Context, address string) (int64, error) {
	var userID int64
	err := db.Pool.QueryRow(ctx, `
		SELECT id FROM users WHERE LOWER(address) = LOWER($1)
	`, address).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, consts.ErrUserNotFound
		}
		return 0, err
	}
	return userID, nil
}

// CreateUser provisions an account. A nil quota means unlimited.
func (db *Database) CreateUser(ctx context.Context, address, password string, quotaBytes *int64) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("failed to hash password: %w", err)
	}

	var userID int64
	err = db.Pool.QueryRow(ctx, `
		INSERT INTO users (address, password_hash, quota_bytes)
		VALUES ($1, $2, $3)
		RETURNING id
	`, address, string(hash), quotaBytes).Scan(&userID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, consts.ErrDBUniqueViolation
		}
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	return userID, nil
}

// GetQuota returns the configured quota in bytes, or nil for unlimited.
func (db *Database) GetQuota(ctx context.Context, userID int64) (*int64, error) {
	var quota *int64
	err := db.Pool.QueryRow(ctx, `
		SELECT quota_bytes FROM users WHERE id = $1
	`, userID).Scan(&quota)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, consts.ErrUserNotFound
		}
		return nil, err
	}
	return quota, nil
}

// GetStorageUsed returns the accounted usage, clamped at zero. The
// column itself stays a raw signed sum; see adjustStorageUsed.
func (db *Database) GetStorageUsed(ctx context.Context, userID int64) (int64, error) {
	var used int64
	err := db.Pool.QueryRow(ctx, `
		SELECT GREATEST(0, storage_used) FROM users WHERE id = $1
	`, userID).Scan(&used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, consts.ErrUserNotFound
		}
		return 0, err
	}
	return used, nil
}

// adjustStorageUsed moves the accounted usage by delta inside an open
// transaction. The raw sum is stored unclamped: clamping at write time
// would let an underflow cancel against a later equal-sized addition
// and read high forever, hiding the drift instead of exposing it.
func adjustStorageUsed(ctx context.Context, tx pgx.Tx, userID int64, delta int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE users SET storage_used = storage_used + $2 WHERE id = $1
	`, userID, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust storage accounting: %w", err)
	}
	return nil
}
