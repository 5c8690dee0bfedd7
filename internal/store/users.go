package store

import "context"

// CreateUser inserts an operator account. The unique violation on email is
// surfaced to the caller for a 409.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO users (id, email, password_hash, created_at)
VALUES (gen_random_uuid(), $1, $2, NOW())`, email, passwordHash)
	return err
}

// GetUserByEmail returns the user id and password hash for login checks.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (string, string, error) {
	var id, hash string
	row := s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email)
	if err := row.Scan(&id, &hash); err != nil {
		return "", "", err
	}
	return id, hash, nil
}
