package sqlite

import "context"

// AuthRepo implements storage.AuthenticationRepository on the whatsmeow
// session DB. The sole authentication signal is a non-empty device table.
type AuthRepo struct {
	db *DB
}

// CheckAuthenticationStatus reports whether a device session is registered.
// It never returns an error; failures collapse to (false, reason).
func (r *AuthRepo) CheckAuthenticationStatus(ctx context.Context) (bool, string) {
	var name string
	err := r.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'whatsmeow_device'`).Scan(&name)
	if err != nil {
		return false, "no device table found"
	}

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM whatsmeow_device`).Scan(&count); err != nil {
		return false, "database error: " + err.Error()
	}
	if count == 0 {
		return false, "no device registered"
	}
	return true, ""
}
