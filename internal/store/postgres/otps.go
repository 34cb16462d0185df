package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lingochat/internal/store"
)

type OtpRepo struct {
	db *sql.DB
}

const otpColumns = `id, mobile, code, expires_at, is_used, attempts, reg_name, reg_language, created_at`

func scanOtp(row rowScanner) (store.Otp, error) {
	var o store.Otp
	var regName, regLang sql.NullString
	err := row.Scan(&o.ID, &o.Mobile, &o.Code, &o.ExpiresAt, &o.IsUsed, &o.Attempts, &regName, &regLang, &o.CreatedAt)
	if regName.Valid || regLang.Valid {
		o.RegistrationData = &store.RegistrationData{Name: regName.String, PreferredLanguage: regLang.String}
	}
	return o, err
}

// Replace invalidates live OTPs for the mobile and inserts o in one transaction.
// The advisory lock serializes concurrent generates for the same mobile.
func (r *OtpRepo) Replace(ctx context.Context, o *store.Otp) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(2, hashtext($1))`, o.Mobile); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE otps SET is_used = TRUE
		WHERE mobile = $1 AND is_used = FALSE`, o.Mobile); err != nil {
		return fmt.Errorf("invalidate otps: %w", err)
	}

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	var regName, regLang *string
	if o.RegistrationData != nil {
		regName, regLang = &o.RegistrationData.Name, &o.RegistrationData.PreferredLanguage
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO otps (`+otpColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.Mobile, o.Code, o.ExpiresAt, o.IsUsed, o.Attempts, nullString(regName), nullString(regLang), o.CreatedAt); err != nil {
		return fmt.Errorf("insert otp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *OtpRepo) Consume(ctx context.Context, mobile, code string, now time.Time) (store.Otp, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE otps SET is_used = TRUE
		WHERE is_used = FALSE AND id = (
			SELECT id FROM otps
			WHERE mobile = $1 AND code = $2 AND is_used = FALSE AND expires_at > $3
			ORDER BY created_at DESC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+otpColumns, mobile, code, now)
	o, err := scanOtp(row)
	return o, mapErr("consume otp", err, "no live otp")
}

func (r *OtpRepo) IncrementAttempts(ctx context.Context, mobile string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE otps SET attempts = attempts + 1
		WHERE id = (
			SELECT id FROM otps
			WHERE mobile = $1 AND is_used = FALSE
			ORDER BY created_at DESC
			LIMIT 1
		)`, mobile)
	return mapErr("increment attempts", err, "")
}

func (r *OtpRepo) Latest(ctx context.Context, mobile string, now time.Time) (store.Otp, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+otpColumns+` FROM otps
		WHERE mobile = $1 AND is_used = FALSE AND expires_at > $2
		ORDER BY created_at DESC
		LIMIT 1`, mobile, now)
	o, err := scanOtp(row)
	return o, mapErr("latest otp", err, "no live otp")
}

func (r *OtpRepo) DeleteByMobile(ctx context.Context, mobile string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM otps WHERE mobile = $1`, mobile)
	return mapErr("delete otps", err, "")
}

func (r *OtpRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM otps WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, mapErr("delete expired otps", err, "")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
