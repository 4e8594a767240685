package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"trackmate/internal/models"
)

type BackupCodeRepository struct {
	pool *pgxpool.Pool
}

func NewBackupCodeRepository(pool *pgxpool.Pool) *BackupCodeRepository {
	return &BackupCodeRepository{pool: pool}
}

// Replace swaps the user's entire code set inside one transaction so a
// partially written set is never observable.
func (r *BackupCodeRepository) Replace(ctx context.Context, userID string, codes []models.BackupCode) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID); err != nil {
		return err
	}

	const insert = `
		INSERT INTO backup_codes (id, user_id, code_hash, used, created_at)
		VALUES ($1, $2, $3, FALSE, NOW())
	`
	for _, code := range codes {
		if _, err := tx.Exec(ctx, insert, code.ID, code.UserID, code.CodeHash); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *BackupCodeRepository) ListUnused(ctx context.Context, userID string) ([]models.BackupCode, error) {
	const query = `
		SELECT id, user_id, code_hash, used, used_at, created_at
		FROM backup_codes
		WHERE user_id = $1 AND used = FALSE
		ORDER BY created_at
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []models.BackupCode
	for rows.Next() {
		var code models.BackupCode
		if err := rows.Scan(
			&code.ID,
			&code.UserID,
			&code.CodeHash,
			&code.Used,
			&code.UsedAt,
			&code.CreatedAt,
		); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// Consume marks a single code used. The used = FALSE guard makes the update a
// compare-and-swap: of two concurrent redeemers exactly one sees consumed =
// true, so a code can never authorize two resets.
func (r *BackupCodeRepository) Consume(ctx context.Context, codeID string) (bool, error) {
	const query = `
		UPDATE backup_codes
		SET used = TRUE, used_at = NOW()
		WHERE id = $1 AND used = FALSE
	`
	cmd, err := r.pool.Exec(ctx, query, codeID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}
