package repository

import (
	"context"
	"fmt"
	"time"

	"tripwatch/internal/models"
)

// PositionRepository 定位历史存储（append-only）
type PositionRepository struct {
	db        *DB
	namespace string
}

// NewPositionRepository 创建定位历史存储
func NewPositionRepository(db *DB, namespace string) *PositionRepository {
	return &PositionRepository{db: db, namespace: namespace}
}

// Append 追加一条定位记录
func (r *PositionRepository) Append(ctx context.Context, fix *models.PositionFix) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO position_log (namespace, latitude, longitude, accuracy_m, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`, r.namespace, fix.Coordinate.Lat, fix.Coordinate.Lng, fix.AccuracyM, fix.Timestamp)
	if err != nil {
		return fmt.Errorf("append position: %w", err)
	}
	return nil
}

// ListSince 查询某时刻之后的定位记录（按时间升序）
func (r *PositionRepository) ListSince(ctx context.Context, since time.Time, limit int) ([]*models.PositionFix, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT latitude, longitude, accuracy_m, recorded_at
		FROM position_log
		WHERE namespace = $1 AND recorded_at >= $2
		ORDER BY recorded_at ASC
		LIMIT $3
	`, r.namespace, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var fixes []*models.PositionFix
	for rows.Next() {
		fix := &models.PositionFix{}
		if err := rows.Scan(&fix.Coordinate.Lat, &fix.Coordinate.Lng, &fix.AccuracyM, &fix.Timestamp); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		fixes = append(fixes, fix)
	}

	return fixes, rows.Err()
}

// Clear 清空当前命名空间的定位历史
func (r *PositionRepository) Clear(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, `
		DELETE FROM position_log WHERE namespace = $1
	`, r.namespace)
	if err != nil {
		return fmt.Errorf("clear positions: %w", err)
	}
	return nil
}
