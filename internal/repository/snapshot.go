package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"tripwatch/internal/models"
)

// SnapshotRepository 行程快照存储
// 每个命名空间一行，内容为不透明的 JSONB 快照，带结构版本号
type SnapshotRepository struct {
	db        *DB
	namespace string
}

// NewSnapshotRepository 创建快照存储
func NewSnapshotRepository(db *DB, namespace string) *SnapshotRepository {
	return &SnapshotRepository{db: db, namespace: namespace}
}

// Save 保存快照（upsert）
func (r *SnapshotRepository) Save(ctx context.Context, state *models.TripState) error {
	snapshot := models.TripSnapshot{
		SchemaVersion: models.SnapshotSchemaVersion,
		State:         state,
		SavedAt:       time.Now(),
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO trip_snapshots (namespace, schema_version, snapshot, saved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace)
		DO UPDATE SET schema_version = $2, snapshot = $3, saved_at = $4
	`, r.namespace, snapshot.SchemaVersion, data, snapshot.SavedAt)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	return nil
}

// Load 读取快照；不存在或版本不兼容时返回 nil
func (r *SnapshotRepository) Load(ctx context.Context) (*models.TripSnapshot, error) {
	var schemaVersion int
	var data []byte

	err := r.db.Pool.QueryRow(ctx, `
		SELECT schema_version, snapshot FROM trip_snapshots WHERE namespace = $1
	`, r.namespace).Scan(&schemaVersion, &data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	// 版本不兼容的快照当作不存在处理
	if schemaVersion != models.SnapshotSchemaVersion {
		return nil, nil
	}

	var snapshot models.TripSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snapshot, nil
}

// Clear 删除快照
func (r *SnapshotRepository) Clear(ctx context.Context) error {
	_, err := r.db.Pool.Exec(ctx, `
		DELETE FROM trip_snapshots WHERE namespace = $1
	`, r.namespace)
	if err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}
