// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package research

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"research-platform/pkg/errors"
)

// StorePg Postgres 实现：research_tasks 表，API 与 Worker 共享。
// 建表见 migrations/0001_init.sql。
type StorePg struct {
	pool *pgxpool.Pool
}

// NewStorePg 创建基于 PostgreSQL 的 Store
func NewStorePg(ctx context.Context, dsn string) (*StorePg, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &StorePg{pool: pool}, nil
}

// Pool 暴露连接池，供共库的其他 store 复用
func (s *StorePg) Pool() *pgxpool.Pool {
	return s.pool
}

// Close 关闭连接池
func (s *StorePg) Close() {
	s.pool.Close()
}

func (s *StorePg) Create(ctx context.Context, t *Task) (string, error) {
	if t.ID == "" {
		t.ID = "task-" + uuid.New().String()
	}
	var deadline interface{}
	if !t.Deadline.IsZero() {
		deadline = t.Deadline
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO research_tasks
   (id, query, target_urls, status, result, total_targets, validated_count,
    unreachable_count, cancel_requested, deadline)
 VALUES ($1, $2, $3, 'pending', '', $4, 0, 0, false, $5)`,
		t.ID, t.Query, t.TargetURLs, len(t.TargetURLs), deadline,
	)
	return t.ID, err
}

func (s *StorePg) Get(ctx context.Context, taskID string) (*Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, query, target_urls, status, result, total_targets, validated_count,
        unreachable_count, cancel_requested, deadline, created_at, updated_at, completed_at
   FROM research_tasks WHERE id = $1`, taskID)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (s *StorePg) List(ctx context.Context) ([]*Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, query, target_urls, status, result, total_targets, validated_count,
        unreachable_count, cancel_requested, deadline, created_at, updated_at, completed_at
   FROM research_tasks ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func (s *StorePg) Update(ctx context.Context, t *Task) error {
	var completedAt interface{}
	if !t.CompletedAt.IsZero() {
		completedAt = t.CompletedAt
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_tasks
    SET status = $2, result = $3, validated_count = $4, unreachable_count = $5,
        cancel_requested = $6, completed_at = $7, updated_at = now()
  WHERE id = $1`,
		t.ID, string(t.Status), t.Result, t.ValidatedCount, t.UnreachableCount,
		t.CancelRequested, completedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(errors.ErrNotFound, "task %s", t.ID)
	}
	return nil
}

func (s *StorePg) TryFinalize(ctx context.Context, t *Task) (bool, error) {
	var completedAt interface{}
	if !t.CompletedAt.IsZero() {
		completedAt = t.CompletedAt
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_tasks
    SET status = $2, result = $3, validated_count = $4, unreachable_count = $5,
        cancel_requested = $6, completed_at = $7, updated_at = now()
  WHERE id = $1 AND status NOT IN ('completed', 'completed_with_warnings', 'failed', 'cancelled')`,
		t.ID, string(t.Status), t.Result, t.ValidatedCount, t.UnreachableCount,
		t.CancelRequested, completedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *StorePg) RequestCancel(ctx context.Context, taskID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_tasks SET cancel_requested = true, updated_at = now()
  WHERE id = $1 AND status NOT IN ('completed', 'completed_with_warnings', 'failed', 'cancelled')`,
		taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// 不存在或已终态；区分一次
		t, err := s.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if t == nil {
			return errors.Wrapf(errors.ErrNotFound, "task %s", taskID)
		}
	}
	return nil
}

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	var status string
	var deadline, completedAt *time.Time
	err := row.Scan(&t.ID, &t.Query, &t.TargetURLs, &status, &t.Result, &t.TotalTargets,
		&t.ValidatedCount, &t.UnreachableCount, &t.CancelRequested, &deadline,
		&t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	if deadline != nil {
		t.Deadline = *deadline
	}
	if completedAt != nil {
		t.CompletedAt = *completedAt
	}
	return &t, nil
}
