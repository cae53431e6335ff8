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

package deliver

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"research-platform/pkg/errors"
)

// RecordStorePg Postgres 实现：delivery_records 表主键冲突即
// check-and-set。建表见 migrations/0001_init.sql。
type RecordStorePg struct {
	pool *pgxpool.Pool
}

// NewRecordStorePg 创建基于 PostgreSQL 的投递记录
func NewRecordStorePg(ctx context.Context, dsn string) (*RecordStorePg, error) {
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
	return &RecordStorePg{pool: pool}, nil
}

// NewRecordStorePgWithPool 复用已有连接池
func NewRecordStorePgWithPool(pool *pgxpool.Pool) *RecordStorePg {
	return &RecordStorePg{pool: pool}
}

// Close 关闭连接池
func (s *RecordStorePg) Close() {
	s.pool.Close()
}

func (s *RecordStorePg) MarkDelivered(ctx context.Context, jobID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO delivery_records (job_id, delivered_at) VALUES ($1, now())
 ON CONFLICT (job_id) DO NOTHING`, jobID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *RecordStorePg) Delivered(ctx context.Context, jobID string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM delivery_records WHERE job_id = $1`, jobID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RecordStorePg) Clear(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM delivery_records WHERE job_id = $1`, jobID)
	return err
}
