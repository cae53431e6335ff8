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

package job

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"research-platform/internal/fetch/classify"
	"research-platform/internal/fetch/strategy"
	"research-platform/pkg/errors"
)

// StorePg Postgres 实现：fetch_jobs / fetch_attempts 表，API 与 Worker 共享。
// 认领带租约，Worker 崩溃后过期的 InFlight 行会被重新认领。
// 建表见 migrations/0001_init.sql。
type StorePg struct {
	pool  *pgxpool.Pool
	lease time.Duration
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
	return &StorePg{pool: pool, lease: DefaultLease}, nil
}

// NewStorePgWithPool 复用已有连接池（与 task store 共库）
func NewStorePgWithPool(pool *pgxpool.Pool) *StorePg {
	return &StorePg{pool: pool, lease: DefaultLease}
}

// SetLease 覆盖认领租约时长
func (s *StorePg) SetLease(d time.Duration) {
	if d > 0 {
		s.lease = d
	}
}

// Close 关闭连接池
func (s *StorePg) Close() {
	s.pool.Close()
}

func (s *StorePg) Create(ctx context.Context, j *FetchJob) (string, error) {
	if j.ID == "" {
		j.ID = "fetch-" + uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fetch_jobs
   (id, task_id, url, domain, state, strategy_index, attempt_count, last_failure, next_retry_at, extend_timeout, lease_expires_at)
 VALUES ($1, $2, $3, $4, 'pending', 0, 0, '', now(), false, now())`,
		j.ID, j.TaskID, j.URL, j.Domain,
	)
	return j.ID, err
}

func (s *StorePg) Get(ctx context.Context, jobID string) (*FetchJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, task_id, url, domain, state, strategy_index, attempt_count,
        last_failure, next_retry_at, extend_timeout, lease_expires_at, created_at, updated_at
   FROM fetch_jobs WHERE id = $1`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

func (s *StorePg) ListByTask(ctx context.Context, taskID string) ([]*FetchJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, url, domain, state, strategy_index, attempt_count,
        last_failure, next_retry_at, extend_timeout, lease_expires_at, created_at, updated_at
   FROM fetch_jobs WHERE task_id = $1 ORDER BY created_at`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*FetchJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

// Update 写回作业；WHERE 子句同时守住策略下标单调性
func (s *StorePg) Update(ctx context.Context, j *FetchJob) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fetch_jobs
    SET state = $2, strategy_index = $3, attempt_count = $4, last_failure = $5,
        next_retry_at = $6, extend_timeout = $7, updated_at = now()
  WHERE id = $1 AND strategy_index <= $3`,
		j.ID, string(j.State), j.StrategyIndex, j.AttemptCount, string(j.LastFailure),
		j.NextRetryAt, j.ExtendTimeout,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(errors.ErrInvalidArg, "job %s missing or strategy index regression", j.ID)
	}
	return nil
}

func (s *StorePg) ClaimNextReady(ctx context.Context, now time.Time) (*FetchJob, error) {
	row := s.pool.QueryRow(ctx,
		`WITH sel AS (
   SELECT id FROM fetch_jobs
    WHERE (state = 'pending' AND next_retry_at <= $1)
       OR (state = 'in_flight' AND lease_expires_at <= $1)
    ORDER BY created_at LIMIT 1 FOR UPDATE SKIP LOCKED
 )
 UPDATE fetch_jobs SET state = 'in_flight', lease_expires_at = $2, updated_at = now()
   FROM sel WHERE fetch_jobs.id = sel.id
 RETURNING fetch_jobs.id, fetch_jobs.task_id, fetch_jobs.url, fetch_jobs.domain,
           fetch_jobs.state, fetch_jobs.strategy_index, fetch_jobs.attempt_count,
           fetch_jobs.last_failure, fetch_jobs.next_retry_at, fetch_jobs.extend_timeout,
           fetch_jobs.lease_expires_at, fetch_jobs.created_at, fetch_jobs.updated_at`,
		now, now.Add(s.lease))
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

func (s *StorePg) AppendAttempt(ctx context.Context, a *Attempt) error {
	if a.ID == "" {
		a.ID = "attempt-" + uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fetch_attempts (id, job_id, strategy, started_at, ended_at, status_code, kind, error)
 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.JobID, string(a.Strategy), a.StartedAt, a.EndedAt, a.StatusCode, string(a.Kind), a.Error,
	)
	return err
}

func (s *StorePg) ListAttempts(ctx context.Context, jobID string) ([]*Attempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, strategy, started_at, ended_at, status_code, kind, error
   FROM fetch_attempts WHERE job_id = $1 ORDER BY started_at`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*Attempt
	for rows.Next() {
		var a Attempt
		var strat, kind string
		if err := rows.Scan(&a.ID, &a.JobID, &strat, &a.StartedAt, &a.EndedAt, &a.StatusCode, &kind, &a.Error); err != nil {
			return nil, err
		}
		a.Strategy = strategy.Kind(strat)
		a.Kind = classify.Kind(kind)
		list = append(list, &a)
	}
	return list, rows.Err()
}

func scanJob(row pgx.Row) (*FetchJob, error) {
	var j FetchJob
	var state, lastFailure string
	err := row.Scan(&j.ID, &j.TaskID, &j.URL, &j.Domain, &state, &j.StrategyIndex,
		&j.AttemptCount, &lastFailure, &j.NextRetryAt, &j.ExtendTimeout, &j.LeaseExpiresAt,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.State = State(state)
	j.LastFailure = classify.Kind(lastFailure)
	return &j, nil
}
