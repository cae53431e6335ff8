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

	"github.com/redis/go-redis/v9"
)

const recordKeyPrefix = "delivery:"

// RecordStoreRedis Redis 实现：SET NX 即原子 check-and-set，
// 多 Worker 共享一份记录。键不设 TTL，投递记录跨重启有效。
type RecordStoreRedis struct {
	client *redis.Client
}

// NewRecordStoreRedis 创建 Redis 投递记录
func NewRecordStoreRedis(addr, password string) (*RecordStoreRedis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RecordStoreRedis{client: client}, nil
}

func (s *RecordStoreRedis) MarkDelivered(ctx context.Context, jobID string) (bool, error) {
	return s.client.SetNX(ctx, recordKeyPrefix+jobID, 1, 0).Result()
}

func (s *RecordStoreRedis) Delivered(ctx context.Context, jobID string) (bool, error) {
	n, err := s.client.Exists(ctx, recordKeyPrefix+jobID).Result()
	return n > 0, err
}

func (s *RecordStoreRedis) Clear(ctx context.Context, jobID string) error {
	return s.client.Del(ctx, recordKeyPrefix+jobID).Err()
}

// Close 关闭连接
func (s *RecordStoreRedis) Close() error {
	return s.client.Close()
}
