// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package redis

import (
	"context"
	"time"

	goRedis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript 仅持有者可释放 TTL到期由redis回收以容忍持有者崩溃
var releaseScript = goRedis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// ServiceLock 基于SET NX EX的协作锁 同一集群内同一key同时只有一个worker处理
type ServiceLock struct {
	client goRedis.UniversalClient
	key    string
	token  string
	ttl    time.Duration
}

func NewServiceLock(client goRedis.UniversalClient, key string, ttl time.Duration) *ServiceLock {
	return &ServiceLock{
		client: client,
		key:    key,
		token:  uuid.New().String(),
		ttl:    ttl,
	}
}

// Acquire 返回是否拿到锁 拿不到不是错误
func (l *ServiceLock) Acquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

// Release 释放锁 非持有者调用无副作用
func (l *ServiceLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
