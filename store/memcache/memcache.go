// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package memcache

import (
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
)

// Memcache 进程内缓存接口 策略快照等热点数据走本地缓存
type Memcache interface {
	Get(key string) (any, bool)
	Put(key string, val any, ttl time.Duration) bool
	Delete(key string)
	Wait()
}

type memcache struct {
	cache *ristretto.Cache
}

var (
	memcacheInstance Memcache
	memcacheOnce     sync.Once
)

// GetMemCache 获取单例缓存实例
func GetMemCache() (Memcache, error) {
	var err error
	memcacheOnce.Do(func() {
		var cache *ristretto.Cache
		cache, err = ristretto.NewCache(&ristretto.Config{
			NumCounters: config.StrategySnapshotLocalCacheSize / 64,
			MaxCost:     config.StrategySnapshotLocalCacheSize,
			BufferItems: 64,
		})
		if err != nil {
			err = errors.Wrap(err, "create ristretto cache failed")
			return
		}
		memcacheInstance = &memcache{cache: cache}
	})
	if memcacheInstance == nil {
		return nil, err
	}
	return memcacheInstance, nil
}

// SetMemCacheInstance 单测注入用
func SetMemCacheInstance(m Memcache) {
	memcacheOnce.Do(func() {})
	memcacheInstance = m
}

func (m *memcache) Get(key string) (any, bool) {
	return m.cache.Get(key)
}

func (m *memcache) Put(key string, val any, ttl time.Duration) bool {
	return m.cache.SetWithTTL(key, val, 1, ttl)
}

func (m *memcache) Delete(key string) {
	m.cache.Del(key)
}

// Wait 等待写入对读可见 主要供单测使用
func (m *memcache) Wait() {
	m.cache.Wait()
}
