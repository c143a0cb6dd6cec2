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
	"fmt"
	"time"

	"github.com/avast/retry-go"
	goRedis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
)

// Options Redis参数
type Options struct {
	Mode string

	Host     string
	Port     int
	Password string

	SentinelAddress  []string
	SentinelPassword string
	MasterName       string

	Db          int
	DialTimeout int
	ReadTimeout int
}

// NewRedisClient 按模式构造UniversalClient
func NewRedisClient(ctx context.Context, opt *Options) (goRedis.UniversalClient, error) {
	var client goRedis.UniversalClient
	switch opt.Mode {
	case "standalone":
		client = goRedis.NewUniversalClient(&goRedis.UniversalOptions{
			Addrs:       []string{fmt.Sprintf("%s:%d", opt.Host, opt.Port)},
			Password:    opt.Password,
			DB:          opt.Db,
			DialTimeout: time.Duration(opt.DialTimeout) * time.Second,
			ReadTimeout: time.Duration(opt.ReadTimeout) * time.Second,
		})
	case "sentinel":
		client = goRedis.NewUniversalClient(&goRedis.UniversalOptions{
			Addrs:            opt.SentinelAddress,
			SentinelPassword: opt.SentinelPassword,
			MasterName:       opt.MasterName,
			Password:         opt.Password,
			DB:               opt.Db,
			DialTimeout:      time.Duration(opt.DialTimeout) * time.Second,
			ReadTimeout:      time.Duration(opt.ReadTimeout) * time.Second,
		})
	default:
		return nil, errors.Errorf("invalid redis mode: %s", opt.Mode)
	}

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, errors.Wrap(err, "ping redis failed")
	}
	return client, nil
}

type Instance struct {
	ctx    context.Context
	Client goRedis.UniversalClient
}

var storageRedisInstance *Instance

// GetInstance get a redis instance
func GetInstance() *Instance {
	if storageRedisInstance != nil {
		return storageRedisInstance
	}

	ctx := context.TODO()
	var client goRedis.UniversalClient
	var err error

	err = retry.Do(
		func() error {
			client, err = NewRedisClient(ctx, &Options{
				Mode:             config.StorageRedisMode,
				Host:             config.StorageRedisStandaloneHost,
				Port:             config.StorageRedisStandalonePort,
				Password:         config.StorageRedisStandalonePassword,
				SentinelAddress:  config.StorageRedisSentinelAddress,
				SentinelPassword: config.StorageRedisSentinelPassword,
				MasterName:       config.StorageRedisSentinelMasterName,
				Db:               config.StorageRedisDatabase,
				DialTimeout:      config.StorageRedisDialTimeout,
				ReadTimeout:      config.StorageRedisReadTimeout,
			})
			if err != nil {
				logger.Errorf("failed to create storage redis client, error: %s", err)
				return err
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(1*time.Second),
	)
	if err != nil {
		logger.Fatalf("failed to create redis storage client, error: %s", err)
	}

	storageRedisInstance = &Instance{ctx: ctx, Client: client}
	return storageRedisInstance
}

// SetInstance 测试场景注入client
func SetInstance(client goRedis.UniversalClient) *Instance {
	storageRedisInstance = &Instance{ctx: context.TODO(), Client: client}
	return storageRedisInstance
}

// Ctx instance绑定的context
func (r *Instance) Ctx() context.Context {
	return r.ctx
}

// Put put a key-val
func (r *Instance) Put(key, val string, expiration time.Duration) error {
	if err := r.Client.Set(r.ctx, key, val, expiration).Err(); err != nil {
		logger.Errorf("put redis error, key: %s, err: %v", key, err)
		return err
	}
	return nil
}

// Get get a val from key
func (r *Instance) Get(key string) ([]byte, error) {
	data, err := r.Client.Get(r.ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Delete delete a key
func (r *Instance) Delete(key string) error {
	return r.Client.Del(r.ctx, key).Err()
}

// HSet put a hash field
func (r *Instance) HSet(key, field, val string) error {
	return r.Client.HSet(r.ctx, key, field, val).Err()
}

// HGet get a hash field
func (r *Instance) HGet(key, field string) (string, error) {
	return r.Client.HGet(r.ctx, key, field).Result()
}

// LPush push values to the head of a list
func (r *Instance) LPush(key string, vals ...interface{}) error {
	return r.Client.LPush(r.ctx, key, vals...).Err()
}

// ListRangeAndTrim 消费list的尾部片段并裁剪 返回消费到的数据
// list使用LPUSH生产, 因此消费端从右侧取
func (r *Instance) ListRangeAndTrim(key string, count int64) ([]string, error) {
	pipe := r.Client.TxPipeline()
	rangeCmd := pipe.LRange(r.ctx, key, -count, -1)
	pipe.LTrim(r.ctx, key, 0, -count-1)
	if _, err := pipe.Exec(r.ctx); err != nil && err != goRedis.Nil {
		return nil, err
	}
	return rangeCmd.Val(), nil
}
