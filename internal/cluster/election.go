// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

// Package cluster 告警后台多机协作: leader选举/数据源分配/消费管理
package cluster

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
)

// Elector 基于redis SET NX的协作式leader选举
// 丢失租约只影响分配表的刷新 不产生其他副作用
type Elector struct {
	host string
}

func NewElector(host string) *Elector {
	return &Elector{host: host}
}

// TryElect 尝试成为leader 已是leader时续租
func (e *Elector) TryElect(ctx context.Context) (bool, error) {
	rds := redis.GetInstance()
	leaderKey := key.LeaderKey.Key(nil)
	ttl := time.Duration(config.ClusterLeaderTTL) * time.Second

	ok, err := rds.Client.SetNX(ctx, leaderKey, e.host, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "leader election failed")
	}
	if ok {
		logger.Infof("host [%s] became alarm backend leader", e.host)
		return true, nil
	}

	current, err := rds.Client.Get(ctx, leaderKey).Result()
	if err != nil {
		return false, errors.Wrap(err, "read leader key failed")
	}
	if current != e.host {
		return false, nil
	}
	// 续租
	if err := rds.Client.Expire(ctx, leaderKey, ttl).Err(); err != nil {
		return false, errors.Wrap(err, "renew leader lease failed")
	}
	return true, nil
}

// Resign 主动让出leader 仅删除自己持有的key
func (e *Elector) Resign(ctx context.Context) {
	rds := redis.GetInstance()
	leaderKey := key.LeaderKey.Key(nil)
	current, err := rds.Client.Get(ctx, leaderKey).Result()
	if err != nil || current != e.host {
		return
	}
	rds.Client.Del(ctx, leaderKey)
}
