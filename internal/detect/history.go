// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package detect

import (
	"time"

	goRedis "github.com/go-redis/redis/v8"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
)

// StoreHistoryPoints 当前批次数据写入历史hash 供后续周期的环比/同比取参考点
// 同一时间戳桶内按dims_md5覆盖写
func StoreHistoryPoints(points []*Point, ttl time.Duration) error {
	if len(points) == 0 {
		return nil
	}
	rds := redis.GetInstance()
	spec := key.HistoryDataKey
	if ttl < spec.TTL() {
		ttl = spec.TTL()
	}

	pipe := rds.Client.Pipeline()
	touched := make(map[string]bool)
	for _, point := range points {
		payload, err := jsonx.MarshalString(point)
		if err != nil {
			logger.Warnf("serialize history point failed: %s", err)
			continue
		}
		historyKey := spec.Key(key.P{
			"strategy_id": point.StrategyId, "item_id": point.ItemId, "timestamp": point.Time,
		})
		pipe.HSet(rds.Ctx(), historyKey, point.DimsMd5, payload)
		if !touched[historyKey] {
			pipe.Expire(rds.Ctx(), historyKey, ttl)
			touched[historyKey] = true
		}
	}
	_, err := pipe.Exec(rds.Ctx())
	return err
}

// FetchHistory 批量取单维度在若干历史时刻的参考点 缺失时刻不在结果里
func FetchHistory(strategyId, itemId int, dimsMd5 string, timestamps []int64) (map[int64]*Point, error) {
	if len(timestamps) == 0 {
		return map[int64]*Point{}, nil
	}
	rds := redis.GetInstance()
	spec := key.HistoryDataKey

	pipe := rds.Client.Pipeline()
	cmds := make(map[int64]*goRedis.StringCmd, len(timestamps))
	for _, ts := range timestamps {
		historyKey := spec.Key(key.P{"strategy_id": strategyId, "item_id": itemId, "timestamp": ts})
		cmds[ts] = pipe.HGet(rds.Ctx(), historyKey, dimsMd5)
	}
	if _, err := pipe.Exec(rds.Ctx()); err != nil && err != goRedis.Nil {
		return nil, err
	}

	result := make(map[int64]*Point, len(timestamps))
	for ts, cmd := range cmds {
		raw, err := cmd.Result()
		if err != nil {
			continue
		}
		point, parseErr := ParsePoint(raw)
		if parseErr != nil {
			logger.Warnf("parse history point at %d failed: %s", ts, parseErr)
			continue
		}
		result[ts] = point
	}
	return result, nil
}
