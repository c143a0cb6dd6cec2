// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

// Package checkresult 检测结果时间线与last checkpoint的读写
// trigger的M次/N周期判定完全基于这里写入的marker
package checkresult

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	goRedis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/common"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
)

// advanceScript checkpoint只进不退 仅当新时间戳更大时写入
var advanceScript = goRedis.NewScript(`
local current = redis.call('HGET', KEYS[1], ARGV[1])
if current == false or tonumber(ARGV[2]) > tonumber(current) then
    redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
    redis.call('EXPIRE', KEYS[1], ARGV[3])
    return 1
end
return 0
`)

// Marker 时间线上的单个标记 Label为ANOMALY或数值字符串
type Marker struct {
	Timestamp int64
	Label     string
}

// IsAnomaly marker是否为异常标记
func (m Marker) IsAnomaly() bool {
	return m.Label == common.AnomalyLabel
}

func (m Marker) String() string {
	return fmt.Sprintf("%d|%s", m.Timestamp, m.Label)
}

// ParseMarker 解析 "<ts>|<label>" 形式的member
func ParseMarker(member string) (Marker, error) {
	idx := strings.Index(member, "|")
	if idx <= 0 {
		return Marker{}, errors.Errorf("invalid check result member: %s", member)
	}
	ts, err := strconv.ParseInt(member[:idx], 10, 64)
	if err != nil {
		return Marker{}, errors.Wrapf(err, "invalid check result member: %s", member)
	}
	return Marker{Timestamp: ts, Label: member[idx+1:]}, nil
}

// AdvanceCheckpoint CAS推进last checkpoint 返回是否发生写入
func AdvanceCheckpoint(strategyId, itemId int, dimsMd5 string, level int, ts int64) (bool, error) {
	rds := redis.GetInstance()
	spec := key.LastCheckpointKey
	redisKey := spec.Key(key.P{"strategy_id": strategyId, "item_id": itemId})
	field := spec.Field(key.P{"dims_md5": dimsMd5, "level": level})

	advanced, err := advanceScript.Run(rds.Ctx(), rds.Client,
		[]string{redisKey}, field, ts, int(spec.TTL().Seconds())).Int()
	if err != nil {
		return false, errors.Wrap(err, "advance checkpoint failed")
	}
	return advanced == 1, nil
}

// GetCheckpoint 读取last checkpoint 不存在返回0
func GetCheckpoint(strategyId, itemId int, dimsMd5 string, level int) (int64, error) {
	rds := redis.GetInstance()
	spec := key.LastCheckpointKey
	redisKey := spec.Key(key.P{"strategy_id": strategyId, "item_id": itemId})
	field := spec.Field(key.P{"dims_md5": dimsMd5, "level": level})

	stored, err := rds.HGet(redisKey, field)
	if err == goRedis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return cast.ToInt64(stored), nil
}

// AddMarker 写入一个检测结果marker TTL按检测窗口拉长
func AddMarker(strategyId, itemId int, dimsMd5 string, level int, marker Marker, ttl time.Duration) error {
	rds := redis.GetInstance()
	spec := key.CheckResultKey
	if ttl < spec.TTL() {
		ttl = spec.TTL()
	}
	redisKey := spec.Key(key.P{
		"strategy_id": strategyId, "item_id": itemId, "dims_md5": dimsMd5, "level": level,
	})

	pipe := rds.Client.TxPipeline()
	pipe.ZAdd(rds.Ctx(), redisKey, &goRedis.Z{Score: float64(marker.Timestamp), Member: marker.String()})
	// 窗口之外的历史marker直接清理
	pipe.ZRemRangeByScore(rds.Ctx(), redisKey, "0", cast.ToString(marker.Timestamp-int64(ttl.Seconds())))
	pipe.Expire(rds.Ctx(), redisKey, ttl)
	_, err := pipe.Exec(rds.Ctx())
	return err
}

// LastMarkers 按时间倒序取最近count个marker 返回结果已转为时间正序
func LastMarkers(strategyId, itemId int, dimsMd5 string, level int, count int64) ([]Marker, error) {
	rds := redis.GetInstance()
	spec := key.CheckResultKey
	redisKey := spec.Key(key.P{
		"strategy_id": strategyId, "item_id": itemId, "dims_md5": dimsMd5, "level": level,
	})

	members, err := rds.Client.ZRevRange(rds.Ctx(), redisKey, 0, count-1).Result()
	if err != nil {
		return nil, err
	}
	markers := make([]Marker, 0, len(members))
	for i := len(members) - 1; i >= 0; i-- {
		marker, parseErr := ParseMarker(members[i])
		if parseErr != nil {
			continue
		}
		markers = append(markers, marker)
	}
	return markers, nil
}
