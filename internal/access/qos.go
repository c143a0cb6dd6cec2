// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package access

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
)

// Qos per(业务, 策略)令牌桶 计数放在redis 多worker共享同一份余额
// 超限数据直接丢弃并记指标
type Qos struct{}

func NewQos() *Qos {
	return &Qos{}
}

// Allow 是否放行 拒绝时调用方负责上报qos_dropped
// redis不可用时放行 限流只作过载保护
func (q *Qos) Allow(bkBizId, strategyId int) bool {
	rds := redis.GetInstance()
	spec := key.AccessTokenKey
	tokenKey := spec.Key(key.P{"strategy_group_key": fmt.Sprintf("%d.%d", bkBizId, strategyId)})
	count, err := rds.Client.Incr(rds.Ctx(), tokenKey).Result()
	if err != nil {
		logger.Warnf("qos token incr failed: %s", err)
		return true
	}
	if count == 1 {
		rds.Client.Expire(rds.Ctx(), tokenKey, spec.TTL())
	}
	return count <= int64(config.AccessQosTokenPerGroup)+int64(config.AccessQosTokenBurst)
}

// PriorityChecker 优先级抢占
// 同priority_group内同维度的数据 高优先级策略处理过后 低优先级策略不再处理
type PriorityChecker struct{}

func NewPriorityChecker() *PriorityChecker {
	return &PriorityChecker{}
}

// Stamp 为绑定打上策略有效优先级
func (p *PriorityChecker) Stamp(itemRecord *ItemRecord) {
	itemRecord.Priority = itemRecord.Strategy.Priority
}

// Check 低于组内已处理优先级的绑定返回false 更高优先级会刷新组记录
func (p *PriorityChecker) Check(s *strategy.Strategy, dimsMd5 string) bool {
	if s.PriorityGroupKey == "" {
		return true
	}
	rds := redis.GetInstance()
	spec := key.AccessPriorityKey
	redisKey := spec.Key(key.P{"priority_group_key": s.PriorityGroupKey})
	field := spec.Field(key.P{"dims_md5": dimsMd5})

	stored, err := rds.HGet(redisKey, field)
	if err == nil && stored != "" {
		if s.Priority < cast.ToInt(stored) {
			return false
		}
	}
	if err := rds.HSet(redisKey, field, cast.ToString(s.Priority)); err != nil {
		logger.Warnf("update priority group [%s] failed: %s", s.PriorityGroupKey, err)
	}
	rds.Client.Expire(rds.Ctx(), redisKey, spec.TTL())
	return true
}

// Inhibitor 抑制判定
// 同监控项同维度在更高级别(数值更小)上已有近期异常时 低级别绑定不保留
type Inhibitor struct{}

func NewInhibitor() *Inhibitor {
	return &Inhibitor{}
}

// Inhibited 检查是否被更高级别异常抑制
func (i *Inhibitor) Inhibited(itemRecord *ItemRecord, dimsMd5 string, dataTime int64) bool {
	rds := redis.GetInstance()
	spec := key.LastCheckpointKey
	redisKey := spec.Key(key.P{"strategy_id": itemRecord.Strategy.Id, "item_id": itemRecord.Item.Id})

	window := itemRecord.Item.AggInterval()
	if detect, ok := itemRecord.Strategy.DetectOf(itemRecord.Level); ok {
		window = window * int64(detect.TriggerConfig.CheckWindow)
	}
	for level := 1; level < itemRecord.Level; level++ {
		field := spec.Field(key.P{"dims_md5": dimsMd5, "level": level})
		stored, err := rds.HGet(redisKey, field)
		if err != nil || stored == "" {
			continue
		}
		if dataTime-cast.ToInt64(stored) <= window {
			return true
		}
	}
	return false
}
