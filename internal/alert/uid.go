// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package alert

import (
	"time"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
)

// NextId 生成64位单调告警id: 高32位为秒级时间戳 低32位为秒内序列
// 序列号走redis INCR 同一集群内同秒不重复
func NextId(now time.Time) (int64, error) {
	rds := redis.GetInstance()
	ts := now.Unix()
	seqKey := key.AlertUidSequenceKey.Key(key.P{"timestamp": ts})

	sequence, err := rds.Client.Incr(rds.Ctx(), seqKey).Result()
	if err != nil {
		return 0, err
	}
	rds.Client.Expire(rds.Ctx(), seqKey, key.AlertUidSequenceKey.TTL())
	return ts<<32 | (sequence & 0xFFFFFFFF), nil
}

// ParseSequence 取id中的序列号部分
func ParseSequence(alertId int64) int64 {
	return alertId & 0xFFFFFFFF
}

// ParseTimestamp 取id中的时间戳部分
func ParseTimestamp(alertId int64) int64 {
	return alertId >> 32
}
