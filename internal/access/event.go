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
	"context"
	"fmt"
	"time"

	"github.com/spf13/cast"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/common"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/checkresult"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/detect"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/metrics"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
)

// gse基础事件type_id与告警名称的映射
var gseBaseAlarmNames = map[int]string{
	2: "agent-gse",
	3: "disk-readonly-gse",
	6: "disk-full-gse",
	7: "corefile-gse",
	8: "ping-gse",
	9: "oom-gse",
}

// GseEvent OS基础事件 事件本身即异常 跳过detect直接进异常队列
type GseEvent struct {
	TypeId  int
	Name    string
	Time    int64
	BkBizId int
	Ip      string
	CloudId int
	Extra   map[string]any
}

// ParseGseEvent 解析gse基础事件上报
func ParseGseEvent(data map[string]any) (*GseEvent, error) {
	typeId := cast.ToInt(data["type"])
	name, ok := gseBaseAlarmNames[typeId]
	if !ok {
		return nil, fmt.Errorf("unknown gse base alarm type: %d", typeId)
	}
	event := &GseEvent{
		TypeId: typeId,
		Name:   name,
		Extra:  map[string]any{},
	}
	if value, ok := data["value"].([]any); ok && len(value) > 0 {
		if first, ok := value[0].(map[string]any); ok {
			event.Time = cast.ToInt64(first["event_time"])
			if event.Time == 0 {
				event.Time = time.Now().Unix()
			}
			if extra, ok := first["extra"].(map[string]any); ok {
				event.Extra = extra
				event.BkBizId = cast.ToInt(extra["bizid"])
				event.Ip = cast.ToString(extra["host"])
				event.CloudId = cast.ToInt(extra["cloudid"])
			}
		}
	}
	if event.Ip == "" {
		return nil, fmt.Errorf("gse event type %d has no host", typeId)
	}
	return event, nil
}

// EventProcess gse事件处理 单data_id
type EventProcess struct {
	DataId int
	cache  *strategy.Cache
}

func NewEventProcess(dataId int) *EventProcess {
	return &EventProcess{DataId: dataId, cache: strategy.GetCache()}
}

// Handle 拉取gse事件缓冲并直推异常队列
func (p *EventProcess) Handle(ctx context.Context) error {
	dataIdTag := cast.ToString(p.DataId)
	startTime := time.Now()

	lock := redis.NewServiceLock(
		redis.GetInstance().Client,
		key.ServiceLockKey.Key(key.P{"name": "access.event", "key": p.DataId}),
		key.ServiceLockKey.TTL(),
	)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer lock.Release(ctx)

	rds := redis.GetInstance()
	bufferKey := key.DataIdBufferKey.Key(key.P{"data_id": p.DataId})
	rawRecords, err := rds.ListRangeAndTrim(bufferKey, int64(common.DefaultEventBatchSize))
	if err != nil {
		return err
	}
	if len(rawRecords) == 0 {
		return nil
	}

	count := 0
	for _, raw := range rawRecords {
		data, decodeErr := DecodeRecord([]byte(raw))
		if decodeErr != nil {
			logger.Warnf("gse data_id [%d] drop undecodable event: %s", p.DataId, decodeErr)
			continue
		}
		event, parseErr := ParseGseEvent(data)
		if parseErr != nil {
			logger.Debugf("gse data_id [%d] skip event: %s", p.DataId, parseErr)
			continue
		}
		if pushErr := p.pushAnomaly(event); pushErr != nil {
			logger.Errorf("push gse event anomaly failed: %s", pushErr)
			continue
		}
		count++
	}
	metrics.AccessProcessCount(dataIdTag, "success", count)
	metrics.AccessProcessCostTime(dataIdTag, startTime)
	return nil
}

// pushAnomaly 事件即异常: 写marker 推checkpoint 入异常队列
func (p *EventProcess) pushAnomaly(event *GseEvent) error {
	strategyIds := p.cache.GseAlarmStrategyIds(event.BkBizId)
	if strategyIds.Cardinality() == 0 {
		return nil
	}
	rds := redis.GetInstance()

	dims := map[string]any{
		"bk_target_ip":       event.Ip,
		"bk_target_cloud_id": event.CloudId,
		"alert_name":         event.Name,
	}
	dimsMd5 := DimensionsMd5(dims)

	pipe := rds.Client.Pipeline()
	var signals []any
	for strategyId := range strategyIds.Iter() {
		s, ok := p.cache.GetById(strategyId)
		if !ok {
			continue
		}
		for i := range s.Items {
			item := &s.Items[i]
			level := common.LevelWarning
			if len(item.Algorithms) > 0 {
				level = item.Algorithms[0].Level
			}

			advanced, err := checkresult.AdvanceCheckpoint(s.Id, item.Id, dimsMd5, level, event.Time)
			if err != nil {
				return err
			}
			if !advanced {
				// 同一主机同类事件重放 已经处理过
				continue
			}
			marker := checkresult.Marker{Timestamp: event.Time, Label: common.AnomalyLabel}
			if err := checkresult.AddMarker(s.Id, item.Id, dimsMd5, level, marker, common.DefaultDetectWindowTTL); err != nil {
				return err
			}

			// 与detect产出同构 trigger按point解包
			payload, err := jsonx.MarshalString(&detect.AnomalyPoint{
				AnomalyId: detect.NewAnomalyId(dimsMd5, event.Time, s.Id, item.Id, level),
				Point: &detect.Point{
					StrategyId:          s.Id,
					ItemId:              item.Id,
					StrategySnapshotKey: s.SnapshotKey(),
					Time:                event.Time,
					Dimensions:          dims,
					DimsMd5:             dimsMd5,
				},
				Level:               level,
				AnomalyMessage:      fmt.Sprintf("收到%s事件", event.Name),
				StrategySnapshotKey: s.SnapshotKey(),
			})
			if err != nil {
				return err
			}
			listKey := key.AnomalyListKey.Key(key.P{"strategy_id": s.Id, "item_id": item.Id})
			pipe.LPush(rds.Ctx(), listKey, payload)
			pipe.Expire(rds.Ctx(), listKey, key.AnomalyListKey.TTL())
			signals = append(signals, fmt.Sprintf("%d.%d", s.Id, item.Id))
		}
	}
	if len(signals) > 0 {
		signalKey := key.AnomalySignalKey.Key(nil)
		pipe.LPush(rds.Ctx(), signalKey, signals...)
		pipe.Expire(rds.Ctx(), signalKey, key.AnomalySignalKey.TTL())
	}
	_, err := pipe.Exec(rds.Ctx())
	return err
}
