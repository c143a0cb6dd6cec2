// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cast"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/common"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/checkresult"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/event"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/metrics"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
)

// anomalyPayload detect推送的异常点结构
type anomalyPayload struct {
	AnomalyId string `json:"anomaly_id"`
	Point     struct {
		Time       int64          `json:"time"`
		Value      *float64       `json:"value"`
		Dimensions map[string]any `json:"dimensions"`
		DimsMd5    string         `json:"dims_md5"`
	} `json:"point"`
	Level               int    `json:"level"`
	AnomalyMessage      string `json:"anomaly_message"`
	StrategySnapshotKey string `json:"strategy_snapshot_key"`
}

// Processor 消费异常信号并驱动触发状态机
type Processor struct {
	cache *strategy.Cache
	now   func() time.Time
}

func NewProcessor() *Processor {
	return &Processor{cache: strategy.GetCache(), now: time.Now}
}

// Handle 单轮: 消费一批异常信号
func (p *Processor) Handle() error {
	rds := redis.GetInstance()
	signals, err := rds.ListRangeAndTrim(key.AnomalySignalKey.Key(nil), int64(config.DetectBatchSignalNum))
	if err != nil {
		return err
	}
	for _, signal := range lo.Uniq(signals) {
		if err := p.processSignal(signal); err != nil {
			logger.Errorf("trigger signal [%s] failed: %s", signal, err)
		}
	}
	return nil
}

func (p *Processor) processSignal(signal string) error {
	idx := strings.Index(signal, ".")
	if idx <= 0 {
		return fmt.Errorf("invalid trigger signal: %s", signal)
	}
	strategyId := cast.ToInt(signal[:idx])
	itemId := cast.ToInt(signal[idx+1:])

	s, ok := p.cache.GetById(strategyId)
	if !ok {
		logger.Infof("strategy [%d] is gone, drop trigger signal", strategyId)
		return nil
	}

	rds := redis.GetInstance()
	listKey := key.AnomalyListKey.Key(key.P{"strategy_id": strategyId, "item_id": itemId})
	rawAnomalies, err := rds.ListRangeAndTrim(listKey, int64(config.AccessMaxRetrieveNumber))
	if err != nil {
		return err
	}

	dedupeKey := key.TriggerDedupeKey.Key(key.P{"strategy_id": strategyId, "item_id": itemId})
	var events []*event.Event
	for _, raw := range rawAnomalies {
		var anomaly anomalyPayload
		if err := jsonx.UnmarshalString(raw, &anomaly); err != nil {
			logger.Warnf("drop unparsable anomaly for [%s]: %s", signal, err)
			continue
		}
		if anomaly.AnomalyId != "" {
			added, dedupeErr := rds.Client.SAdd(rds.Ctx(), dedupeKey, anomaly.AnomalyId).Result()
			if dedupeErr != nil {
				logger.Warnf("dedupe anomaly [%s] failed: %s", anomaly.AnomalyId, dedupeErr)
			} else if added == 0 {
				// 重复投递的异常点 已推进过状态机
				continue
			}
			rds.Client.Expire(rds.Ctx(), dedupeKey, key.TriggerDedupeKey.TTL())
		}
		evt, err := p.advance(s, strategyId, itemId, &anomaly)
		if err != nil {
			logger.Warnf("advance trigger state for [%s] failed: %s", signal, err)
			continue
		}
		if evt != nil {
			events = append(events, evt)
		}
	}
	return p.pushEvents(events)
}

// advance 对单个异常点推进状态机 必要时产出事件
func (p *Processor) advance(s *strategy.Strategy, strategyId, itemId int, anomaly *anomalyPayload) (*event.Event, error) {
	detect, ok := s.DetectOf(anomaly.Level)
	if !ok {
		return nil, fmt.Errorf("strategy [%d] has no detect config of level [%d]", strategyId, anomaly.Level)
	}
	if !InUptime(detect.TriggerConfig.Uptime, p.now()) {
		return nil, nil
	}

	markers, err := checkresult.LastMarkers(strategyId, itemId, anomaly.Point.DimsMd5, anomaly.Level, TriggerWindowOffset(detect))
	if err != nil {
		return nil, err
	}

	rds := redis.GetInstance()
	spec := key.TriggerStateKey
	stateKey := spec.Key(key.P{"strategy_id": strategyId, "item_id": itemId})
	stateField := spec.Field(key.P{"dims_md5": anomaly.Point.DimsMd5, "level": anomaly.Level})
	current, _ := rds.HGet(stateKey, stateField)

	decision := Advance(current, markers,
		detect.TriggerConfig.Count, detect.TriggerConfig.CheckWindow, detect.RecoveryConfig.CheckWindow)
	if decision.State != current {
		if err := rds.HSet(stateKey, stateField, decision.State); err != nil {
			return nil, err
		}
		rds.Client.Expire(rds.Ctx(), stateKey, spec.TTL())
	}

	if !decision.EmitAnomaly && !decision.EmitRecovery {
		return nil, nil
	}

	signalKind := common.ActionSignalAbnormal
	if decision.EmitRecovery {
		signalKind = common.ActionSignalRecovered
	}
	metrics.TriggerEventCount(cast.ToString(strategyId), signalKind)

	eventId := anomaly.AnomalyId
	if eventId == "" {
		eventId = event.NewEventId(anomaly.Point.DimsMd5, anomaly.Point.Time, strategyId, itemId, anomaly.Level)
	}
	return &event.Event{
		EventId:             eventId,
		PluginId:            "bkmonitor",
		AlertName:           s.Name,
		Time:                anomaly.Point.Time,
		Tags:                anomaly.Point.Dimensions,
		Severity:            anomaly.Level,
		Target:              targetOf(anomaly.Point.Dimensions),
		StrategyId:          strategyId,
		ItemId:              itemId,
		IsRecovery:          decision.EmitRecovery,
		Description:         anomaly.AnomalyMessage,
		StrategySnapshotKey: anomaly.StrategySnapshotKey,
	}, nil
}

func targetOf(dims map[string]any) string {
	ip := cast.ToString(dims["bk_target_ip"])
	if ip == "" {
		ip = cast.ToString(dims["ip"])
	}
	if ip == "" {
		return ""
	}
	cloudId := cast.ToString(dims["bk_target_cloud_id"])
	if cloudId == "" {
		cloudId = "0"
	}
	return fmt.Sprintf("%s|%s", ip, cloudId)
}

func (p *Processor) pushEvents(events []*event.Event) error {
	if len(events) == 0 {
		return nil
	}
	rds := redis.GetInstance()
	payloads := make([]any, 0, len(events))
	for _, evt := range events {
		payload, err := evt.Marshal()
		if err != nil {
			logger.Warnf("serialize event [%s] failed: %s", evt.EventId, err)
			continue
		}
		payloads = append(payloads, payload)
	}
	if len(payloads) == 0 {
		return nil
	}
	eventKey := key.TriggerEventListKey.Key(nil)
	pipe := rds.Client.Pipeline()
	pipe.LPush(rds.Ctx(), eventKey, payloads...)
	pipe.Expire(rds.Ctx(), eventKey, key.TriggerEventListKey.TTL())
	_, err := pipe.Exec(rds.Ctx())
	return err
}
