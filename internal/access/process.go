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
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cast"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/common"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/metrics"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
)

// pushChunkSize 单次LPUSH的最大条数 避免单命令报文过大
const pushChunkSize = 10000

// overloadFactor 积压超过单次拉取量的该倍数时告警日志提示过载
const overloadFactor = 10

// Process 单data_id的access数据处理
type Process struct {
	DataId int

	cache     *strategy.Cache
	filters   []Filter
	qos       *Qos
	priority  *PriorityChecker
	inhibitor *Inhibitor
}

func NewProcess(dataId int) *Process {
	return &Process{
		DataId: dataId,
		cache:  strategy.GetCache(),
		filters: []Filter{
			NewExpireFilter(),
			NewHostStatusFilter(),
			NewRangeFilter(),
			NewConditionFilter(),
		},
		qos:       NewQos(),
		priority:  NewPriorityChecker(),
		inhibitor: NewInhibitor(),
	}
}

// Handle 单轮处理: 抢锁->拉取->过滤->限流->推送
func (p *Process) Handle(ctx context.Context) error {
	startTime := time.Now()
	dataIdTag := cast.ToString(p.DataId)

	lock := redis.NewServiceLock(
		redis.GetInstance().Client,
		key.ServiceLockKey.Key(key.P{"name": "access", "key": p.DataId}),
		key.ServiceLockKey.TTL(),
	)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return err
	}
	if !acquired {
		logger.Debugf("access data_id [%d] is handled by another worker, skip", p.DataId)
		return nil
	}
	defer lock.Release(ctx)

	records, err := p.pull(ctx)
	if err != nil {
		metrics.AccessProcessCount(dataIdTag, "failed", 1)
		return err
	}
	if len(records) == 0 {
		return nil
	}

	retained := p.handleRecords(ctx, records)
	if err := p.push(retained); err != nil {
		metrics.AccessProcessCount(dataIdTag, "failed", 1)
		return err
	}

	metrics.AccessProcessCount(dataIdTag, "success", len(records))
	metrics.AccessProcessCostTime(dataIdTag, startTime)
	return nil
}

// pull 从data_id缓冲拉取一批原始数据 积压超限时整队列丢弃保可用
func (p *Process) pull(_ context.Context) ([]*DataRecord, error) {
	rds := redis.GetInstance()
	bufferKey := key.DataIdBufferKey.Key(key.P{"data_id": p.DataId})

	depth, err := rds.Client.LLen(rds.Ctx(), bufferKey).Result()
	if err != nil {
		return nil, err
	}
	metrics.QueueDepth(key.DataIdBufferKey.Label, depth)
	if depth > config.AccessListHardCap {
		logger.Errorf("data_id [%d] buffer depth %d exceeds hard cap %d, dropping whole queue",
			p.DataId, depth, config.AccessListHardCap)
		metrics.QueueDropCount(key.DataIdBufferKey.Label, depth)
		return nil, rds.Delete(bufferKey)
	}
	if depth > int64(overloadFactor*config.AccessMaxRetrieveNumber) {
		logger.Warnf("data_id [%d] buffer depth %d, access is overloaded", p.DataId, depth)
	}

	rawRecords, err := rds.ListRangeAndTrim(bufferKey, int64(config.AccessMaxRetrieveNumber))
	if err != nil {
		return nil, err
	}

	strategies := p.cache.GetByDataId(p.DataId)
	records := make([]*DataRecord, 0, len(rawRecords))
	for _, raw := range rawRecords {
		data, decodeErr := DecodeRecord([]byte(raw))
		if decodeErr != nil {
			logger.Warnf("data_id [%d] drop undecodable record: %s", p.DataId, decodeErr)
			continue
		}
		record, buildErr := NewDataRecord(data)
		if buildErr != nil {
			logger.Warnf("data_id [%d] drop invalid record: %s", p.DataId, buildErr)
			continue
		}
		record.Items = p.bind(strategies)
		if len(record.Items) == 0 {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// bind 构造数据与(策略, 监控项)的绑定 级别取检测配置中最严重的一档
func (p *Process) bind(strategies []*strategy.Strategy) []*ItemRecord {
	var bindings []*ItemRecord
	for _, s := range strategies {
		level := common.LevelRemind
		for _, detect := range s.Detects {
			if detect.Level < level {
				level = detect.Level
			}
		}
		for i := range s.Items {
			bindings = append(bindings, &ItemRecord{Strategy: s, Item: &s.Items[i], Level: level})
		}
	}
	return bindings
}

// handleRecords 过滤链->抑制->优先级->QoS 返回保留的数据
func (p *Process) handleRecords(ctx context.Context, records []*DataRecord) []*DataRecord {
	var retained []*DataRecord
	dataIdTag := cast.ToString(p.DataId)

	for _, record := range records {
		dropped := false
		for _, filter := range p.filters {
			if filter.Drop(ctx, record) {
				metrics.AccessProcessCount(dataIdTag, "filtered."+filter.Name(), 1)
				dropped = true
				break
			}
		}
		if dropped {
			continue
		}

		dimsMd5 := DimensionsMd5(record.Dimensions)
		for _, itemRecord := range record.Items {
			p.priority.Stamp(itemRecord)
			if !p.priority.Check(itemRecord.Strategy, dimsMd5) {
				continue
			}
			if p.inhibitor.Inhibited(itemRecord, dimsMd5, record.Time) {
				itemRecord.Inhibited = true
				continue
			}
			if !p.qos.Allow(itemRecord.Strategy.BkBizId, itemRecord.Strategy.Id) {
				metrics.AccessProcessCount(dataIdTag, "qos_dropped", 1)
				continue
			}
			itemRecord.IsRetain = true
		}

		if len(lo.Filter(record.Items, func(ir *ItemRecord, _ int) bool { return ir.IsRetain })) > 0 {
			retained = append(retained, record)
		}
	}
	return retained
}

// isDuplicate 同策略组同数据时间同维度只接收一次
// 集合写入与判断一步完成 多worker重复消费也不会重复推送
func (p *Process) isDuplicate(strategyGroupKey string, dataTime int64, dimsMd5 string) bool {
	rds := redis.GetInstance()
	spec := key.AccessDuplicateKey
	dupKey := spec.Key(key.P{"strategy_group_key": strategyGroupKey, "dt_event_time": dataTime})
	added, err := rds.Client.SAdd(rds.Ctx(), dupKey, dimsMd5).Result()
	if err != nil {
		logger.Warnf("access duplicate check failed: %s", err)
		return false
	}
	rds.Client.Expire(rds.Ctx(), dupKey, spec.TTL())
	return added == 0
}

// push 按(策略, 监控项)分组推送到待检测队列并追加信号
// 单pipeline完成 保证信号出现时对应队列一定非空
func (p *Process) push(records []*DataRecord) error {
	if len(records) == 0 {
		return nil
	}
	rds := redis.GetInstance()

	type group struct {
		aggInterval int64
		serialized  []any
	}
	groups := make(map[string]*group)

	for _, record := range records {
		dimsMd5 := DimensionsMd5(record.Dimensions)
		for _, itemRecord := range record.Items {
			if !itemRecord.IsRetain {
				continue
			}
			signal := fmt.Sprintf("%d.%d", itemRecord.Strategy.Id, itemRecord.Item.Id)
			if p.isDuplicate(signal, record.Time, dimsMd5) {
				metrics.AccessProcessCount(cast.ToString(p.DataId), "duplicated", 1)
				continue
			}
			payload, err := jsonx.MarshalString(map[string]any{
				"strategy_id":           itemRecord.Strategy.Id,
				"item_id":               itemRecord.Item.Id,
				"strategy_snapshot_key": itemRecord.Strategy.SnapshotKey(),
				"priority":              itemRecord.Priority,
				"time":                  record.Time,
				"value":                 record.ValueFor(itemRecord.Item),
				"dimensions":            record.Dimensions,
			})
			if err != nil {
				logger.Warnf("serialize record for [%s] failed: %s", signal, err)
				continue
			}
			if _, ok := groups[signal]; !ok {
				groups[signal] = &group{aggInterval: itemRecord.Item.AggInterval()}
			}
			groups[signal].serialized = append(groups[signal].serialized, payload)
		}
	}
	if len(groups) == 0 {
		return nil
	}

	pipe := rds.Client.Pipeline()
	signals := make([]any, 0, len(groups))
	for signal, g := range groups {
		params := key.P{
			"strategy_id": signal[:strings.Index(signal, ".")],
			"item_id":     signal[strings.Index(signal, ".")+1:],
		}
		listKey := key.DataListKey.Key(params)
		for start := 0; start < len(g.serialized); start += pushChunkSize {
			end := start + pushChunkSize
			if end > len(g.serialized) {
				end = len(g.serialized)
			}
			pipe.LPush(rds.Ctx(), listKey, g.serialized[start:end]...)
		}
		ttl := key.DataListKey.TTL()
		if windowTtl := time.Duration(5*g.aggInterval) * time.Second; windowTtl > ttl {
			ttl = windowTtl
		}
		pipe.Expire(rds.Ctx(), listKey, ttl)
		signals = append(signals, signal)
	}
	signalKey := key.DataSignalKey.Key(nil)
	pipe.LPush(rds.Ctx(), signalKey, signals...)
	pipe.Expire(rds.Ctx(), signalKey, key.DataSignalKey.TTL())

	_, err := pipe.Exec(rds.Ctx())
	return err
}
