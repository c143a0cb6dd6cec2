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
	"context"
	"time"

	goRedis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/common"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/event"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/metrics"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/elasticsearch"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
)

// Signal alert阶段写给action阶段的动作触发信号
type Signal struct {
	Signal     string `json:"signal"`
	AlertId    int64  `json:"alert_id"`
	BkBizId    int    `json:"bk_biz_id"`
	Severity   int    `json:"severity"`
	StrategyId int    `json:"strategy_id"`
	AlertName  string `json:"alert_name"`
	DedupeMd5  string `json:"dedupe_md5"`
}

// DocumentStore 告警文档存储 生产实现为elasticsearch客户端
type DocumentStore interface {
	IndexDocument(ctx context.Context, index, docId string, doc any) error
	GetDocument(ctx context.Context, index, docId string) ([]byte, error)
	Search(ctx context.Context, index string, query map[string]any, timeout time.Duration) ([][]byte, error)
}

var _ DocumentStore = (*elasticsearch.Elasticsearch)(nil)

// Manager 消费trigger事件队列 维护告警文档与去重索引
type Manager struct {
	cache *strategy.Cache
	es    DocumentStore
	now   func() time.Time
}

func NewManager(es DocumentStore) *Manager {
	return &Manager{cache: strategy.GetCache(), es: es, now: time.Now}
}

// Handle 单轮处理 拉取一批事件后逐条落盘
func (m *Manager) Handle(ctx context.Context) error {
	rds := redis.GetInstance()
	listKey := key.TriggerEventListKey.Key(nil)
	rawEvents, err := rds.ListRangeAndTrim(listKey, int64(config.AccessMaxBuildEventNum))
	if err != nil {
		return errors.Wrap(err, "pull trigger events failed")
	}

	for _, raw := range rawEvents {
		evt, err := event.Parse(raw)
		if err != nil {
			logger.Warnf("discard unparsable event: %v", err)
			metrics.AlertCount("parse_failed")
			continue
		}
		if err := m.process(ctx, evt); err != nil {
			logger.Errorf("process event [%s] failed: %v", evt.EventId, err)
			metrics.AlertCount("failed")
		}
	}
	return nil
}

func (m *Manager) process(ctx context.Context, evt *event.Event) error {
	s, _ := m.cache.GetById(evt.StrategyId)
	if s != nil && len(evt.DedupeKeys) == 0 {
		evt.DedupeKeys = s.DedupeKeys
	}
	dedupeMd5 := evt.DedupeMd5()

	rds := redis.GetInstance()
	bizId := 0
	if s != nil {
		bizId = s.BkBizId
	}
	dedupeKey := key.AlertDedupeKey.Key(key.P{"bk_biz_id": bizId})
	dedupeField := key.AlertDedupeKey.Field(key.P{"dedupe_md5": dedupeMd5})

	existing, err := rds.HGet(dedupeKey, dedupeField)
	if err != nil && !errors.Is(err, goRedis.Nil) {
		return errors.Wrap(err, "query dedupe index failed")
	}

	if evt.IsRecovery {
		if existing == "" {
			// 没有在途告警的恢复信号直接丢弃
			return nil
		}
		return m.recover(ctx, evt, cast.ToInt64(existing), dedupeKey, dedupeField)
	}

	if existing != "" {
		return m.extend(ctx, evt, cast.ToInt64(existing), dedupeMd5)
	}
	return m.create(ctx, evt, s, bizId, dedupeMd5, dedupeKey, dedupeField)
}

// create 新建告警文档 去重索引与文档写入之间不做事务
// 索引写失败下个事件会重建 代价是极端情况下重复告警
func (m *Manager) create(ctx context.Context, evt *event.Event, s *strategy.Strategy, bizId int, dedupeMd5, dedupeKey, dedupeField string) error {
	alertId, err := NextId(m.now())
	if err != nil {
		return errors.Wrap(err, "generate alert id failed")
	}

	a := &Alert{
		Id:                  alertId,
		BkBizId:             bizId,
		AlertName:           evt.AlertName,
		DedupeMd5:           dedupeMd5,
		Severity:            evt.Severity,
		Status:              common.AlertStatusAbnormal,
		BeginTime:           evt.Time,
		LatestTime:          evt.Time,
		StrategyId:          evt.StrategyId,
		Target:              evt.Target,
		Description:         evt.Description,
		Tags:                evt.Tags,
		EventCount:          1,
		StrategySnapshotKey: evt.StrategySnapshotKey,
	}
	if s != nil {
		a.Assignee = s.Notice.Assignees
	}

	if err := m.save(ctx, a); err != nil {
		return err
	}

	rds := redis.GetInstance()
	if err := rds.HSet(dedupeKey, dedupeField, cast.ToString(alertId)); err != nil {
		return errors.Wrap(err, "update dedupe index failed")
	}
	rds.Client.Expire(rds.Ctx(), dedupeKey, key.AlertDedupeKey.TTL())

	metrics.AlertCount("created")
	return m.emitSignal(common.ActionSignalAbnormal, a)
}

// extend 同身份告警已存在 只延长时间线
func (m *Manager) extend(ctx context.Context, evt *event.Event, alertId int64, dedupeMd5 string) error {
	a, err := m.load(ctx, alertId)
	if err != nil {
		return err
	}
	if a == nil {
		// 索引指向的文档丢了 当作全新告警处理会换id 这里直接放弃本条
		return errors.Errorf("dedupe index points to missing alert [%d]", alertId)
	}

	if evt.Time > a.LatestTime {
		a.LatestTime = evt.Time
	}
	a.EventCount++

	escalated := false
	if config.AlertSeverityEscalate && evt.Severity < a.Severity {
		a.Severity = evt.Severity
		a.Description = evt.Description
		escalated = true
	}

	if err := m.save(ctx, a); err != nil {
		return err
	}
	metrics.AlertCount("extended")
	if escalated {
		// 升级视作一次新的异常通知
		return m.emitSignal(common.ActionSignalAbnormal, a)
	}
	return nil
}

// recover 恢复信号关闭在途告警并清理去重索引
func (m *Manager) recover(ctx context.Context, evt *event.Event, alertId int64, dedupeKey, dedupeField string) error {
	a, err := m.load(ctx, alertId)
	if err != nil {
		return err
	}
	rds := redis.GetInstance()
	if a == nil {
		rds.Client.HDel(rds.Ctx(), dedupeKey, dedupeField)
		return nil
	}

	a.Status = common.AlertStatusRecovered
	a.EndTime = evt.Time
	if evt.Time > a.LatestTime {
		a.LatestTime = evt.Time
	}
	if err := m.save(ctx, a); err != nil {
		return err
	}
	if _, err := rds.Client.HDel(rds.Ctx(), dedupeKey, dedupeField).Result(); err != nil {
		return errors.Wrap(err, "clean dedupe index failed")
	}
	metrics.AlertCount("recovered")
	return m.emitSignal(common.ActionSignalRecovered, a)
}

// Sweep 扫描长时间无事件的异常告警做超时关闭
func (m *Manager) Sweep(ctx context.Context) error {
	deadline := m.now().Unix() - int64(config.AlertCloseAfter)
	query := map[string]any{
		"size": config.AccessMaxBuildEventNum,
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []map[string]any{
					{"term": map[string]any{"status": common.AlertStatusAbnormal}},
					{"range": map[string]any{"latest_time": map[string]any{"lt": deadline}}},
				},
			},
		},
	}
	timeout := time.Duration(config.StorageEsQueryTimeout) * time.Millisecond
	sources, err := m.es.Search(ctx, config.StorageEsAlertIndex, query, timeout)
	if err != nil {
		return errors.Wrap(err, "sweep query failed")
	}

	rds := redis.GetInstance()
	for _, source := range sources {
		var a Alert
		if err := jsonx.Unmarshal(source, &a); err != nil {
			logger.Warnf("discard unparsable alert doc during sweep: %v", err)
			continue
		}
		a.Status = common.AlertStatusClosed
		a.EndTime = m.now().Unix()
		if err := m.save(ctx, &a); err != nil {
			logger.Errorf("close alert [%d] failed: %v", a.Id, err)
			continue
		}
		dedupeKey := key.AlertDedupeKey.Key(key.P{"bk_biz_id": a.BkBizId})
		dedupeField := key.AlertDedupeKey.Field(key.P{"dedupe_md5": a.DedupeMd5})
		rds.Client.HDel(rds.Ctx(), dedupeKey, dedupeField)
		metrics.AlertCount("closed")
		if err := m.emitSignal(common.ActionSignalClosed, &a); err != nil {
			logger.Errorf("emit closed signal for alert [%d] failed: %v", a.Id, err)
		}
	}
	return nil
}

// Ack 确认告警 后续周期不再重复通知
func (m *Manager) Ack(ctx context.Context, alertId int64) error {
	a, err := m.load(ctx, alertId)
	if err != nil {
		return err
	}
	if a == nil {
		return errors.Errorf("alert [%d] not found", alertId)
	}
	if a.IsAck {
		return nil
	}
	a.IsAck = true
	if err := m.save(ctx, a); err != nil {
		return err
	}
	return m.emitSignal(common.ActionSignalAck, a)
}

// Close 手动关闭告警
func (m *Manager) Close(ctx context.Context, alertId int64) error {
	a, err := m.load(ctx, alertId)
	if err != nil {
		return err
	}
	if a == nil {
		return errors.Errorf("alert [%d] not found", alertId)
	}
	if a.Status == common.AlertStatusClosed {
		return nil
	}
	a.Status = common.AlertStatusClosed
	a.EndTime = m.now().Unix()
	if err := m.save(ctx, a); err != nil {
		return err
	}

	rds := redis.GetInstance()
	dedupeKey := key.AlertDedupeKey.Key(key.P{"bk_biz_id": a.BkBizId})
	dedupeField := key.AlertDedupeKey.Field(key.P{"dedupe_md5": a.DedupeMd5})
	rds.Client.HDel(rds.Ctx(), dedupeKey, dedupeField)
	metrics.AlertCount("closed")
	return m.emitSignal(common.ActionSignalClosed, a)
}

func (m *Manager) load(ctx context.Context, alertId int64) (*Alert, error) {
	source, err := m.es.GetDocument(ctx, config.StorageEsAlertIndex, cast.ToString(alertId))
	if err != nil {
		return nil, errors.Wrapf(err, "load alert [%d] failed", alertId)
	}
	if source == nil {
		return nil, nil
	}
	var a Alert
	if err := jsonx.Unmarshal(source, &a); err != nil {
		return nil, errors.Wrapf(err, "unmarshal alert [%d] failed", alertId)
	}
	return &a, nil
}

func (m *Manager) save(ctx context.Context, a *Alert) error {
	return m.es.IndexDocument(ctx, config.StorageEsAlertIndex, cast.ToString(a.Id), a)
}

func (m *Manager) emitSignal(signal string, a *Alert) error {
	payload, err := jsonx.MarshalString(&Signal{
		Signal:     signal,
		AlertId:    a.Id,
		BkBizId:    a.BkBizId,
		Severity:   a.Severity,
		StrategyId: a.StrategyId,
		AlertName:  a.AlertName,
		DedupeMd5:  a.DedupeMd5,
	})
	if err != nil {
		return errors.Wrap(err, "marshal action signal failed")
	}

	rds := redis.GetInstance()
	signalKey := key.ActionSignalListKey.Key(nil)
	if err := rds.LPush(signalKey, payload); err != nil {
		return errors.Wrap(err, "push action signal failed")
	}
	rds.Client.Expire(rds.Ctx(), signalKey, key.ActionSignalListKey.TTL())
	return nil
}
