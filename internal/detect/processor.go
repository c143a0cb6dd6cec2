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
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cast"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/common"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/checkresult"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/metrics"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/runtimex"
)

// Processor 批量消费检测信号 协程池内per(策略, 监控项)执行检测
type Processor struct {
	pool  *ants.Pool
	cache *strategy.Cache
}

func NewProcessor() (*Processor, error) {
	pool, err := ants.NewPool(config.DetectWorkerPoolSize)
	if err != nil {
		return nil, errors.Wrap(err, "create detect worker pool failed")
	}
	return &Processor{pool: pool, cache: strategy.GetCache()}, nil
}

// Release 回收协程池
func (p *Processor) Release() {
	p.pool.Release()
}

// Handle 单轮: 消费一批信号 去重后并发检测
func (p *Processor) Handle() error {
	rds := redis.GetInstance()
	signals, err := rds.ListRangeAndTrim(key.DataSignalKey.Key(nil), int64(config.DetectBatchSignalNum))
	if err != nil {
		return err
	}
	signals = lo.Uniq(signals)
	if len(signals) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, signal := range signals {
		signal := signal
		wg.Add(1)
		submitErr := p.pool.Submit(func() {
			defer wg.Done()
			defer runtimex.HandleCrash()
			if err := p.processSignal(signal); err != nil {
				logger.Errorf("detect signal [%s] failed: %s", signal, err)
			}
		})
		if submitErr != nil {
			wg.Done()
			logger.Errorf("submit detect task for [%s] failed: %s", signal, submitErr)
		}
	}
	wg.Wait()
	return nil
}

func (p *Processor) processSignal(signal string) error {
	startTime := time.Now()
	idx := strings.Index(signal, ".")
	if idx <= 0 {
		return errors.Errorf("invalid detect signal: %s", signal)
	}
	strategyId := cast.ToInt(signal[:idx])
	itemId := cast.ToInt(signal[idx+1:])
	strategyTag := cast.ToString(strategyId)

	s, ok := p.cache.GetById(strategyId)
	if !ok {
		logger.Infof("strategy [%d] is gone, drop signal [%s]", strategyId, signal)
		return nil
	}
	var item *strategy.Item
	for i := range s.Items {
		if s.Items[i].Id == itemId {
			item = &s.Items[i]
			break
		}
	}
	if item == nil {
		logger.Infof("item [%d] is gone from strategy [%d], drop signal", itemId, strategyId)
		return nil
	}

	points, err := p.pullPoints(strategyId, itemId)
	if err != nil {
		metrics.DetectCount(strategyTag, "failed", 1)
		return err
	}
	if len(points) == 0 {
		return nil
	}

	windowTtl := p.windowTtl(s, item)
	if err := StoreHistoryPoints(points, windowTtl); err != nil {
		logger.Warnf("store history points for [%s] failed: %s", signal, err)
	}

	anomalies, err := p.detectPoints(s, item, points, windowTtl)
	if err != nil {
		metrics.DetectCount(strategyTag, "failed", 1)
		return err
	}

	metrics.DetectCount(strategyTag, "success", len(points))
	if len(anomalies) > 0 {
		metrics.DetectCount(strategyTag, "anomaly", len(anomalies))
		if err := p.pushAnomalies(strategyId, itemId, anomalies); err != nil {
			return err
		}
	}
	metrics.DetectCostTime(strategyTag, startTime)
	return nil
}

func (p *Processor) pullPoints(strategyId, itemId int) ([]*Point, error) {
	rds := redis.GetInstance()
	listKey := key.DataListKey.Key(key.P{"strategy_id": strategyId, "item_id": itemId})
	rawPoints, err := rds.ListRangeAndTrim(listKey, int64(config.AccessMaxRetrieveNumber))
	if err != nil {
		return nil, err
	}
	points := make([]*Point, 0, len(rawPoints))
	for _, raw := range rawPoints {
		point, parseErr := ParsePoint(raw)
		if parseErr != nil {
			logger.Warnf("drop unparsable point for [%d.%d]: %s", strategyId, itemId, parseErr)
			continue
		}
		if point.DimsMd5 == "" {
			point.DimsMd5 = dimsMd5Of(point.Dimensions)
		}
		points = append(points, point)
	}
	// LRANGE取出的批次新在前 按时间正序处理才能让checkpoint只进不退
	sort.SliceStable(points, func(i, j int) bool { return points[i].Time < points[j].Time })
	return points, nil
}

// windowTtl 检测窗口数据保留时长 覆盖最大触发+恢复窗口
func (p *Processor) windowTtl(s *strategy.Strategy, item *strategy.Item) time.Duration {
	maxWindow := 0
	for _, detect := range s.Detects {
		window := detect.TriggerConfig.CheckWindow + detect.RecoveryConfig.CheckWindow
		if window > maxWindow {
			maxWindow = window
		}
	}
	ttl := time.Duration(item.AggInterval()*int64(maxWindow+5)) * time.Second
	if ttl < common.DefaultDetectWindowTTL {
		ttl = common.DefaultDetectWindowTTL
	}
	return ttl
}

// levelDetectors 某级别的检测器集合 配置不合法返回ErrInvalidAlgorithmsConfig
func levelDetectors(item *strategy.Item, level int) ([]Detector, error) {
	var detectors []Detector
	for _, algorithm := range item.Algorithms {
		if algorithm.Level != level {
			continue
		}
		detector, err := NewDetector(algorithm)
		if err != nil {
			return nil, err
		}
		if aware, ok := detector.(intervalAware); ok {
			aware.SetAggInterval(item.AggInterval())
		}
		detectors = append(detectors, detector)
	}
	return detectors, nil
}

// historyOffsets 级别下全部检测器声明的历史偏移并集
func historyOffsets(detectors []Detector) []int64 {
	var offsets []int64
	for _, detector := range detectors {
		if fetcher, ok := detector.(HistoryPointFetcher); ok {
			offsets = append(offsets, fetcher.HistoryOffsets()...)
		}
	}
	return lo.Uniq(offsets)
}

func (p *Processor) detectPoints(s *strategy.Strategy, item *strategy.Item, points []*Point, windowTtl time.Duration) ([]*AnomalyPoint, error) {
	var anomalies []*AnomalyPoint

	for _, detect := range s.Detects {
		detectors, err := levelDetectors(item, detect.Level)
		if err != nil {
			if errors.Is(err, ErrInvalidAlgorithmsConfig) {
				logger.Errorf("strategy [%d] item [%d] level [%d] has invalid algorithms config, skip: %s",
					s.Id, item.Id, detect.Level, err)
				continue
			}
			return nil, err
		}
		if len(detectors) == 0 {
			continue
		}
		offsets := historyOffsets(detectors)
		connector := detect.Connector
		if connector == "" {
			connector = "and"
		}

		for _, point := range points {
			detectCtx := &Context{Unit: unitOf(item), History: map[int64]*Point{}}
			if len(offsets) > 0 {
				timestamps := lo.Map(offsets, func(offset int64, _ int) int64 { return point.Time - offset })
				history, fetchErr := FetchHistory(s.Id, item.Id, point.DimsMd5, timestamps)
				if fetchErr != nil {
					logger.Warnf("fetch history for [%d.%d] failed: %s", s.Id, item.Id, fetchErr)
				}
				for _, offset := range offsets {
					if historyPoint, ok := history[point.Time-offset]; ok {
						detectCtx.History[offset] = historyPoint
					}
				}
			}

			advanced, err := checkresult.AdvanceCheckpoint(s.Id, item.Id, point.DimsMd5, detect.Level, point.Time)
			if err != nil {
				logger.Warnf("advance checkpoint failed: %s", err)
				continue
			}
			if !advanced {
				// 重放或乱序的旧点 已检测过 静默丢弃
				continue
			}

			anomalyMessage, isAnomaly := runDetectors(detectors, connector, detectCtx, point)
			marker := checkresult.Marker{Timestamp: point.Time, Label: markerLabel(point, isAnomaly)}
			if err := checkresult.AddMarker(s.Id, item.Id, point.DimsMd5, detect.Level, marker, windowTtl); err != nil {
				logger.Warnf("add check result marker failed: %s", err)
			}
			if isAnomaly {
				anomalies = append(anomalies, &AnomalyPoint{
					AnomalyId:           NewAnomalyId(point.DimsMd5, point.Time, s.Id, item.Id, detect.Level),
					Point:               point,
					Level:               detect.Level,
					AnomalyMessage:      anomalyMessage,
					StrategySnapshotKey: point.StrategySnapshotKey,
				})
			}
		}
	}
	return anomalies, nil
}

// runDetectors 按connector组合子检测器结果
// 历史数据缺失视为未检出 其他错误同样不标记异常但记日志
func runDetectors(detectors []Detector, connector string, ctx *Context, point *Point) (string, bool) {
	var messages []string
	for _, detector := range detectors {
		result, err := detector.Detect(ctx, point)
		if err != nil {
			if !errors.Is(err, ErrHistoryDataNotExists) {
				logger.Warnf("detector failed for point at %d: %s", point.Time, err)
			}
			result = nil
		}
		if result == nil {
			if connector == "and" {
				return "", false
			}
			continue
		}
		messages = append(messages, result.AnomalyMessage)
		if connector == "or" {
			return result.AnomalyMessage, true
		}
	}
	if len(messages) == 0 {
		return "", false
	}
	return strings.Join(messages, " 同时 "), true
}

func markerLabel(point *Point, isAnomaly bool) string {
	if isAnomaly {
		return common.AnomalyLabel
	}
	if point.Value == nil {
		return "null"
	}
	return formatValue(*point.Value)
}

func unitOf(item *strategy.Item) string {
	for _, qc := range item.QueryConfigs {
		if qc.Unit != "" {
			return qc.Unit
		}
	}
	return ""
}

// pushAnomalies 异常点入队并追加信号 单pipeline保证信号可见时队列非空
func (p *Processor) pushAnomalies(strategyId, itemId int, anomalies []*AnomalyPoint) error {
	rds := redis.GetInstance()
	listKey := key.AnomalyListKey.Key(key.P{"strategy_id": strategyId, "item_id": itemId})

	payloads := make([]any, 0, len(anomalies))
	for _, anomaly := range anomalies {
		payload, err := jsonx.MarshalString(anomaly)
		if err != nil {
			logger.Warnf("serialize anomaly point failed: %s", err)
			continue
		}
		payloads = append(payloads, payload)
	}
	if len(payloads) == 0 {
		return nil
	}

	pipe := rds.Client.Pipeline()
	pipe.LPush(rds.Ctx(), listKey, payloads...)
	pipe.Expire(rds.Ctx(), listKey, key.AnomalyListKey.TTL())
	signalKey := key.AnomalySignalKey.Key(nil)
	pipe.LPush(rds.Ctx(), signalKey, fmt.Sprintf("%d.%d", strategyId, itemId))
	pipe.Expire(rds.Ctx(), signalKey, key.AnomalySignalKey.TTL())
	_, err := pipe.Exec(rds.Ctx())
	return err
}
