// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package strategy

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cast"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/memcache"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
)

// snapshotState 一次刷新构建出的全部索引 整体替换避免读写竞争
type snapshotState struct {
	strategies          map[int]*Strategy
	byBiz               map[int]mapset.Set[int]
	byDataSource        map[DataSourceKey]mapset.Set[int]
	byDataId            map[int]mapset.Set[int]
	gseAlarmStrategyIds map[int]mapset.Set[int]
	realTimeIds         mapset.Set[int]
	refreshTime         time.Time
}

func newSnapshotState() *snapshotState {
	return &snapshotState{
		strategies:          make(map[int]*Strategy),
		byBiz:               make(map[int]mapset.Set[int]),
		byDataSource:        make(map[DataSourceKey]mapset.Set[int]),
		byDataId:            make(map[int]mapset.Set[int]),
		gseAlarmStrategyIds: make(map[int]mapset.Set[int]),
		realTimeIds:         mapset.NewSet[int](),
	}
}

// Cache 策略缓存 周期刷新+失效通知触发刷新
type Cache struct {
	mut   sync.RWMutex
	state *snapshotState

	client *http.Client

	// consecutiveFailures 连续刷新失败次数 健康检查读取
	consecutiveFailures int
}

var (
	cacheInstance *Cache
	cacheOnce     sync.Once
)

// GetCache 策略缓存单例
func GetCache() *Cache {
	cacheOnce.Do(func() {
		cacheInstance = &Cache{
			state:  newSnapshotState(),
			client: &http.Client{Timeout: 30 * time.Second},
		}
	})
	return cacheInstance
}

type registryResponse struct {
	Result  bool       `json:"result"`
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    []Strategy `json:"data"`
}

func (c *Cache) fetch(ctx context.Context) ([]Strategy, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, config.StrategyRegistryUrl, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request strategy registry failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("strategy registry returned status [%d]", resp.StatusCode)
	}
	var body registryResponse
	if err = jsonx.Decode(resp.Body, &body); err != nil {
		return nil, errors.Wrap(err, "decode strategy registry response failed")
	}
	if !body.Result {
		return nil, errors.Errorf("strategy registry error: code=%d message=%s", body.Code, body.Message)
	}
	return body.Data, nil
}

// coerceAiopsTrigger 纯HostAnomalyDetection监控项的触发窗口固定为1次/5周期全天生效
// 上游AIOps已做过窗口聚合 用户配置的窗口在这里没有意义
func coerceAiopsTrigger(s *Strategy) {
	pure := len(s.Items) > 0 && lo.EveryBy(s.Items, func(item Item) bool { return item.IsPureAiops() })
	if !pure {
		return
	}
	for i := range s.Detects {
		s.Detects[i].TriggerConfig = TriggerConfig{
			Count:       1,
			CheckWindow: 5,
			Uptime: Uptime{
				TimeRanges: []TimeRange{{Start: "00:00", End: "23:59"}},
			},
		}
	}
}

func isGseBaseAlarm(s *Strategy) bool {
	for _, item := range s.Items {
		for _, qc := range item.QueryConfigs {
			if qc.DataSourceLabel == DataSourceBkMonitor && qc.DataTypeLabel == DataTypeEvent {
				return true
			}
		}
	}
	return false
}

// Refresh 拉取全量启用策略并重建索引 快照写入本地缓存
func (c *Cache) Refresh(ctx context.Context) error {
	strategies, err := c.fetch(ctx)
	if err != nil {
		c.mut.Lock()
		c.consecutiveFailures++
		c.mut.Unlock()
		return err
	}

	state := newSnapshotState()
	state.refreshTime = time.Now()
	for i := range strategies {
		s := &strategies[i]
		if !s.Enabled {
			continue
		}
		coerceAiopsTrigger(s)
		state.strategies[s.Id] = s

		if _, ok := state.byBiz[s.BkBizId]; !ok {
			state.byBiz[s.BkBizId] = mapset.NewSet[int]()
		}
		state.byBiz[s.BkBizId].Add(s.Id)

		for _, dsKey := range s.DataSourceKeys() {
			if _, ok := state.byDataSource[dsKey]; !ok {
				state.byDataSource[dsKey] = mapset.NewSet[int]()
			}
			state.byDataSource[dsKey].Add(s.Id)
		}

		for _, item := range s.Items {
			for _, qc := range item.QueryConfigs {
				if qc.BkDataId <= 0 {
					continue
				}
				if _, ok := state.byDataId[qc.BkDataId]; !ok {
					state.byDataId[qc.BkDataId] = mapset.NewSet[int]()
				}
				state.byDataId[qc.BkDataId].Add(s.Id)
			}
		}

		if isGseBaseAlarm(s) {
			if _, ok := state.gseAlarmStrategyIds[s.BkBizId]; !ok {
				state.gseAlarmStrategyIds[s.BkBizId] = mapset.NewSet[int]()
			}
			state.gseAlarmStrategyIds[s.BkBizId].Add(s.Id)
		}

		if s.IsRealTime() {
			state.realTimeIds.Add(s.Id)
		}
	}

	if cache, cacheErr := memcache.GetMemCache(); cacheErr == nil {
		for _, s := range state.strategies {
			cache.Put(s.SnapshotKey(), s, time.Duration(config.StrategyCacheTimeout)*time.Second)
		}
	}

	c.mut.Lock()
	c.state = state
	c.consecutiveFailures = 0
	c.mut.Unlock()

	c.recordRefreshTime(ctx)
	logger.Infof("strategy cache refreshed, %d enabled strategies loaded", len(state.strategies))
	return nil
}

func (c *Cache) recordRefreshTime(_ context.Context) {
	rds := redis.GetInstance()
	spec := key.CacheRefreshTimeKey
	if err := rds.HSet(spec.Key(nil), spec.Field(key.P{"cache_type": "strategy"}), cast.ToString(time.Now().Unix())); err != nil {
		logger.Warnf("record strategy cache refresh time failed: %s", err)
	}
}

// WatchInvalidation 订阅策略失效通知 收到即触发刷新 ctx结束返回
func (c *Cache) WatchInvalidation(ctx context.Context) {
	rds := redis.GetInstance()
	sub := rds.Client.Subscribe(ctx, config.StrategyInvalidationChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			logger.Infof("strategy invalidation received: %s", msg.Payload)
			if err := c.Refresh(ctx); err != nil {
				logger.Errorf("refresh strategy cache on invalidation failed: %s", err)
			}
		}
	}
}

// GetById 按id取策略
func (c *Cache) GetById(strategyId int) (*Strategy, bool) {
	c.mut.RLock()
	defer c.mut.RUnlock()
	s, ok := c.state.strategies[strategyId]
	return s, ok
}

// GetByBiz 按业务取策略列表
func (c *Cache) GetByBiz(bkBizId int) []*Strategy {
	c.mut.RLock()
	defer c.mut.RUnlock()
	ids, ok := c.state.byBiz[bkBizId]
	if !ok {
		return nil
	}
	result := make([]*Strategy, 0, ids.Cardinality())
	for id := range ids.Iter() {
		if s, exists := c.state.strategies[id]; exists {
			result = append(result, s)
		}
	}
	return result
}

// GetByDataSource 按数据源路由键取策略列表 access用它路由到位的数据
func (c *Cache) GetByDataSource(dsKey DataSourceKey) []*Strategy {
	c.mut.RLock()
	defer c.mut.RUnlock()
	ids, ok := c.state.byDataSource[dsKey]
	if !ok {
		return nil
	}
	result := make([]*Strategy, 0, ids.Cardinality())
	for id := range ids.Iter() {
		if s, exists := c.state.strategies[id]; exists {
			result = append(result, s)
		}
	}
	return result
}

// GetByDataId 按kafka data_id取策略列表
func (c *Cache) GetByDataId(dataId int) []*Strategy {
	c.mut.RLock()
	defer c.mut.RUnlock()
	ids, ok := c.state.byDataId[dataId]
	if !ok {
		return nil
	}
	result := make([]*Strategy, 0, ids.Cardinality())
	for id := range ids.Iter() {
		if s, exists := c.state.strategies[id]; exists {
			result = append(result, s)
		}
	}
	return result
}

// GseAlarmStrategyIds 业务下订阅OS基础事件流的策略id
func (c *Cache) GseAlarmStrategyIds(bkBizId int) mapset.Set[int] {
	c.mut.RLock()
	defer c.mut.RUnlock()
	if ids, ok := c.state.gseAlarmStrategyIds[bkBizId]; ok {
		return ids.Clone()
	}
	return mapset.NewSet[int]()
}

// IsRealTime 策略是否实时检测
func (c *Cache) IsRealTime(strategyId int) bool {
	c.mut.RLock()
	defer c.mut.RUnlock()
	return c.state.realTimeIds.Contains(strategyId)
}

// All 全部已载入策略
func (c *Cache) All() []*Strategy {
	c.mut.RLock()
	defer c.mut.RUnlock()
	return lo.Values(c.state.strategies)
}

// DataIds 全部策略涉及的kafka data_id集合 leader分配消费时使用
func (c *Cache) DataIds() []int {
	c.mut.RLock()
	defer c.mut.RUnlock()
	dataIds := mapset.NewSet[int]()
	for _, s := range c.state.strategies {
		for _, item := range s.Items {
			for _, qc := range item.QueryConfigs {
				if qc.BkDataId > 0 {
					dataIds.Add(qc.BkDataId)
				}
			}
		}
	}
	sorted := dataIds.ToSlice()
	sort.Ints(sorted)
	return sorted
}

// GetSnapshot 按快照key读取策略 告警处理回放产生告警那一刻的配置
func (c *Cache) GetSnapshot(snapshotKey string) (*Strategy, bool) {
	cache, err := memcache.GetMemCache()
	if err != nil {
		return nil, false
	}
	val, ok := cache.Get(snapshotKey)
	if !ok {
		return nil, false
	}
	s, ok := val.(*Strategy)
	if !ok {
		logger.Warnf("unexpected snapshot type for key [%s]: %s", snapshotKey, cast.ToString(val))
		return nil, false
	}
	return s, true
}

// Healthy 刷新连续失败次数未超限或当前仍有可用快照
func (c *Cache) Healthy() bool {
	c.mut.RLock()
	defer c.mut.RUnlock()
	if c.consecutiveFailures < config.StrategyCacheMaxFailedRefresh {
		return true
	}
	return len(c.state.strategies) > 0
}

// RefreshTime 最近一次成功刷新时间
func (c *Cache) RefreshTime() time.Time {
	c.mut.RLock()
	defer c.mut.RUnlock()
	return c.state.refreshTime
}

// SetStateForTest 单测注入策略集
func (c *Cache) SetStateForTest(strategies []*Strategy) {
	state := newSnapshotState()
	state.refreshTime = time.Now()
	for _, s := range strategies {
		coerceAiopsTrigger(s)
		state.strategies[s.Id] = s
		if _, ok := state.byBiz[s.BkBizId]; !ok {
			state.byBiz[s.BkBizId] = mapset.NewSet[int]()
		}
		state.byBiz[s.BkBizId].Add(s.Id)
		for _, dsKey := range s.DataSourceKeys() {
			if _, ok := state.byDataSource[dsKey]; !ok {
				state.byDataSource[dsKey] = mapset.NewSet[int]()
			}
			state.byDataSource[dsKey].Add(s.Id)
		}
		for _, item := range s.Items {
			for _, qc := range item.QueryConfigs {
				if qc.BkDataId <= 0 {
					continue
				}
				if _, ok := state.byDataId[qc.BkDataId]; !ok {
					state.byDataId[qc.BkDataId] = mapset.NewSet[int]()
				}
				state.byDataId[qc.BkDataId].Add(s.Id)
			}
		}
		if isGseBaseAlarm(s) {
			if _, ok := state.gseAlarmStrategyIds[s.BkBizId]; !ok {
				state.gseAlarmStrategyIds[s.BkBizId] = mapset.NewSet[int]()
			}
			state.gseAlarmStrategyIds[s.BkBizId].Add(s.Id)
		}
		if s.IsRealTime() {
			state.realTimeIds.Add(s.Id)
		}
	}
	c.mut.Lock()
	c.state = state
	c.mut.Unlock()
}
