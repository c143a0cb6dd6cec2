// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

// Package nodata 无数据检测 与detect并行的ANOMALY marker来源
package nodata

import (
	"context"
	"fmt"
	"time"

	goRedis "github.com/go-redis/redis/v8"
	"github.com/spf13/cast"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/common"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/checkresult"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/cmdb"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/detect"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/hashx"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
)

// Checker 周期扫描开启无数据告警的监控项
type Checker struct {
	cache *strategy.Cache
	cmdb  *cmdb.Client
	now   func() time.Time
}

func NewChecker() *Checker {
	return &Checker{cache: strategy.GetCache(), cmdb: cmdb.GetClient(), now: time.Now}
}

// Run 单轮无数据检查
func (c *Checker) Run(ctx context.Context) error {
	for _, s := range c.cache.All() {
		for i := range s.Items {
			item := &s.Items[i]
			if !item.NoDataConfig.IsEnabled {
				continue
			}
			if err := c.checkItem(ctx, s, item); err != nil {
				logger.Errorf("nodata check for strategy [%d] item [%d] failed: %s", s.Id, item.Id, err)
			}
		}
	}
	return nil
}

// expectedDimensions 按监控目标枚举期望出现数据的维度组合
// 配置了agg_dimension时只保留这些维度 裁剪后去重
func (c *Checker) expectedDimensions(ctx context.Context, s *strategy.Strategy, item *strategy.Item) ([]map[string]any, error) {
	hosts, err := c.targetHosts(ctx, s, item)
	if err != nil {
		return nil, err
	}
	dims := make([]map[string]any, 0, len(hosts))
	seen := make(map[string]bool, len(hosts))
	for _, host := range hosts {
		d := projectDims(map[string]any{
			"bk_target_ip":       host.Ip,
			"bk_target_cloud_id": host.BkCloudId,
		}, item.NoDataConfig.AggDims)
		md5 := hashx.DimensionsMd5(d)
		if seen[md5] {
			continue
		}
		seen[md5] = true
		dims = append(dims, d)
	}
	return dims, nil
}

// targetHosts 解析监控目标 拓扑节点展开成节点下主机 静态IP直接取目标值
// 未配置目标时回退到业务下全部主机
func (c *Checker) targetHosts(ctx context.Context, s *strategy.Strategy, item *strategy.Item) ([]cmdb.Host, error) {
	var hosts []cmdb.Host
	var nodeIds []string
	hasTarget := false
	for _, group := range item.Targets {
		for _, target := range group {
			switch target.Field {
			case "bk_target_ip", "ip":
				hasTarget = true
				for _, value := range target.Value {
					hosts = append(hosts, cmdb.Host{
						BkBizId:   s.BkBizId,
						BkCloudId: cast.ToInt(value["bk_target_cloud_id"]),
						Ip:        cast.ToString(value["bk_target_ip"]),
					})
				}
			case "host_topo_node":
				hasTarget = true
				for _, value := range target.Value {
					nodeIds = append(nodeIds, fmt.Sprintf("%s|%s", cast.ToString(value["bk_obj_id"]), cast.ToString(value["bk_inst_id"])))
				}
			}
		}
	}
	if len(nodeIds) > 0 {
		topoHosts, err := c.cmdb.ListTopoHosts(ctx, s.BkBizId, nodeIds)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, topoHosts...)
	}
	if !hasTarget {
		return c.cmdb.ListBizHosts(ctx, s.BkBizId)
	}
	return hosts, nil
}

// projectDims 按agg_dimension裁剪维度 未配置时原样返回
func projectDims(dims map[string]any, aggDims []string) map[string]any {
	if len(aggDims) == 0 {
		return dims
	}
	projected := make(map[string]any, len(aggDims))
	for _, name := range aggDims {
		if v, ok := dims[name]; ok {
			projected[name] = v
		}
	}
	return projected
}

func (c *Checker) checkItem(ctx context.Context, s *strategy.Strategy, item *strategy.Item) error {
	expected, err := c.expectedDimensions(ctx, s, item)
	if err != nil {
		return err
	}
	level := item.NoDataConfig.Level
	if level == 0 {
		level = common.NoDataLevel
	}
	continuous := item.NoDataConfig.Continuous
	if continuous <= 0 {
		continuous = 5
	}
	aggInterval := item.AggInterval()
	threshold := int64(continuous) * aggInterval
	now := c.now().Unix()

	for _, dims := range expected {
		dimsMd5 := hashx.DimensionsMd5(dims)
		lastSeen, err := c.lastDataTime(s, item, dimsMd5)
		if err != nil {
			return err
		}
		if lastSeen > 0 && now-lastSeen < threshold {
			// 数据已恢复 清除无数据异常检查点
			if err := c.clearAnomalyCheckpoint(s.Id, item.Id, dimsMd5); err != nil {
				logger.Warnf("clear nodata checkpoint failed: %s", err)
			}
			continue
		}
		if err := c.emitAnomaly(s, item, dims, dimsMd5, level, now); err != nil {
			return err
		}
	}
	return nil
}

// lastDataTime 任一检测级别上最近一次真实数据的时间
func (c *Checker) lastDataTime(s *strategy.Strategy, item *strategy.Item, dimsMd5 string) (int64, error) {
	var latest int64
	for _, detect := range s.Detects {
		checkpoint, err := checkresult.GetCheckpoint(s.Id, item.Id, dimsMd5, detect.Level)
		if err != nil {
			return 0, err
		}
		if checkpoint > latest {
			latest = checkpoint
		}
	}
	return latest, nil
}

// emitAnomaly 合成value=null的异常点并走正常触发链路
func (c *Checker) emitAnomaly(s *strategy.Strategy, item *strategy.Item, dims map[string]any, dimsMd5 string, level int, now int64) error {
	rds := redis.GetInstance()
	spec := key.NoDataLastAnomalyCheckpointKey
	checkpointKey := spec.Key(nil)
	field := spec.Field(key.P{"strategy_id": s.Id, "item_id": item.Id, "dims_md5": dimsMd5})

	// 同一无数据周期内只合成一次
	stored, err := rds.HGet(checkpointKey, field)
	if err != nil && err != goRedis.Nil {
		return err
	}
	if stored != "" && now-cast.ToInt64(stored) < item.AggInterval() {
		return nil
	}

	marker := checkresult.Marker{Timestamp: now, Label: common.AnomalyLabel}
	if err := checkresult.AddMarker(s.Id, item.Id, dimsMd5, level, marker, common.DefaultDetectWindowTTL); err != nil {
		return err
	}

	payload, err := jsonx.MarshalString(map[string]any{
		"anomaly_id": detect.NewAnomalyId(dimsMd5, now, s.Id, item.Id, level),
		"point": map[string]any{
			"time":       now,
			"value":      nil,
			"dimensions": dims,
			"dims_md5":   dimsMd5,
		},
		"level":                 level,
		"anomaly_message":       fmt.Sprintf("监控项(%s)连续%d个周期无数据上报", item.Name, item.NoDataConfig.Continuous),
		"strategy_snapshot_key": s.SnapshotKey(),
	})
	if err != nil {
		return err
	}

	listKey := key.AnomalyListKey.Key(key.P{"strategy_id": s.Id, "item_id": item.Id})
	pipe := rds.Client.Pipeline()
	pipe.LPush(rds.Ctx(), listKey, payload)
	pipe.Expire(rds.Ctx(), listKey, key.AnomalyListKey.TTL())
	signalKey := key.AnomalySignalKey.Key(nil)
	pipe.LPush(rds.Ctx(), signalKey, fmt.Sprintf("%d.%d", s.Id, item.Id))
	pipe.Expire(rds.Ctx(), signalKey, key.AnomalySignalKey.TTL())
	pipe.HSet(rds.Ctx(), checkpointKey, field, cast.ToString(now))
	pipe.Expire(rds.Ctx(), checkpointKey, spec.TTL())
	_, err = pipe.Exec(rds.Ctx())
	return err
}

// clearAnomalyCheckpoint 真实数据到达后清除无数据状态
func (c *Checker) clearAnomalyCheckpoint(strategyId, itemId int, dimsMd5 string) error {
	rds := redis.GetInstance()
	spec := key.NoDataLastAnomalyCheckpointKey
	field := spec.Field(key.P{"strategy_id": strategyId, "item_id": itemId, "dims_md5": dimsMd5})
	return rds.Client.HDel(rds.Ctx(), spec.Key(nil), field).Err()
}
