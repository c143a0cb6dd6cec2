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
	"regexp"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cast"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/cmdb"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
)

// Filter 过滤器按序执行 返回true表示数据被丢弃
type Filter interface {
	Name() string
	Drop(ctx context.Context, record *DataRecord) bool
}

// ExpireFilter 丢弃时间偏移超过阈值的数据
type ExpireFilter struct {
	now func() time.Time
}

func NewExpireFilter() *ExpireFilter {
	return &ExpireFilter{now: time.Now}
}

func (f *ExpireFilter) Name() string { return "expire" }

func (f *ExpireFilter) Drop(_ context.Context, record *DataRecord) bool {
	skew := f.now().Unix() - record.Time
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(config.AccessMaxDataSkew) {
		logger.Debugf("record dropped by expire filter, data time: %d, skew: %ds", record.Time, skew)
		return true
	}
	return false
}

// HostStatusFilter 丢弃被忽略或屏蔽主机的数据
type HostStatusFilter struct {
	cmdb *cmdb.Client
}

func NewHostStatusFilter() *HostStatusFilter {
	return &HostStatusFilter{cmdb: cmdb.GetClient()}
}

func (f *HostStatusFilter) Name() string { return "host_status" }

func (f *HostStatusFilter) Drop(ctx context.Context, record *DataRecord) bool {
	ip := cast.ToString(record.Dimensions["bk_target_ip"])
	if ip == "" {
		ip = cast.ToString(record.Dimensions["ip"])
	}
	if ip == "" {
		return false
	}
	cloudId := cast.ToInt(record.Dimensions["bk_target_cloud_id"])
	for _, itemRecord := range record.Items {
		host, err := f.cmdb.GetHost(ctx, ip, cloudId, itemRecord.Strategy.BkBizId)
		if err != nil {
			logger.Warnf("host status query failed for %s|%d: %s", ip, cloudId, err)
			return false
		}
		if host != nil && (host.IgnoreMonitoring || host.IsShielding) {
			return true
		}
	}
	return false
}

// RangeFilter 裁剪目标范围外的(策略, 监控项)绑定 全部裁掉则丢弃数据
type RangeFilter struct {
	cmdb *cmdb.Client
}

func NewRangeFilter() *RangeFilter {
	return &RangeFilter{cmdb: cmdb.GetClient()}
}

func (f *RangeFilter) Name() string { return "range" }

func (f *RangeFilter) Drop(ctx context.Context, record *DataRecord) bool {
	record.Items = lo.Filter(record.Items, func(itemRecord *ItemRecord, _ int) bool {
		return f.inTarget(ctx, record, itemRecord)
	})
	return len(record.Items) == 0
}

func (f *RangeFilter) inTarget(ctx context.Context, record *DataRecord, itemRecord *ItemRecord) bool {
	targets := itemRecord.Item.Targets
	if len(targets) == 0 || len(targets[0]) == 0 {
		return true
	}
	ip := cast.ToString(record.Dimensions["bk_target_ip"])
	if ip == "" {
		return true
	}
	cloudId := cast.ToInt(record.Dimensions["bk_target_cloud_id"])
	// target为或关系组的与关系列表 与cmdb拓扑求交
	for _, group := range targets {
		matched := true
		for _, target := range group {
			if !f.matchTarget(ctx, itemRecord.Strategy.BkBizId, ip, cloudId, target) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

func (f *RangeFilter) matchTarget(ctx context.Context, bkBizId int, ip string, cloudId int, target strategy.Target) bool {
	switch target.Field {
	case "bk_target_ip", "ip":
		for _, v := range target.Value {
			if cast.ToString(v["bk_target_ip"]) == ip && cast.ToInt(v["bk_target_cloud_id"]) == cloudId {
				return true
			}
		}
		return false
	case "host_topo_node":
		host, err := f.cmdb.GetHost(ctx, ip, cloudId, bkBizId)
		if err != nil || host == nil {
			// cmdb不可达时放行 宁可多检测不可漏检测
			return err != nil
		}
		for _, v := range target.Value {
			nodeId := cast.ToString(v["bk_obj_id"]) + "|" + cast.ToString(v["bk_inst_id"])
			for _, hostNode := range host.TopoNodeIds {
				if hostNode == nodeId {
					return true
				}
			}
		}
		return false
	default:
		return true
	}
}

// ConditionFilter 按监控项agg_condition裁剪绑定
type ConditionFilter struct{}

func NewConditionFilter() *ConditionFilter {
	return &ConditionFilter{}
}

func (f *ConditionFilter) Name() string { return "condition" }

func (f *ConditionFilter) Drop(_ context.Context, record *DataRecord) bool {
	record.Items = lo.Filter(record.Items, func(itemRecord *ItemRecord, _ int) bool {
		for _, qc := range itemRecord.Item.QueryConfigs {
			if !evalConditions(qc.AggCondition, record.Dimensions) {
				return false
			}
		}
		return true
	})
	return len(record.Items) == 0
}

// evalConditions and/or混合条件求值 or切分为组 组内为and
func evalConditions(conditions []strategy.AggCondition, dims map[string]any) bool {
	if len(conditions) == 0 {
		return true
	}
	groupResult := true
	finalResult := false
	for i, cond := range conditions {
		if i > 0 && cond.Condition == "or" {
			finalResult = finalResult || groupResult
			groupResult = true
		}
		groupResult = groupResult && evalCondition(cond, dims)
	}
	return finalResult || groupResult
}

func evalCondition(cond strategy.AggCondition, dims map[string]any) bool {
	actual := cast.ToString(dims[cond.Key])
	contains := lo.Contains(cond.Value, actual)
	switch cond.Method {
	case "eq", "include":
		return contains
	case "neq", "exclude":
		return !contains
	case "reg":
		for _, pattern := range cond.Value {
			if matchRegexp(pattern, actual) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

var regexpCache sync.Map

func matchRegexp(pattern, s string) bool {
	if cached, ok := regexpCache.Load(pattern); ok {
		return cached.(*regexp.Regexp).MatchString(s)
	}
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		logger.Warnf("invalid condition regexp [%s]: %s", pattern, err)
		return false
	}
	regexpCache.Store(pattern, compiled)
	return compiled.MatchString(s)
}
