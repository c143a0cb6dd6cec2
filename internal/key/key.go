// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

// Package key 统一管理告警后台的redis key模板
// 所有key带前缀与TTL 业务代码不允许在调用点拼接key字符串
package key

import (
	"fmt"
	"regexp"
	"time"

	"github.com/spf13/cast"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
)

// P key模板的插值参数
type P map[string]any

var placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)

// KeySpec 单个redis key的规格: 模板/TTL/hash field模板
type KeySpec struct {
	Label    string
	Tpl      string
	FieldTpl string
	Ttl      time.Duration

	// ClusterAware 为true时key携带集群名 多集群共用一个redis时互相隔离
	ClusterAware bool
}

func render(tpl string, params P) string {
	return placeholderPattern.ReplaceAllStringFunc(tpl, func(ph string) string {
		name := ph[1 : len(ph)-1]
		if v, ok := params[name]; ok {
			return cast.ToString(v)
		}
		return ph
	})
}

// Key 渲染完整key 形如 {prefix}.{tpl} 或 {prefix}.{cluster}.{tpl}
func (k KeySpec) Key(params P) string {
	prefix := config.StorageRedisKeyPrefix
	if k.ClusterAware && config.ClusterName != "" {
		prefix = fmt.Sprintf("%s.%s", prefix, config.ClusterName)
	}
	return fmt.Sprintf("%s.%s", prefix, render(k.Tpl, params))
}

// Field 渲染hash field
func (k KeySpec) Field(params P) string {
	return render(k.FieldTpl, params)
}

// TTL key的过期时间
func (k KeySpec) TTL() time.Duration {
	return k.Ttl
}

var (
	// DataListKey access阶段per(策略, 监控项)的待检测数据队列
	DataListKey = register(KeySpec{
		Label:        "access.data",
		Tpl:          "access.data.{strategy_id}.{item_id}",
		Ttl:          30 * time.Minute,
		ClusterAware: true,
	})

	// DataIdBufferKey kafka消费写入的per data_id原始数据缓冲
	DataIdBufferKey = register(KeySpec{
		Label:        "access.data.buffer",
		Tpl:          "access.data.buffer.{data_id}",
		Ttl:          30 * time.Minute,
		ClusterAware: true,
	})

	// AccessPriorityKey 优先级抢占表 hash field为dims_md5 value为已处理的最高优先级
	AccessPriorityKey = register(KeySpec{
		Label:        "access.priority",
		Tpl:          "access.priority.{priority_group_key}",
		FieldTpl:     "{dims_md5}",
		Ttl:          10 * time.Minute,
		ClusterAware: true,
	})

	// DataSignalKey 待检测数据信号队列 元素为 "{strategy_id}.{item_id}"
	DataSignalKey = register(KeySpec{
		Label:        "access.data.signal",
		Tpl:          "access.data.signal",
		Ttl:          time.Hour,
		ClusterAware: true,
	})

	// AccessTokenKey access QoS令牌桶计数
	AccessTokenKey = register(KeySpec{
		Label:        "access.data.token",
		Tpl:          "access.data.token.strategy_group_{strategy_group_key}",
		Ttl:          time.Minute,
		ClusterAware: true,
	})

	// AccessDuplicateKey access去重集合 per(策略组, 数据时间)
	AccessDuplicateKey = register(KeySpec{
		Label:        "access.data.duplicate",
		Tpl:          "access.data.duplicate.{strategy_group_key}.{dt_event_time}",
		Ttl:          5 * time.Minute,
		ClusterAware: true,
	})

	// AnomalyListKey detect产出的异常点队列
	AnomalyListKey = register(KeySpec{
		Label:        "detect.anomaly.list",
		Tpl:          "detect.anomaly.list.{strategy_id}.{item_id}",
		Ttl:          30 * time.Minute,
		ClusterAware: true,
	})

	// AnomalySignalKey 异常信号队列 元素为 "{strategy_id}.{item_id}"
	AnomalySignalKey = register(KeySpec{
		Label:        "detect.anomaly.signal",
		Tpl:          "detect.anomaly.signal",
		Ttl:          time.Hour,
		ClusterAware: true,
	})

	// CheckResultKey 检测结果时间线 zset member为 "{ts}|ANOMALY" 或 "{ts}|{value}"
	CheckResultKey = register(KeySpec{
		Label:        "detect.result",
		Tpl:          "detect.result.{strategy_id}.{item_id}.{dims_md5}.{level}",
		Ttl:          30 * time.Minute,
		ClusterAware: true,
	})

	// LastCheckpointKey 最近检测时间戳 hash field为 "{dims_md5}|{level}"
	LastCheckpointKey = register(KeySpec{
		Label:        "detect.last.checkpoint",
		Tpl:          "detect.last.checkpoint.{strategy_id}.{item_id}",
		FieldTpl:     "{dims_md5}|{level}",
		Ttl:          7 * 24 * time.Hour,
		ClusterAware: true,
	})

	// HistoryDataKey 检测算法历史数据 hash field为dims_md5 调用方按检测窗口拉长TTL
	HistoryDataKey = register(KeySpec{
		Label:        "detect.history.data",
		Tpl:          "detect.history.data.{strategy_id}.{item_id}.{timestamp}",
		Ttl:          30 * time.Minute,
		ClusterAware: true,
	})

	// NoDataLastAnomalyCheckpointKey 无数据告警最近异常时间点 hash field为dims_md5
	NoDataLastAnomalyCheckpointKey = register(KeySpec{
		Label:        "nodata.last.anomaly.checkpoint",
		Tpl:          "nodata.last.anomaly.checkpoint.cache.key",
		FieldTpl:     "{strategy_id}.{item_id}.{dims_md5}",
		Ttl:          7 * 24 * time.Hour,
		ClusterAware: true,
	})

	// TriggerStateKey 触发状态机状态 hash field为 "{dims_md5}|{level}"
	TriggerStateKey = register(KeySpec{
		Label:        "trigger.state",
		Tpl:          "trigger.state.{strategy_id}.{item_id}",
		FieldTpl:     "{dims_md5}|{level}",
		Ttl:          7 * 24 * time.Hour,
		ClusterAware: true,
	})

	// TriggerDedupeKey 已消费过的anomaly_id集合 异常点重复投递时只处理一次
	TriggerDedupeKey = register(KeySpec{
		Label:        "trigger.anomaly.dedupe",
		Tpl:          "trigger.anomaly.dedupe.{strategy_id}.{item_id}",
		Ttl:          30 * time.Minute,
		ClusterAware: true,
	})

	// TriggerEventListKey trigger产出的事件队列 alert阶段消费
	TriggerEventListKey = register(KeySpec{
		Label:        "trigger.event.list",
		Tpl:          "trigger.event.list",
		Ttl:          30 * time.Minute,
		ClusterAware: true,
	})

	// AlertDedupeKey ABNORMAL告警去重索引 hash field为dedupe_md5 value为alert id
	AlertDedupeKey = register(KeySpec{
		Label:        "alert.dedupe",
		Tpl:          "alert.dedupe.{bk_biz_id}",
		FieldTpl:     "{dedupe_md5}",
		Ttl:          30 * 24 * time.Hour,
		ClusterAware: true,
	})

	// AlertUidSequenceKey 告警id秒内序列号计数器
	AlertUidSequenceKey = register(KeySpec{
		Label:        "alert.uid.sequence",
		Tpl:          "alert.uid.sequence.{timestamp}",
		Ttl:          time.Minute,
		ClusterAware: true,
	})

	// ActionSignalListKey alert产出的动作信号队列 action阶段消费
	ActionSignalListKey = register(KeySpec{
		Label:        "alert.action.signal",
		Tpl:          "alert.action.signal",
		Ttl:          time.Hour,
		ClusterAware: true,
	})

	// FtaActionListKey 动作执行队列 per动作类型
	FtaActionListKey = register(KeySpec{
		Label:        "fta_action",
		Tpl:          "fta_action.{action_type}",
		Ttl:          7 * 24 * time.Hour,
		ClusterAware: true,
	})

	// ConvergeKey 收敛窗口 zset member为action id score为时间戳
	ConvergeKey = register(KeySpec{
		Label:        "converge",
		Tpl:          "converge.{converge_hash}",
		Ttl:          time.Hour,
		ClusterAware: true,
	})

	// LeaderKey 告警后台leader选举key
	LeaderKey = register(KeySpec{
		Label:        "alert.poller.leader",
		Tpl:          "alert.poller.leader",
		Ttl:          time.Minute,
		ClusterAware: true,
	})

	// HostDataIdKey leader写入的(host -> data_id列表)分配表
	HostDataIdKey = register(KeySpec{
		Label:        "alert.poller.host_data_id",
		Tpl:          "alert.poller.host_data_id",
		FieldTpl:     "{host}",
		Ttl:          10 * time.Minute,
		ClusterAware: true,
	})

	// ServiceLockKey per data_id的协作锁 保证集群内同一data_id只有一个worker在拉取
	ServiceLockKey = register(KeySpec{
		Label:        "service.lock",
		Tpl:          "service.lock.{name}.{key}",
		Ttl:          3 * time.Minute,
		ClusterAware: true,
	})

	// CacheRefreshTimeKey 各周期缓存最近一次刷新时间 健康检查读取
	CacheRefreshTimeKey = register(KeySpec{
		Label:        "cache.refresh.time",
		Tpl:          "cache.refresh.time",
		FieldTpl:     "{cache_type}",
		Ttl:          7 * 24 * time.Hour,
		ClusterAware: true,
	})
)

var registry = make(map[string]KeySpec)

func register(spec KeySpec) KeySpec {
	registry[spec.Label] = spec
	return spec
}

// Get 按label取key规格 不存在时第二个返回值为false
func Get(label string) (KeySpec, bool) {
	spec, ok := registry[label]
	return spec, ok
}
