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
	"crypto/md5"
	"fmt"
	"sort"
	"strings"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
)

const (
	DataSourceBkMonitor = "bk_monitor"
	DataSourceBkData    = "bk_data"
	DataSourceCustom    = "custom"
	DataSourceFta       = "bk_fta"

	DataTypeTimeSeries = "time_series"
	DataTypeEvent      = "event"
	DataTypeAlert      = "alert"
	DataTypeLog        = "log"
)

// AIOPS算法类型 检测逻辑在外部AIOps服务完成 本地只透传样本
const (
	AlgorithmIntelligentDetect   = "IntelligentDetect"
	AlgorithmTimeSeriesForecast  = "TimeSeriesForecasting"
	AlgorithmAbnormalCluster     = "AbnormalCluster"
	AlgorithmHostAnomaly         = "HostAnomalyDetection"
	AlgorithmMultivariateAnomaly = "MultivariateAnomalyDetection"
)

// AiopsAlgorithms 需要委托给AIOps服务的算法类型集合
var AiopsAlgorithms = map[string]bool{
	AlgorithmIntelligentDetect:   true,
	AlgorithmTimeSeriesForecast:  true,
	AlgorithmAbnormalCluster:     true,
	AlgorithmHostAnomaly:         true,
	AlgorithmMultivariateAnomaly: true,
}

// Algorithm 监控项下单个检测算法配置 Config结构由算法类型决定
type Algorithm struct {
	Id         int              `json:"id"`
	Type       string           `json:"type"`
	Level      int              `json:"level"`
	Config     jsonx.RawMessage `json:"config"`
	UnitPrefix string           `json:"unit_prefix"`
}

// AggCondition 维度过滤条件
type AggCondition struct {
	Key       string   `json:"key"`
	Method    string   `json:"method"`
	Value     []string `json:"value"`
	Condition string   `json:"condition"`
}

// Target 监控目标 主机/实例/拓扑节点范围
type Target struct {
	Field  string           `json:"field"`
	Method string           `json:"method"`
	Value  []map[string]any `json:"value"`
}

// QueryConfig 数据查询配置
type QueryConfig struct {
	DataSourceLabel string         `json:"data_source_label"`
	DataTypeLabel   string         `json:"data_type_label"`
	ResultTableId   string         `json:"result_table_id"`
	MetricId        string         `json:"metric_id"`
	MetricField     string         `json:"metric_field"`
	Unit            string         `json:"unit"`
	AggInterval     int64          `json:"agg_interval"`
	AggMethod       string         `json:"agg_method"`
	AggDimension    []string       `json:"agg_dimension"`
	AggCondition    []AggCondition `json:"agg_condition"`
	BkDataId        int            `json:"bk_data_id"`
}

// Item 监控项
type Item struct {
	Id           int           `json:"id"`
	Name         string        `json:"name"`
	Expression   string        `json:"expression"`
	QueryConfigs []QueryConfig `json:"query_configs"`
	Algorithms   []Algorithm   `json:"algorithms"`
	Targets      [][]Target    `json:"target"`
	NoDataConfig NoDataConfig  `json:"no_data_config"`
}

// AggInterval 监控项聚合周期 多query取首个
func (i *Item) AggInterval() int64 {
	for _, qc := range i.QueryConfigs {
		if qc.AggInterval > 0 {
			return qc.AggInterval
		}
	}
	return 60
}

// IsPureAiops 监控项下算法是否全部为HostAnomalyDetection
func (i *Item) IsPureAiops() bool {
	if len(i.Algorithms) == 0 {
		return false
	}
	for _, algorithm := range i.Algorithms {
		if algorithm.Type != AlgorithmHostAnomaly {
			return false
		}
	}
	return true
}

// NoDataConfig 无数据告警配置 Continuous为连续无数据周期数
type NoDataConfig struct {
	IsEnabled  bool     `json:"is_enabled"`
	Continuous int      `json:"continuous"`
	AggDims    []string `json:"agg_dimension"`
	Level      int      `json:"level"`
}

// TriggerConfig M次/N周期触发配置
type TriggerConfig struct {
	Count       int    `json:"count"`
	CheckWindow int    `json:"check_window"`
	Uptime      Uptime `json:"uptime"`
}

// Uptime 触发生效时段
type Uptime struct {
	TimeRanges []TimeRange `json:"time_ranges"`
	CalendarId []int       `json:"calendars"`
}

type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// RecoveryConfig 恢复检测配置
type RecoveryConfig struct {
	CheckWindow  int    `json:"check_window"`
	StatusSetter string `json:"status_setter"`
}

// Detect 某告警级别的触发与恢复配置
type Detect struct {
	Level          int            `json:"level"`
	Connector      string         `json:"connector"`
	TriggerConfig  TriggerConfig  `json:"trigger_config"`
	RecoveryConfig RecoveryConfig `json:"recovery_config"`
}

// ActionConfig 处理动作配置
type ActionConfig struct {
	Id             int              `json:"id"`
	ConfigId       int              `json:"config_id"`
	SignalList     []string         `json:"signal"`
	UserGroups     []int            `json:"user_groups"`
	Options        ActionOptions    `json:"options"`
	PluginType     string           `json:"action_plugin_type"`
	TemplateDetail jsonx.RawMessage `json:"template_detail"`
}

// ActionOptions 动作选项 收敛配置等
type ActionOptions struct {
	Converge    ConvergeConfig `json:"converge_config"`
	RetryConfig RetryConfig    `json:"failed_retry"`
}

type ConvergeConfig struct {
	IsEnabled bool   `json:"is_enabled"`
	Count     int    `json:"count"`
	Timedelta int    `json:"timedelta"`
	Func      string `json:"converge_func"`
}

type RetryConfig struct {
	IsEnabled     bool `json:"is_enabled"`
	MaxRetryTimes int  `json:"max_retry_times"`
	RetryInterval int  `json:"retry_interval"`
	Timeout       int  `json:"timeout"`
}

// Notice 通知配置
// Assignees与SignalNoticeWays由注册中心按用户组展开后下发 本地不再查询用户组
type Notice struct {
	Id               int                 `json:"id"`
	UserGroups       []int               `json:"user_groups"`
	SignalList       []string            `json:"signal"`
	Assignees        []string            `json:"assignee"`
	SignalNoticeWays map[string][]string `json:"signal_notice_ways"`
	Options          NoticeOptions       `json:"options"`
	Config           jsonx.RawMessage    `json:"config"`
}

type NoticeOptions struct {
	ConvergeConfig    ConvergeConfig `json:"converge_config"`
	NoiseReduceConfig struct {
		IsEnabled bool `json:"is_enabled"`
	} `json:"noise_reduce_config"`
	AssignMode []string `json:"assign_mode"`
}

// Strategy 策略快照 一经载入不再修改 更新产生新快照
type Strategy struct {
	Id               int            `json:"id"`
	Name             string         `json:"name"`
	BkBizId          int            `json:"bk_biz_id"`
	Scenario         string         `json:"scenario"`
	Enabled          bool           `json:"is_enabled"`
	Priority         int            `json:"priority"`
	PriorityGroupKey string         `json:"priority_group_key"`
	DedupeKeys       []string       `json:"dedupe_keys"`
	Items            []Item         `json:"items"`
	Detects          []Detect       `json:"detects"`
	Actions          []ActionConfig `json:"actions"`
	Notice           Notice         `json:"notice"`
	Source           string         `json:"source"`
	Type             string         `json:"type"`

	// UpdateTime 策略最近一次编辑时间 快照key的一部分
	UpdateTime int64 `json:"update_time"`
}

// SnapshotKey 快照标识 告警/动作回溯检测时用的就是产生它们的那份配置
func (s *Strategy) SnapshotKey() string {
	return fmt.Sprintf("strategy_snapshot_%d_%d", s.Id, s.UpdateTime)
}

// DetectOf 取指定级别的检测配置 不存在返回false
func (s *Strategy) DetectOf(level int) (Detect, bool) {
	for _, detect := range s.Detects {
		if detect.Level == level {
			return detect, true
		}
	}
	return Detect{}, false
}

// IsRealTime 实时策略不走批量检测队列
func (s *Strategy) IsRealTime() bool {
	for _, item := range s.Items {
		for _, qc := range item.QueryConfigs {
			if qc.AggMethod == "REAL_TIME" {
				return true
			}
		}
	}
	return false
}

// DataSourceKey 数据源路由键 (label, type, table)
type DataSourceKey struct {
	Label string
	Type  string
	Table string
}

func (d DataSourceKey) String() string {
	return fmt.Sprintf("%s.%s.%s", d.Label, d.Type, d.Table)
}

// DataSourceKeys 策略涉及的所有数据源路由键
func (s *Strategy) DataSourceKeys() []DataSourceKey {
	var keys []DataSourceKey
	for _, item := range s.Items {
		for _, qc := range item.QueryConfigs {
			keys = append(keys, DataSourceKey{Label: qc.DataSourceLabel, Type: qc.DataTypeLabel, Table: qc.ResultTableId})
		}
	}
	return keys
}

// StrategyGroupKey 共享同一数据源与聚合方式的策略分组键
// access按组拉取数据 一条数据只拉一次
func (s *Strategy) StrategyGroupKey() string {
	parts := make([]string, 0, len(s.Items))
	for _, item := range s.Items {
		for _, qc := range item.QueryConfigs {
			parts = append(parts, fmt.Sprintf("%s.%s.%s.%s.%d", qc.DataSourceLabel, qc.DataTypeLabel, qc.ResultTableId, qc.MetricField, qc.AggInterval))
		}
	}
	sort.Strings(parts)
	return fmt.Sprintf("%x", md5.Sum([]byte(strings.Join(parts, "|"))))
}
