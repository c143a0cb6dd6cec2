// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
)

const TotalTag = "__total__"

var (
	// access metrics
	accessProcessCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bab_access_process_count",
			Help: "access processed record count",
		},
		[]string{"data_id", "status"}, // status: received/dropped/qos_dropped/pushed
	)
	accessProcessCost = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bab_access_process_cost",
			Help: "access process cost time",
		},
		[]string{"data_id"},
	)

	// detect metrics
	detectCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bab_detect_count",
			Help: "detect point count",
		},
		[]string{"strategy_id", "status"}, // status: checked/anomaly/error
	)
	detectCost = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bab_detect_cost",
			Help: "detect run cost time",
		},
		[]string{"strategy_id"},
	)

	// trigger/alert metrics
	triggerEventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bab_trigger_event_count",
			Help: "trigger emitted event count",
		},
		[]string{"strategy_id", "signal"},
	)
	alertCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bab_alert_count",
			Help: "alert state transition count",
		},
		[]string{"status"},
	)

	// action metrics
	actionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bab_action_count",
			Help: "action instance count",
		},
		[]string{"signal", "status"}, // status: created/converged/pushed/failed
	)

	// queue metrics
	queueDropCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bab_queue_drop_count",
			Help: "records dropped because a queue exceeded its hard cap",
		},
		[]string{"queue"},
	)
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bab_queue_depth",
			Help: "inter-stage queue depth",
		},
		[]string{"queue"},
	)

	// healthz metrics
	healthzProblemCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bab_healthz_problem_count",
			Help: "healthz resolved problem count",
		},
		[]string{"check"},
	)
)

func init() {
	prometheus.MustRegister(
		accessProcessCount,
		accessProcessCost,
		detectCount,
		detectCost,
		triggerEventCount,
		alertCount,
		actionCount,
		queueDropCount,
		queueDepth,
		healthzProblemCount,
	)
}

// AccessProcessCount access阶段处理计数
func AccessProcessCount(dataId, status string, n int) {
	metric, err := accessProcessCount.GetMetricWithLabelValues(dataId, status)
	if err != nil {
		logger.Errorf("prom get access process count metric failed: %s", err)
		return
	}
	metric.Add(float64(n))
}

// AccessProcessCostTime access阶段耗时
func AccessProcessCostTime(dataId string, startTime time.Time) {
	metric, err := accessProcessCost.GetMetricWithLabelValues(dataId)
	if err != nil {
		logger.Errorf("prom get access process cost metric failed: %s", err)
		return
	}
	metric.Set(time.Since(startTime).Seconds())
}

// DetectCount detect阶段检测计数
func DetectCount(strategyId, status string, n int) {
	metric, err := detectCount.GetMetricWithLabelValues(strategyId, status)
	if err != nil {
		logger.Errorf("prom get detect count metric failed: %s", err)
		return
	}
	metric.Add(float64(n))
}

// DetectCostTime detect阶段耗时
func DetectCostTime(strategyId string, startTime time.Time) {
	metric, err := detectCost.GetMetricWithLabelValues(strategyId)
	if err != nil {
		logger.Errorf("prom get detect cost metric failed: %s", err)
		return
	}
	metric.Set(time.Since(startTime).Seconds())
}

// TriggerEventCount trigger产出事件计数
func TriggerEventCount(strategyId, signal string) {
	metric, err := triggerEventCount.GetMetricWithLabelValues(strategyId, signal)
	if err != nil {
		logger.Errorf("prom get trigger event count metric failed: %s", err)
		return
	}
	metric.Inc()
}

// AlertCount 告警状态流转计数
func AlertCount(status string) {
	metric, err := alertCount.GetMetricWithLabelValues(status)
	if err != nil {
		logger.Errorf("prom get alert count metric failed: %s", err)
		return
	}
	metric.Inc()
}

// ActionCount 动作实例计数
func ActionCount(signal, status string) {
	metric, err := actionCount.GetMetricWithLabelValues(signal, status)
	if err != nil {
		logger.Errorf("prom get action count metric failed: %s", err)
		return
	}
	metric.Inc()
}

// QueueDropCount 队列超限丢弃计数
func QueueDropCount(queue string, n int64) {
	metric, err := queueDropCount.GetMetricWithLabelValues(queue)
	if err != nil {
		logger.Errorf("prom get queue drop count metric failed: %s", err)
		return
	}
	metric.Add(float64(n))
}

// QueueDepth 队列深度
func QueueDepth(queue string, depth int64) {
	metric, err := queueDepth.GetMetricWithLabelValues(queue)
	if err != nil {
		logger.Errorf("prom get queue depth metric failed: %s", err)
		return
	}
	metric.Set(float64(depth))
}

// HealthzProblemCount healthz检查出问题计数
func HealthzProblemCount(check string) {
	metric, err := healthzProblemCount.GetMetricWithLabelValues(check)
	if err != nil {
		logger.Errorf("prom get healthz problem count metric failed: %s", err)
		return
	}
	metric.Inc()
}
