// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

// Package trigger M次/N周期触发判定
// 状态机per(策略, 监控项, 维度, 级别): IDLE/TRIGGERED/RECOVERING
package trigger

import (
	"time"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/checkresult"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
)

// 状态机状态
const (
	StateIdle       = "IDLE"
	StateTriggered  = "TRIGGERED"
	StateRecovering = "RECOVERING"
)

// Decision 单次状态推进的输出
type Decision struct {
	State string

	// EmitAnomaly 进入或保持TRIGGERED且由新ANOMALY驱动 产生异常事件
	EmitAnomaly bool
	// EmitRecovery RECOVERING达到恢复阈值回到IDLE 产生恢复事件
	EmitRecovery bool
}

// Advance 根据最近的检测结果推进状态机 markers为时间正序
// count/checkWindow为触发条件 recoveryWindow为恢复所需的连续正常数
func Advance(current string, markers []checkresult.Marker, count, checkWindow, recoveryWindow int) Decision {
	if current == "" {
		current = StateIdle
	}
	anomalyInWindow := 0
	window := markers
	if len(window) > checkWindow {
		window = window[len(window)-checkWindow:]
	}
	for _, marker := range window {
		if marker.IsAnomaly() {
			anomalyInWindow++
		}
	}
	latestIsAnomaly := len(markers) > 0 && markers[len(markers)-1].IsAnomaly()

	trailingNormal := 0
	for i := len(markers) - 1; i >= 0; i-- {
		if markers[i].IsAnomaly() {
			break
		}
		trailingNormal++
	}

	switch current {
	case StateIdle:
		if anomalyInWindow >= count && count > 0 {
			return Decision{State: StateTriggered, EmitAnomaly: true}
		}
		return Decision{State: StateIdle}

	case StateTriggered:
		if latestIsAnomaly {
			return Decision{State: StateTriggered, EmitAnomaly: true}
		}
		if trailingNormal >= recoveryWindow && recoveryWindow > 0 {
			return Decision{State: StateRecovering}
		}
		return Decision{State: StateTriggered}

	case StateRecovering:
		if latestIsAnomaly {
			return Decision{State: StateTriggered, EmitAnomaly: true}
		}
		// 超过恢复阈值的额外正常点 回IDLE并发恢复事件
		if trailingNormal > recoveryWindow {
			return Decision{State: StateIdle, EmitRecovery: true}
		}
		return Decision{State: StateRecovering}
	}
	return Decision{State: StateIdle}
}

// InUptime 当前时间是否在触发生效时段内 未配置视为全天生效
func InUptime(uptime strategy.Uptime, now time.Time) bool {
	if len(uptime.TimeRanges) == 0 {
		return true
	}
	current := now.Format("15:04")
	for _, timeRange := range uptime.TimeRanges {
		if timeRange.Start <= current && current <= timeRange.End {
			return true
		}
		// 跨天区间 例如22:00-06:00
		if timeRange.Start > timeRange.End && (current >= timeRange.Start || current <= timeRange.End) {
			return true
		}
	}
	return false
}

// TriggerWindowOffset 触发判定读取的marker条数
// 取check_window与recovery_window较大者再留一个余量
func TriggerWindowOffset(detect strategy.Detect) int64 {
	window := detect.TriggerConfig.CheckWindow
	if detect.RecoveryConfig.CheckWindow > window {
		window = detect.RecoveryConfig.CheckWindow
	}
	return int64(window + 1)
}
