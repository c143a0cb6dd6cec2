// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/checkresult"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/event"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
)

func markersOf(labels ...string) []checkresult.Marker {
	markers := make([]checkresult.Marker, 0, len(labels))
	for i, label := range labels {
		markers = append(markers, checkresult.Marker{Timestamp: int64(1700000000 + i*60), Label: label})
	}
	return markers
}

func TestAdvanceIdleToTriggered(t *testing.T) {
	// 3次/5周期 窗口内3个ANOMALY触发
	decision := Advance(StateIdle, markersOf("ANOMALY", "1.0", "ANOMALY", "2.0", "ANOMALY"), 3, 5, 2)
	assert.Equal(t, StateTriggered, decision.State)
	assert.True(t, decision.EmitAnomaly)

	// 只有2个 不触发
	decision = Advance(StateIdle, markersOf("ANOMALY", "1.0", "2.0", "3.0", "ANOMALY"), 3, 5, 2)
	assert.Equal(t, StateIdle, decision.State)
	assert.False(t, decision.EmitAnomaly)
}

func TestAdvanceTriggeredStaysOnAnomaly(t *testing.T) {
	decision := Advance(StateTriggered, markersOf("1.0", "2.0", "ANOMALY"), 3, 5, 2)
	assert.Equal(t, StateTriggered, decision.State)
	assert.True(t, decision.EmitAnomaly)
}

func TestAdvanceTriggeredToRecovering(t *testing.T) {
	// 连续2个正常点进入RECOVERING
	decision := Advance(StateTriggered, markersOf("ANOMALY", "1.0", "2.0"), 3, 5, 2)
	assert.Equal(t, StateRecovering, decision.State)
	assert.False(t, decision.EmitAnomaly)
	assert.False(t, decision.EmitRecovery)

	// 只有1个正常点 保持TRIGGERED
	decision = Advance(StateTriggered, markersOf("ANOMALY", "ANOMALY", "1.0"), 3, 5, 2)
	assert.Equal(t, StateTriggered, decision.State)
}

func TestAdvanceRecoveringToIdle(t *testing.T) {
	// 超出恢复阈值的额外正常点 回IDLE并发恢复事件
	decision := Advance(StateRecovering, markersOf("ANOMALY", "1.0", "2.0", "3.0"), 3, 5, 2)
	assert.Equal(t, StateIdle, decision.State)
	assert.True(t, decision.EmitRecovery)
}

func TestAdvanceRecoveringBackToTriggered(t *testing.T) {
	decision := Advance(StateRecovering, markersOf("1.0", "2.0", "ANOMALY"), 3, 5, 2)
	assert.Equal(t, StateTriggered, decision.State)
	assert.True(t, decision.EmitAnomaly)
}

func TestAdvanceEmptyStateDefaultsToIdle(t *testing.T) {
	decision := Advance("", markersOf("ANOMALY"), 1, 5, 2)
	assert.Equal(t, StateTriggered, decision.State)
	assert.True(t, decision.EmitAnomaly)
}

func TestEventIdIdempotent(t *testing.T) {
	// 同一异常点重复处理得到同一事件id alert按id幂等
	a := event.NewEventId("md5-x", 1700000000, 101, 2, 1)
	b := event.NewEventId("md5-x", 1700000000, 101, 2, 1)
	assert.Equal(t, a, b)

	c := event.NewEventId("md5-x", 1700000060, 101, 2, 1)
	assert.NotEqual(t, a, c)
}

func TestInUptime(t *testing.T) {
	at := func(hhmm string) time.Time {
		parsed, _ := time.Parse("15:04", hhmm)
		return parsed
	}

	// 未配置全天生效
	assert.True(t, InUptime(strategy.Uptime{}, at("03:00")))

	workHours := strategy.Uptime{TimeRanges: []strategy.TimeRange{{Start: "09:00", End: "18:00"}}}
	assert.True(t, InUptime(workHours, at("12:00")))
	assert.False(t, InUptime(workHours, at("20:00")))

	// 跨天区间
	nightShift := strategy.Uptime{TimeRanges: []strategy.TimeRange{{Start: "22:00", End: "06:00"}}}
	assert.True(t, InUptime(nightShift, at("23:30")))
	assert.True(t, InUptime(nightShift, at("03:00")))
	assert.False(t, InUptime(nightShift, at("12:00")))
}

func TestTargetOf(t *testing.T) {
	assert.Equal(t, "10.0.0.1|0", targetOf(map[string]any{"bk_target_ip": "10.0.0.1"}))
	assert.Equal(t, "10.0.0.1|2", targetOf(map[string]any{"ip": "10.0.0.1", "bk_target_cloud_id": "2"}))
	assert.Equal(t, "", targetOf(map[string]any{}))
}
