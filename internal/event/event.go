// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

// Package event 跨越检测与告警边界的去重信号
package event

import (
	"crypto/md5"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/common"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
)

// Event trigger/nodata产出的原始信号 alert阶段消费
type Event struct {
	EventId    string         `json:"event_id"`
	PluginId   string         `json:"plugin_id"`
	AlertName  string         `json:"alert_name"`
	Time       int64          `json:"time"`
	Tags       map[string]any `json:"tags"`
	Severity   int            `json:"severity"`
	Target     string         `json:"target"`
	DedupeKeys []string       `json:"dedupe_keys"`
	StrategyId int            `json:"strategy_id"`
	ItemId     int            `json:"item_id"`

	// IsRecovery 恢复信号 alert据此关闭异常告警
	IsRecovery bool `json:"is_recovery"`

	Description         string `json:"description"`
	StrategySnapshotKey string `json:"strategy_snapshot_key"`
}

// NewEventId 同一(维度, 时间, 策略, 监控项, 级别)的异常多次处理得到同一事件id
func NewEventId(dimsMd5 string, ts int64, strategyId, itemId, level int) string {
	return fmt.Sprintf("%s.%d.%d.%d.%d", dimsMd5, ts, strategyId, itemId, level)
}

// DedupeMd5 按去重字段集计算告警身份
// 字段值取tags或事件自身属性 排序后拼接求md5
func (e *Event) DedupeMd5() string {
	keys := e.DedupeKeys
	if len(keys) == 0 {
		keys = common.DefaultDedupeFields
	}
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	parts := make([]string, 0, len(sorted))
	for _, k := range sorted {
		parts = append(parts, fmt.Sprintf("%s=%s", k, e.fieldValue(k)))
	}
	return fmt.Sprintf("%x", md5.Sum([]byte(strings.Join(parts, "&"))))
}

func (e *Event) fieldValue(field string) string {
	switch field {
	case "alert_name":
		return e.AlertName
	case "target":
		return e.Target
	case "strategy_id":
		return cast.ToString(e.StrategyId)
	default:
		return cast.ToString(e.Tags[field])
	}
}

// Marshal 序列化入队
func (e *Event) Marshal() (string, error) {
	return jsonx.MarshalString(e)
}

// Parse 反序列化
func Parse(raw string) (*Event, error) {
	var evt Event
	if err := jsonx.UnmarshalString(raw, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}
