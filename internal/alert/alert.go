// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

// Package alert 告警生命周期管理
// 同一dedupe_md5同时至多一条ABNORMAL告警
package alert

import (
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/common"
)

// Alert 告警文档 持久化在ES的alert索引
type Alert struct {
	Id         int64    `json:"id"`
	BkBizId    int      `json:"bk_biz_id"`
	AlertName  string   `json:"alert_name"`
	DedupeMd5  string   `json:"dedupe_md5"`
	Severity   int      `json:"severity"`
	Status     string   `json:"status"`
	BeginTime  int64    `json:"begin_time"`
	LatestTime int64    `json:"latest_time"`
	EndTime    int64    `json:"end_time,omitempty"`
	StrategyId int      `json:"strategy_id"`
	Target     string   `json:"target"`
	Assignee   []string `json:"assignee"`

	Description         string         `json:"description"`
	Tags                map[string]any `json:"tags"`
	EventCount          int            `json:"event_count"`
	StrategySnapshotKey string         `json:"strategy_snapshot_key"`

	// IsAck 已确认的告警不再重复通知
	IsAck bool `json:"is_ack"`
}

// IsAbnormal 告警是否处于异常态
func (a *Alert) IsAbnormal() bool {
	return a.Status == common.AlertStatusAbnormal
}
