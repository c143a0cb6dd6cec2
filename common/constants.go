// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package common

import "time"

const (
	// ServiceName 服务标识 用于consul注册与worker id
	ServiceName = "bab"
)

// 告警级别
const (
	LevelFatal   = 1
	LevelWarning = 2
	LevelRemind  = 3

	// NoDataLevel 无数据告警使用的专属级别
	NoDataLevel = 2
)

// 告警状态
const (
	AlertStatusAbnormal  = "ABNORMAL"
	AlertStatusRecovered = "RECOVERED"
	AlertStatusClosed    = "CLOSED"
)

// 处理动作信号
const (
	ActionSignalAbnormal      = "abnormal"
	ActionSignalRecovered     = "recovered"
	ActionSignalClosed        = "closed"
	ActionSignalAck           = "ack"
	ActionSignalNoData        = "no_data"
	ActionSignalManual        = "manual"
	ActionSignalExecute       = "execute"
	ActionSignalExecuteFailed = "execute_failed"
)

// ActionInstance状态
const (
	ActionStatusPending    = "PENDING"
	ActionStatusRunning    = "RUNNING"
	ActionStatusSuccess    = "SUCCESS"
	ActionStatusFailed     = "FAILED"
	ActionStatusTerminated = "TERMINATED"
)

// 收敛状态
const (
	ConvergeStatusExecuted = "EXECUTED"
	ConvergeStatusSkipped  = "SKIPPED"
)

// 检测结果标记
const (
	// AnomalyLabel check result中的异常标记 格式: "<ts>|ANOMALY"
	AnomalyLabel = "ANOMALY"
)

const (
	// DefaultDetectWindowTTL 检测窗口数据默认保留时长
	DefaultDetectWindowTTL = 30 * time.Minute
	// DefaultServiceLockTTL 服务锁默认TTL
	DefaultServiceLockTTL = 3 * time.Minute
	// DefaultEventBatchSize gse事件单轮拉取条数
	DefaultEventBatchSize = 10000
)

// DefaultDedupeFields 告警默认去重字段
var DefaultDedupeFields = []string{"alert_name", "target"}
