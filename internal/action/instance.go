// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

// Package action 消费alert阶段的动作信号 产出待执行的动作实例
// 动作的实际外部副作用由独立的Action Executor完成 本模块只负责编排/收敛/入队
package action

import (
	"github.com/pkg/errors"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/common"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/metrics"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
)

// Rendered 渲染结果 每个notice_way一份
type Rendered struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	NoticeWay string `json:"notice_way"`
	MsgType   string `json:"msg_type"`
}

// Instance 动作实例 经收敛后只有primary实例真正入执行队列
type Instance struct {
	Id           string         `json:"action_id"`
	Signal       string         `json:"signal"`
	StrategyId   int            `json:"strategy_id"`
	Alerts       []int64        `json:"alerts"`
	PluginType   string         `json:"action_plugin"`
	ConfigId     int            `json:"action_config"`
	Inputs       map[string]any `json:"inputs"`
	Rendered     Rendered       `json:"rendered"`
	Status       string         `json:"status"`
	RetryTimes   int            `json:"retry_times"`
	ProcessedAt  int64          `json:"processed_at"`
	ErrorMessage string         `json:"error_message,omitempty"`

	// ExecuteAfter 重试时设置 Executor在此时间戳前不执行
	ExecuteAfter int64 `json:"execute_after,omitempty"`

	ConvergeId     string `json:"converge_id,omitempty"`
	ConvergeStatus string `json:"converge_status,omitempty"`
	IsPrimary      bool   `json:"is_primary"`
}

// Enqueue 入per动作类型执行队列 并上报队列深度
func Enqueue(instance *Instance) error {
	payload, err := jsonx.MarshalString(instance)
	if err != nil {
		return errors.Wrap(err, "marshal action instance failed")
	}

	rds := redis.GetInstance()
	queueKey := key.FtaActionListKey.Key(key.P{"action_type": instance.PluginType})
	if err := rds.LPush(queueKey, payload); err != nil {
		return errors.Wrapf(err, "push action [%s] failed", instance.Id)
	}
	rds.Client.Expire(rds.Ctx(), queueKey, key.FtaActionListKey.TTL())

	depth, err := rds.Client.LLen(rds.Ctx(), queueKey).Result()
	if err == nil {
		metrics.QueueDepth(queueKey, depth)
	}
	metrics.ActionCount(instance.Signal, common.ActionStatusPending)
	return nil
}
