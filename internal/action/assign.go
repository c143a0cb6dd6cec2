// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package action

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/common"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/alert"
)

// PluginTypeAssign 指派流程使用的内置插件类型
const PluginTypeAssign = "assign"

// AssignTitle 指派通知标题 多告警时只点名第一条
func AssignTitle(operator string, appointees []string, alerts []*alert.Alert) string {
	who := strings.Join(appointees, ",")
	if len(alerts) == 1 {
		return fmt.Sprintf("%s 将告警【%d】指派给 %s", operator, alerts[0].Id, who)
	}
	return fmt.Sprintf("%s 将【%s】等%d个告警指派给 %s", operator, alerts[0].AlertName, len(alerts), who)
}

// Assign 显式指派 绕过策略直接构造动作实例入队
func Assign(operator string, appointees []string, alerts []*alert.Alert, noticeWay string) (*Instance, error) {
	if len(alerts) == 0 {
		return nil, errors.New("assign requires at least one alert")
	}

	instance := &Instance{
		Id:         uuid.New().String(),
		Signal:     common.ActionSignalManual,
		StrategyId: alerts[0].StrategyId,
		Alerts: lo.Map(alerts, func(a *alert.Alert, _ int) int64 {
			return a.Id
		}),
		PluginType: PluginTypeAssign,
		Inputs:     map[string]any{"operator": operator, "appointees": appointees},
		Rendered: Rendered{
			Title:     AssignTitle(operator, appointees, alerts),
			Content:   alerts[0].Description,
			NoticeWay: noticeWay,
			MsgType:   MsgTypeOf(noticeWay),
		},
		Status:      common.ActionStatusPending,
		IsPrimary:   true,
		ProcessedAt: time.Now().Unix(),
	}
	if err := Enqueue(instance); err != nil {
		return nil, err
	}
	return instance, nil
}
