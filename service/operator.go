// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package service

import (
	"context"
	"time"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/runtimex"
)

// Operator 常驻任务 Start阻塞直到ctx取消
type Operator interface {
	Name() string
	Start(ctx context.Context)
}

// tickOperator 周期型常驻任务 单轮出错只记日志 下一轮照常跑
type tickOperator struct {
	name     string
	interval time.Duration
	handle   func(ctx context.Context) error
	release  func()
}

func newTickOperator(name string, interval time.Duration, handle func(ctx context.Context) error) *tickOperator {
	return &tickOperator{name: name, interval: interval, handle: handle}
}

func (o *tickOperator) Name() string {
	return o.name
}

func (o *tickOperator) Start(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	if o.release != nil {
		defer o.release()
	}
	logger.Infof("operator [%s] started with interval %s", o.name, o.interval)

	o.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Infof("operator [%s] stopped", o.name)
			return
		case <-ticker.C:
			o.runOnce(ctx)
		}
	}
}

func (o *tickOperator) runOnce(ctx context.Context) {
	defer runtimex.HandleCrash()
	if err := o.handle(ctx); err != nil {
		logger.Errorf("operator [%s] run failed: %v", o.name, err)
	}
}
