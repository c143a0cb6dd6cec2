// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

// Package service 告警后台进程装配: 常驻任务/周期任务/集群协作
package service

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/common"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/access"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/action"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/alert"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/cluster"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/detect"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/nodata"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/trigger"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/consul"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/elasticsearch"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/runtimex"
)

// Service 单进程内的全部告警后台任务
type Service struct {
	host      string
	scheduler *cluster.Scheduler
	operators []Operator
	cron      *cron.Cron
}

// LocalHost 本机标识 host:port 与consul注册保持一致
func LocalHost() string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	if addrs, err := net.LookupHost(host); err == nil && len(addrs) > 0 {
		host = addrs[0]
	}
	return fmt.Sprintf("%s:%d", host, config.HttpListenPort)
}

// New 装配服务 names非空时只启用指定的常驻任务
func New(names ...string) (*Service, error) {
	es, err := elasticsearch.GetInstance()
	if err != nil {
		return nil, err
	}

	detector, err := detect.NewProcessor()
	if err != nil {
		return nil, err
	}

	host := LocalHost()
	scheduler := cluster.NewScheduler(host)
	triggerProcessor := trigger.NewProcessor()
	alertManager := alert.NewManager(es)
	actionProcessor := action.NewProcessor(es)
	nodataChecker := nodata.NewChecker()

	svc := &Service{host: host, scheduler: scheduler, cron: cron.New()}

	accessInterval := time.Duration(config.AccessRunIntervalSecond) * time.Second
	detectInterval := time.Duration(config.DetectRunInterval) * time.Second

	svc.operators = []Operator{
		newTickOperator("access", accessInterval, func(ctx context.Context) error {
			return svc.runAccess(ctx)
		}),
		func() Operator {
			op := newTickOperator("detect", detectInterval, func(context.Context) error {
				return detector.Handle()
			})
			op.release = detector.Release
			return op
		}(),
		newTickOperator("trigger", detectInterval, func(context.Context) error {
			return triggerProcessor.Handle()
		}),
		newTickOperator("alert", detectInterval, func(ctx context.Context) error {
			return alertManager.Handle(ctx)
		}),
		newTickOperator("action", detectInterval, func(ctx context.Context) error {
			_, err := actionProcessor.Handle(ctx)
			return err
		}),
	}

	if len(names) > 0 {
		svc.operators = lo.Filter(svc.operators, func(op Operator, _ int) bool {
			return lo.Contains(names, op.Name())
		})
		if len(svc.operators) == 0 {
			return nil, errors.Errorf("no operator matches services %v", names)
		}
	}

	if err := svc.registerCron(alertManager, nodataChecker); err != nil {
		return nil, err
	}
	return svc, nil
}

func (s *Service) registerCron(alertManager *alert.Manager, nodataChecker *nodata.Checker) error {
	specs := []struct {
		spec string
		name string
		fn   func()
	}{
		{fmt.Sprintf("@every %ds", config.StrategyCacheRefreshInterval), "strategy.refresh", func() {
			if err := strategy.GetCache().Refresh(context.Background()); err != nil {
				logger.Errorf("refresh strategy cache failed: %v", err)
			}
		}},
		{fmt.Sprintf("@every %ds", config.NoDataRunInterval), "nodata.check", func() {
			if err := nodataChecker.Run(context.Background()); err != nil {
				logger.Errorf("nodata check failed: %v", err)
			}
		}},
		{"@every 5m", "alert.sweep", func() {
			if err := alertManager.Sweep(context.Background()); err != nil {
				logger.Errorf("sweep stale alerts failed: %v", err)
			}
		}},
	}
	for _, item := range specs {
		fn := item.fn
		if _, err := s.cron.AddFunc(item.spec, func() {
			defer runtimex.HandleCrash()
			fn()
		}); err != nil {
			return err
		}
		logger.Infof("periodic task [%s] registered with spec [%s]", item.name, item.spec)
	}
	return nil
}

// runAccess 轮询本机分到的data_id 时序与gse事件走不同的处理链
func (s *Service) runAccess(ctx context.Context) error {
	gseDataIds := []int{config.GseBaseAlarmDataId, config.GseCustomEventDataId, config.GseProcessReportDataId}
	for _, dataId := range s.scheduler.Manager().RunningDataIds() {
		var err error
		if lo.Contains(gseDataIds, dataId) {
			err = access.NewEventProcess(dataId).Handle(ctx)
		} else {
			err = access.NewProcess(dataId).Handle(ctx)
		}
		if err != nil {
			logger.Errorf("access data_id [%d] failed: %v", dataId, err)
		}
	}
	return nil
}

// Run 启动全部任务并阻塞到ctx取消
func (s *Service) Run(ctx context.Context) error {
	if instance, err := consul.GetInstance(); err == nil {
		serviceId := fmt.Sprintf("%s-%s", common.ServiceName, s.host)
		if err := instance.RegisterService(serviceId, s.host, config.HttpListenPort); err != nil {
			logger.Warnf("register service to consul failed: %v", err)
		}
		defer func() {
			if err := instance.DeregisterService(serviceId); err != nil {
				logger.Warnf("deregister service from consul failed: %v", err)
			}
		}()
	} else {
		logger.Warnf("consul unavailable, running standalone: %v", err)
	}

	// 首轮策略缓存同步加载 避免空跑
	if err := strategy.GetCache().Refresh(ctx); err != nil {
		logger.Warnf("initial strategy cache refresh failed: %v", err)
	}

	var group errgroup.Group
	group.Go(func() error {
		defer runtimex.HandleCrash()
		s.scheduler.Run(ctx)
		return nil
	})
	group.Go(func() error {
		defer runtimex.HandleCrash()
		strategy.GetCache().WatchInvalidation(ctx)
		return nil
	})
	for _, op := range s.operators {
		op := op
		group.Go(func() error {
			defer runtimex.HandleCrash()
			op.Start(ctx)
			return nil
		})
	}
	s.cron.Start()

	<-ctx.Done()
	cronCtx := s.cron.Stop()
	<-cronCtx.Done()
	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("alarm backend service stopped")
	return nil
}
