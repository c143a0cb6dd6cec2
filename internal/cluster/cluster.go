// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package cluster

import (
	"context"
	"time"

	"github.com/samber/lo"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/consul"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
)

// Scheduler 每轮: 竞选 -> (leader)发布分配表 -> (所有节点)对齐消费
type Scheduler struct {
	host      string
	elector   *Elector
	manager   *ConsumerManager
	cache     *strategy.Cache
	interval  time.Duration
	published map[string][]Assignment
}

func NewScheduler(host string) *Scheduler {
	return &Scheduler{
		host:     host,
		elector:  NewElector(host),
		manager:  NewConsumerManager(),
		cache:    strategy.GetCache(),
		interval: time.Duration(config.ClusterLeaderInterval) * time.Second,
	}
}

func (s *Scheduler) Manager() *ConsumerManager {
	return s.manager
}

// Run 常驻循环 ctx取消时让出leader并停掉消费
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.elector.Resign(context.Background())
			s.manager.Close()
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	isLeader, err := s.elector.TryElect(ctx)
	if err != nil {
		logger.Errorf("leader election tick failed: %v", err)
	}
	if isLeader {
		if err := s.publish(); err != nil {
			logger.Errorf("publish assignments failed: %v", err)
		}
	}

	assignments, err := FetchAssignment(s.host)
	if err != nil {
		logger.Errorf("fetch own assignment failed: %v", err)
		return
	}
	s.manager.Reconcile(ctx, assignments)
}

// publish 汇总策略涉及的data_id加上gse内置数据源 均匀铺到存活主机上
func (s *Scheduler) publish() error {
	instance, err := consul.GetInstance()
	if err != nil {
		return err
	}
	hosts, err := instance.ListBackendHosts()
	if err != nil {
		return err
	}

	dataIds := s.cache.DataIds()
	dataIds = append(dataIds, config.GseBaseAlarmDataId, config.GseCustomEventDataId, config.GseProcessReportDataId)
	dataIds = lo.Uniq(dataIds)

	assignments := ComputeAssignments(hosts, dataIds)
	// 分配表没变就只续期 避免每轮重写hash
	if equal, _ := jsonx.CompareObjects(s.published, assignments); equal {
		rds := redis.GetInstance()
		return rds.Client.Expire(rds.Ctx(), key.HostDataIdKey.Key(nil), key.HostDataIdKey.TTL()).Err()
	}
	if err := PublishAssignments(assignments); err != nil {
		return err
	}
	s.published = assignments
	return nil
}
