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
	"strings"
	"sync"

	"github.com/Shopify/sarama"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/kafka"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/runtimex"
)

// bufferHandler 把kafka消息原样LPUSH进per data_id缓冲
// 解码和分发由access阶段负责 这里只做搬运
type bufferHandler struct {
	dataId int
}

func (h *bufferHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *bufferHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *bufferHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	rds := redis.GetInstance()
	bufferKey := key.DataIdBufferKey.Key(key.P{"data_id": h.dataId})

	for message := range claim.Messages() {
		if len(message.Value) == 0 {
			session.MarkMessage(message, "")
			continue
		}
		if err := rds.LPush(bufferKey, string(message.Value)); err != nil {
			// 入队失败不提交offset 下次rebalance后重放
			logger.Errorf("buffer message of data_id [%d] failed: %v", h.dataId, err)
			return err
		}
		session.MarkMessage(message, "")
	}
	return nil
}

type runningConsumer struct {
	assignment Assignment
	cancel     context.CancelFunc
	done       chan struct{}
}

// ConsumerManager 按leader分配表维护kafka消费循环
type ConsumerManager struct {
	pool *kafka.Pool

	mut     sync.Mutex
	running map[int]*runningConsumer
}

func NewConsumerManager() *ConsumerManager {
	return &ConsumerManager{pool: kafka.NewPool(), running: make(map[int]*runningConsumer)}
}

func optionsOf(a Assignment) *kafka.Options {
	servers := config.StorageKafkaHost
	if a.BootstrapServer != "" {
		servers = strings.Split(a.BootstrapServer, ",")
	}
	return &kafka.Options{
		Topic:            a.Topic,
		GroupPrefix:      config.StorageKafkaGroupPrefix,
		DataId:           a.DataId,
		Cluster:          config.ClusterName,
		BootstrapServers: servers,
		Username:         config.StorageKafkaUsername,
		Password:         config.StorageKafkaPassword,
	}
}

// Reconcile 对齐到目标分配: 关闭多余的 开启缺失的 其余不动
func (m *ConsumerManager) Reconcile(ctx context.Context, assignments []Assignment) {
	m.mut.Lock()
	defer m.mut.Unlock()

	desired := make(map[int]Assignment, len(assignments))
	for _, a := range assignments {
		desired[a.DataId] = a
	}

	for dataId, rc := range m.running {
		if _, ok := desired[dataId]; ok {
			continue
		}
		// 先cancel消费循环 Close时sarama提交已mark的offset
		rc.cancel()
		<-rc.done
		if err := m.pool.Put(optionsOf(rc.assignment)); err != nil {
			logger.Errorf("close consumer of data_id [%d] failed: %v", dataId, err)
		}
		delete(m.running, dataId)
		logger.Infof("consumer of data_id [%d] dropped by reassignment", dataId)
	}

	for dataId, a := range desired {
		if _, ok := m.running[dataId]; ok {
			continue
		}
		m.start(ctx, a)
	}
}

func (m *ConsumerManager) start(ctx context.Context, a Assignment) {
	group, err := m.pool.Get(optionsOf(a))
	if err != nil {
		logger.Errorf("open consumer of data_id [%d] failed: %v", a.DataId, err)
		return
	}

	consumeCtx, cancel := context.WithCancel(ctx)
	rc := &runningConsumer{assignment: a, cancel: cancel, done: make(chan struct{})}
	m.running[a.DataId] = rc

	go func() {
		defer runtimex.HandleCrash()
		defer close(rc.done)
		for {
			if err := group.Consume(consumeCtx, []string{a.Topic}, &bufferHandler{dataId: a.DataId}); err != nil {
				logger.Errorf("consume topic [%s] failed: %v", a.Topic, err)
			}
			if consumeCtx.Err() != nil {
				return
			}
		}
	}()
	logger.Infof("consumer of data_id [%d] started on topic [%s]", a.DataId, a.Topic)
}

// Close 停掉全部消费循环并关闭连接
func (m *ConsumerManager) Close() {
	m.mut.Lock()
	defer m.mut.Unlock()
	for dataId, rc := range m.running {
		rc.cancel()
		<-rc.done
		delete(m.running, dataId)
	}
	m.pool.Close()
}

// RunningDataIds 当前在消费的data_id集合 健康检查用
func (m *ConsumerManager) RunningDataIds() []int {
	m.mut.Lock()
	defer m.mut.Unlock()
	ids := make([]int, 0, len(m.running))
	for dataId := range m.running {
		ids = append(ids, dataId)
	}
	return ids
}
