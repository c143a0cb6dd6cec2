// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package kafka

import (
	"crypto/sha512"
	"fmt"
	"sync"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"github.com/xdg-go/scram"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/cipher"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
)

// Options Kafka消费参数
type Options struct {
	Topic       string
	GroupPrefix string
	DataId      int
	Cluster     string

	BootstrapServers []string
	Username         string
	Password         string
}

// GroupId 消费组命名: access.event.{data_id} 或 {cluster}.access.event.{data_id}
func (o *Options) GroupId() string {
	groupId := fmt.Sprintf("%s.%d", o.GroupPrefix, o.DataId)
	if o.Cluster != "" {
		groupId = fmt.Sprintf("%s.%s", o.Cluster, groupId)
	}
	return groupId
}

type xdgSCRAMClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

func (x *xdgSCRAMClient) Begin(userName, password, authzID string) (err error) {
	x.Client, err = x.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.ClientConversation = x.Client.NewConversation()
	return nil
}

func (x *xdgSCRAMClient) Step(challenge string) (response string, err error) {
	return x.ClientConversation.Step(challenge)
}

func (x *xdgSCRAMClient) Done() bool {
	return x.ClientConversation.Done()
}

func newConsumerConfig(username, password string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V0_10_2_0
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	if username != "" {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.User = username
		// 配置中可能是aes_str:::前缀的密文
		cfg.Net.SASL.Password = cipher.AESDecrypt(password)
		cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &xdgSCRAMClient{HashGeneratorFcn: sha512.New}
		}
	}
	return cfg
}

// GroupLag 消费组在topic上的总落后量 健康检查用
// 没有提交过offset的partition按0计
func GroupLag(opt *Options) (int64, error) {
	client, err := sarama.NewClient(opt.BootstrapServers, newConsumerConfig(opt.Username, opt.Password))
	if err != nil {
		return 0, errors.Wrapf(err, "create kafka client for topic [%s] failed", opt.Topic)
	}
	defer client.Close()

	partitions, err := client.Partitions(opt.Topic)
	if err != nil {
		return 0, errors.Wrapf(err, "list partitions of topic [%s] failed", opt.Topic)
	}

	admin, err := sarama.NewClusterAdminFromClient(client)
	if err != nil {
		return 0, errors.Wrap(err, "create kafka admin failed")
	}
	committed, err := admin.ListConsumerGroupOffsets(opt.GroupId(), map[string][]int32{opt.Topic: partitions})
	if err != nil {
		return 0, errors.Wrapf(err, "list offsets of group [%s] failed", opt.GroupId())
	}

	var lag int64
	for _, partition := range partitions {
		newest, err := client.GetOffset(opt.Topic, partition, sarama.OffsetNewest)
		if err != nil {
			return 0, errors.Wrapf(err, "get newest offset of topic [%s] failed", opt.Topic)
		}
		block := committed.GetBlock(opt.Topic, partition)
		if block == nil || block.Offset < 0 {
			continue
		}
		if newest > block.Offset {
			lag += newest - block.Offset
		}
	}
	return lag, nil
}

type poolKey struct {
	topic       string
	groupPrefix string
}

// Pool 进程级消费组池 生命周期由consumer manager管理
// key为(topic, groupPrefix) 避免同进程对同一topic重复建连
type Pool struct {
	mut    sync.Mutex
	groups map[poolKey]sarama.ConsumerGroup
}

func NewPool() *Pool {
	return &Pool{groups: make(map[poolKey]sarama.ConsumerGroup)}
}

// Get 获取或创建消费组
func (p *Pool) Get(opt *Options) (sarama.ConsumerGroup, error) {
	p.mut.Lock()
	defer p.mut.Unlock()

	k := poolKey{topic: opt.Topic, groupPrefix: opt.GroupPrefix}
	if group, ok := p.groups[k]; ok {
		return group, nil
	}

	group, err := sarama.NewConsumerGroup(opt.BootstrapServers, opt.GroupId(), newConsumerConfig(opt.Username, opt.Password))
	if err != nil {
		return nil, errors.Wrapf(err, "create consumer group [%s] for topic [%s] failed", opt.GroupId(), opt.Topic)
	}
	p.groups[k] = group
	logger.Infof("consumer group [%s] created for topic [%s]", opt.GroupId(), opt.Topic)
	return group, nil
}

// Put 归还并关闭消费组 关闭前已消费的offset由sarama提交
func (p *Pool) Put(opt *Options) error {
	p.mut.Lock()
	defer p.mut.Unlock()

	k := poolKey{topic: opt.Topic, groupPrefix: opt.GroupPrefix}
	group, ok := p.groups[k]
	if !ok {
		return nil
	}
	delete(p.groups, k)
	return group.Close()
}

// Close 关闭所有消费组
func (p *Pool) Close() {
	p.mut.Lock()
	defer p.mut.Unlock()
	for k, group := range p.groups {
		if err := group.Close(); err != nil {
			logger.Errorf("close consumer group for topic [%s] failed: %s", k.topic, err)
		}
	}
	p.groups = make(map[poolKey]sarama.ConsumerGroup)
}
