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
	"fmt"
	"sort"
	"strings"

	goRedis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/mapx"
)

// Assignment leader下发的单个消费任务
type Assignment struct {
	DataId          int    `json:"data_id"`
	Topic           string `json:"topic"`
	Partition       int32  `json:"partition"`
	BootstrapServer string `json:"bootstrap_server"`
}

// TopicOf data_id对应的kafka topic命名约定
func TopicOf(dataId int) string {
	return fmt.Sprintf("0bkmonitor_%d0", dataId)
}

// ComputeAssignments 按host列表轮转分配data_id
// 入参排序后分配 host集合与data_id集合相同则所有节点算出同一张表
func ComputeAssignments(hosts []string, dataIds []int) map[string][]Assignment {
	assignments := make(map[string][]Assignment, len(hosts))
	if len(hosts) == 0 {
		return assignments
	}

	sortedHosts := make([]string, len(hosts))
	copy(sortedHosts, hosts)
	sort.Strings(sortedHosts)
	sortedIds := make([]int, len(dataIds))
	copy(sortedIds, dataIds)
	sort.Ints(sortedIds)

	bootstrap := strings.Join(config.StorageKafkaHost, ",")
	for i, dataId := range sortedIds {
		host := sortedHosts[i%len(sortedHosts)]
		mapx.AddSliceItems(assignments, host, Assignment{
			DataId:          dataId,
			Topic:           TopicOf(dataId),
			BootstrapServer: bootstrap,
		})
	}
	return assignments
}

// PublishAssignments leader把分配表写入redis hash
func PublishAssignments(assignments map[string][]Assignment) error {
	rds := redis.GetInstance()
	tableKey := key.HostDataIdKey.Key(nil)

	pipe := rds.Client.TxPipeline()
	pipe.Del(rds.Ctx(), tableKey)
	for host, list := range assignments {
		payload, err := jsonx.MarshalString(list)
		if err != nil {
			return errors.Wrapf(err, "marshal assignment of host [%s] failed", host)
		}
		pipe.HSet(rds.Ctx(), tableKey, key.HostDataIdKey.Field(key.P{"host": host}), payload)
	}
	pipe.Expire(rds.Ctx(), tableKey, key.HostDataIdKey.TTL())
	if _, err := pipe.Exec(rds.Ctx()); err != nil {
		return errors.Wrap(err, "publish assignments failed")
	}
	return nil
}

// FetchAssignment follower只读自己的条目
func FetchAssignment(host string) ([]Assignment, error) {
	rds := redis.GetInstance()
	raw, err := rds.HGet(key.HostDataIdKey.Key(nil), key.HostDataIdKey.Field(key.P{"host": host}))
	if err != nil {
		if errors.Is(err, goRedis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "fetch assignment of host [%s] failed", host)
	}
	var assignments []Assignment
	if err := jsonx.UnmarshalString(raw, &assignments); err != nil {
		return nil, errors.Wrapf(err, "unmarshal assignment of host [%s] failed", host)
	}
	return assignments, nil
}
