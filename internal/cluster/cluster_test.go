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
	"testing"

	"github.com/alicebob/miniredis/v2"
	goRedis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
)

func newTestRedis(t *testing.T) *miniredis.Miniredis {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	redis.SetInstance(goRedis.NewClient(&goRedis.Options{Addr: server.Addr()}))
	return server
}

func TestComputeAssignmentsDeterministic(t *testing.T) {
	hosts := []string{"host-b:10215", "host-a:10215"}
	dataIds := []int{1500001, 1000, 1500002, 1100000}

	first := ComputeAssignments(hosts, dataIds)
	second := ComputeAssignments([]string{"host-a:10215", "host-b:10215"}, []int{1100000, 1500002, 1000, 1500001})
	assert.Equal(t, first, second)

	total := 0
	for _, list := range first {
		total += len(list)
	}
	assert.Equal(t, len(dataIds), total)

	// 排序后轮转 data_id最小的落在host-a
	assert.Equal(t, 1000, first["host-a:10215"][0].DataId)
	assert.Equal(t, "0bkmonitor_10000", first["host-a:10215"][0].Topic)
}

func TestComputeAssignmentsNoHosts(t *testing.T) {
	assert.Empty(t, ComputeAssignments(nil, []int{1000}))
}

func TestPublishAndFetchAssignment(t *testing.T) {
	newTestRedis(t)

	assignments := ComputeAssignments([]string{"host-a:10215", "host-b:10215"}, []int{1000, 1500001, 1500002})
	require.NoError(t, PublishAssignments(assignments))

	got, err := FetchAssignment("host-a:10215")
	require.NoError(t, err)
	assert.Equal(t, assignments["host-a:10215"], got)

	// 不在分配表里的host拿到空
	missing, err := FetchAssignment("host-c:10215")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestElection(t *testing.T) {
	newTestRedis(t)
	ctx := context.Background()

	first := NewElector("host-a:10215")
	second := NewElector("host-b:10215")

	ok, err := first.TryElect(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// 锁被占 竞选失败
	ok, err = second.TryElect(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// 已是leader的节点续租成功
	ok, err = first.TryElect(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// leader主动让出后另一节点接任
	first.Resign(ctx)
	ok, err = second.TryElect(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
