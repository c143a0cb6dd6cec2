// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package nodata

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goRedis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/checkresult"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/cmdb"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/hashx"
)

func TestExpectedDimensionsHonorTargets(t *testing.T) {
	client := cmdb.GetClient()
	client.SetHostsForTest(3, []cmdb.Host{
		{Ip: "10.0.1.1", BkCloudId: 0, BkBizId: 3, TopoNodeIds: []string{"module|5"}},
		{Ip: "10.0.1.2", BkCloudId: 0, BkBizId: 3, TopoNodeIds: []string{"module|6"}},
	})
	s := &strategy.Strategy{Id: 102, BkBizId: 3}
	checker := &Checker{cmdb: client, now: time.Now}

	// 拓扑节点目标只展开节点下主机
	topoItem := &strategy.Item{
		Targets: [][]strategy.Target{{{
			Field:  "host_topo_node",
			Method: "eq",
			Value:  []map[string]any{{"bk_obj_id": "module", "bk_inst_id": 5}},
		}}},
	}
	dims, err := checker.expectedDimensions(context.Background(), s, topoItem)
	require.NoError(t, err)
	require.Len(t, dims, 1)
	assert.Equal(t, "10.0.1.1", dims[0]["bk_target_ip"])

	// 静态IP目标直接取目标值 不查业务主机
	ipItem := &strategy.Item{
		Targets: [][]strategy.Target{{{
			Field:  "bk_target_ip",
			Method: "eq",
			Value:  []map[string]any{{"bk_target_ip": "10.9.9.9", "bk_target_cloud_id": 2}},
		}}},
	}
	dims, err = checker.expectedDimensions(context.Background(), s, ipItem)
	require.NoError(t, err)
	require.Len(t, dims, 1)
	assert.Equal(t, "10.9.9.9", dims[0]["bk_target_ip"])
	assert.Equal(t, 2, dims[0]["bk_target_cloud_id"])

	// 未配置目标回退到业务下全部主机
	dims, err = checker.expectedDimensions(context.Background(), s, &strategy.Item{})
	require.NoError(t, err)
	assert.Len(t, dims, 2)

	// agg_dimension裁剪后同组合只保留一份
	aggItem := &strategy.Item{
		NoDataConfig: strategy.NoDataConfig{AggDims: []string{"bk_target_cloud_id"}},
	}
	dims, err = checker.expectedDimensions(context.Background(), s, aggItem)
	require.NoError(t, err)
	require.Len(t, dims, 1)
	_, hasIp := dims[0]["bk_target_ip"]
	assert.False(t, hasIp)
}

func TestCheckItemEmitsAnomalyForMissingDims(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()
	redis.SetInstance(goRedis.NewClient(&goRedis.Options{Addr: server.Addr()}))
	config.StorageRedisKeyPrefix = "bkmonitorv3.ee"
	config.ClusterName = ""

	now := time.Unix(1700000000, 0)
	s := &strategy.Strategy{
		Id:      101,
		BkBizId: 2,
		Enabled: true,
		Items: []strategy.Item{
			{
				Id: 11,
				QueryConfigs: []strategy.QueryConfig{
					{DataSourceLabel: "bk_monitor", DataTypeLabel: "time_series", AggInterval: 60},
				},
				NoDataConfig: strategy.NoDataConfig{IsEnabled: true, Continuous: 5, Level: 2},
			},
		},
		Detects: []strategy.Detect{{Level: 2, TriggerConfig: strategy.TriggerConfig{Count: 1, CheckWindow: 5}}},
	}

	client := cmdb.GetClient()
	client.SetHostsForTest(2, []cmdb.Host{
		{Ip: "10.0.0.1", BkCloudId: 0, BkBizId: 2},
		{Ip: "10.0.0.2", BkCloudId: 0, BkBizId: 2},
		{Ip: "10.0.0.3", BkCloudId: 0, BkBizId: 2},
	})

	// 主机1/2最近有数据 主机3已停止上报
	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		dimsMd5 := hashx.DimensionsMd5(map[string]any{"bk_target_ip": ip, "bk_target_cloud_id": 0})
		_, err := checkresult.AdvanceCheckpoint(101, 11, dimsMd5, 2, now.Unix()-60)
		require.NoError(t, err)
	}
	staleMd5 := hashx.DimensionsMd5(map[string]any{"bk_target_ip": "10.0.0.3", "bk_target_cloud_id": 0})
	_, err = checkresult.AdvanceCheckpoint(101, 11, staleMd5, 2, now.Unix()-3600)
	require.NoError(t, err)

	checker := &Checker{cmdb: client, now: func() time.Time { return now }}
	require.NoError(t, checker.checkItem(context.Background(), s, &s.Items[0]))

	// 只有主机3产生无数据异常
	rds := redis.GetInstance()
	listKey := key.AnomalyListKey.Key(key.P{"strategy_id": 101, "item_id": 11})
	depth, err := rds.Client.LLen(rds.Ctx(), listKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	raw, err := rds.Client.LRange(rds.Ctx(), listKey, 0, -1).Result()
	require.NoError(t, err)
	assert.Contains(t, raw[0], staleMd5)
	assert.Contains(t, raw[0], "无数据上报")

	// 同一周期内重复检查不再合成
	require.NoError(t, checker.checkItem(context.Background(), s, &s.Items[0]))
	depth, _ = rds.Client.LLen(rds.Ctx(), listKey).Result()
	assert.Equal(t, int64(1), depth)

	// 数据恢复后清除无数据检查点
	_, err = checkresult.AdvanceCheckpoint(101, 11, staleMd5, 2, now.Unix())
	require.NoError(t, err)
	require.NoError(t, checker.checkItem(context.Background(), s, &s.Items[0]))

	spec := key.NoDataLastAnomalyCheckpointKey
	field := spec.Field(key.P{"strategy_id": 101, "item_id": 11, "dims_md5": staleMd5})
	exists, err := rds.Client.HExists(rds.Ctx(), spec.Key(nil), field).Result()
	require.NoError(t, err)
	assert.False(t, exists)
}
