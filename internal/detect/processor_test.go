// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package detect

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	goRedis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
)

func TestProcessSignalOrdersAndSkipsReplayedPoints(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()
	redis.SetInstance(goRedis.NewClient(&goRedis.Options{Addr: server.Addr()}))
	config.StorageRedisKeyPrefix = "bkmonitorv3.ee"
	config.ClusterName = ""
	config.AccessMaxRetrieveNumber = 100

	cache := strategy.GetCache()
	cache.SetStateForTest([]*strategy.Strategy{
		{
			Id:      201,
			BkBizId: 2,
			Enabled: true,
			Items: []strategy.Item{
				{
					Id: 21,
					QueryConfigs: []strategy.QueryConfig{
						{DataSourceLabel: "bk_monitor", DataTypeLabel: "time_series", AggInterval: 60},
					},
					Algorithms: []strategy.Algorithm{
						{Type: "Threshold", Level: 2, Config: jsonx.RawMessage(`[[{"method": "gte", "threshold": 10}]]`)},
					},
				},
			},
			Detects: []strategy.Detect{
				{Level: 2, TriggerConfig: strategy.TriggerConfig{Count: 1, CheckWindow: 5}},
			},
		},
	})
	p := &Processor{cache: cache}

	rds := redis.GetInstance()
	listKey := key.DataListKey.Key(key.P{"strategy_id": 201, "item_id": 21})
	pushPoint := func(ts int64, value float64) {
		raw, marshalErr := jsonx.MarshalString(map[string]any{
			"strategy_id": 201,
			"item_id":     21,
			"time":        ts,
			"value":       value,
			"dimensions":  map[string]any{"bk_target_ip": "10.0.0.1"},
		})
		require.NoError(t, marshalErr)
		require.NoError(t, rds.Client.LPush(rds.Ctx(), listKey, raw).Err())
	}

	// LPUSH后队头是新点 两个点都要产出异常 顺序不能让旧点被吞掉
	pushPoint(1700000060, 20)
	pushPoint(1700000120, 30)
	require.NoError(t, p.processSignal("201.21"))

	anomalyKey := key.AnomalyListKey.Key(key.P{"strategy_id": 201, "item_id": 21})
	raws, err := rds.Client.LRange(rds.Ctx(), anomalyKey, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.Contains(t, raws[0], `"anomaly_id"`)
	assert.Contains(t, raws[0], `"point"`)

	// 重放旧时间点 checkpoint不回退 不产生新异常
	pushPoint(1700000060, 50)
	require.NoError(t, p.processSignal("201.21"))
	depth, err := rds.Client.LLen(rds.Ctx(), anomalyKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}

func TestAnomalyIdStable(t *testing.T) {
	a := NewAnomalyId("md5-x", 1700000000, 201, 21, 2)
	b := NewAnomalyId("md5-x", 1700000000, 201, 21, 2)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, NewAnomalyId("md5-x", 1700000000, 201, 21, 1))
}
