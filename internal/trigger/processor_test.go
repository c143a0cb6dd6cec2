// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goRedis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/common"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/access"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/checkresult"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
)

func newTestRedis(t *testing.T) *miniredis.Miniredis {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	redis.SetInstance(goRedis.NewClient(&goRedis.Options{Addr: server.Addr()}))
	config.StorageRedisKeyPrefix = "bkmonitorv3.ee"
	config.ClusterName = ""
	return server
}

// gse基础事件从data_id缓冲入队 经事件处理与触发后应产出一个事件
func TestGseEventReachesTriggerEvent(t *testing.T) {
	newTestRedis(t)
	config.DetectBatchSignalNum = 100
	config.AccessMaxRetrieveNumber = 100

	strategy.GetCache().SetStateForTest([]*strategy.Strategy{
		{
			Id:      301,
			Name:    "主机corefile告警",
			BkBizId: 2,
			Enabled: true,
			Items: []strategy.Item{
				{
					Id: 31,
					QueryConfigs: []strategy.QueryConfig{
						{DataSourceLabel: "bk_monitor", DataTypeLabel: "event", BkDataId: 1000},
					},
					Algorithms: []strategy.Algorithm{{Level: 2}},
				},
			},
			Detects: []strategy.Detect{
				{Level: 2, TriggerConfig: strategy.TriggerConfig{Count: 1, CheckWindow: 5}, RecoveryConfig: strategy.RecoveryConfig{CheckWindow: 5}},
			},
		},
	})

	raw, err := jsonx.MarshalString(map[string]any{
		"type": 7,
		"value": []any{
			map[string]any{
				"event_time": 1700000000,
				"extra":      map[string]any{"bizid": 2, "host": "10.0.0.1", "cloudid": 0},
			},
		},
	})
	require.NoError(t, err)

	rds := redis.GetInstance()
	bufferKey := key.DataIdBufferKey.Key(key.P{"data_id": 1000})
	require.NoError(t, rds.Client.LPush(rds.Ctx(), bufferKey, raw).Err())
	require.NoError(t, access.NewEventProcess(1000).Handle(context.Background()))

	// 异常点必须带嵌套point结构 触发侧按point取维度
	anomalyKey := key.AnomalyListKey.Key(key.P{"strategy_id": 301, "item_id": 31})
	anomalies, err := rds.Client.LRange(rds.Ctx(), anomalyKey, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.Contains(t, anomalies[0], `"point"`)
	assert.Contains(t, anomalies[0], `"anomaly_id"`)
	assert.Contains(t, anomalies[0], `"bk_target_ip":"10.0.0.1"`)

	require.NoError(t, NewProcessor().Handle())

	events, err := rds.Client.LRange(rds.Ctx(), key.TriggerEventListKey.Key(nil), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Contains(t, events[0], "10.0.0.1|0")
	assert.Contains(t, events[0], "corefile-gse")

	// 同一事件重放 checkpoint不推进 不再产出
	require.NoError(t, rds.Client.LPush(rds.Ctx(), bufferKey, raw).Err())
	require.NoError(t, access.NewEventProcess(1000).Handle(context.Background()))
	depth, err := rds.Client.LLen(rds.Ctx(), anomalyKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

// 同一异常点重复投递 状态机只推进一次
func TestProcessSignalDeduplicatesAnomalies(t *testing.T) {
	newTestRedis(t)
	config.DetectBatchSignalNum = 100
	config.AccessMaxRetrieveNumber = 100

	s := &strategy.Strategy{
		Id:      302,
		Name:    "CPU使用率告警",
		BkBizId: 2,
		Enabled: true,
		Items:   []strategy.Item{{Id: 32}},
		Detects: []strategy.Detect{
			{Level: 2, TriggerConfig: strategy.TriggerConfig{Count: 1, CheckWindow: 5}, RecoveryConfig: strategy.RecoveryConfig{CheckWindow: 5}},
		},
	}
	strategy.GetCache().SetStateForTest([]*strategy.Strategy{s})

	ts := int64(1700000000)
	dimsMd5 := "md5-dedupe"
	marker := checkresult.Marker{Timestamp: ts, Label: common.AnomalyLabel}
	require.NoError(t, checkresult.AddMarker(302, 32, dimsMd5, 2, marker, common.DefaultDetectWindowTTL))

	payload, err := jsonx.MarshalString(map[string]any{
		"anomaly_id": "md5-dedupe.1700000000.302.32.2",
		"point": map[string]any{
			"time":       ts,
			"value":      99.9,
			"dimensions": map[string]any{"bk_target_ip": "10.0.0.2"},
			"dims_md5":   dimsMd5,
		},
		"level":                 2,
		"anomaly_message":       "CPU使用率超过阈值",
		"strategy_snapshot_key": s.SnapshotKey(),
	})
	require.NoError(t, err)

	rds := redis.GetInstance()
	listKey := key.AnomalyListKey.Key(key.P{"strategy_id": 302, "item_id": 32})
	require.NoError(t, rds.Client.LPush(rds.Ctx(), listKey, payload, payload).Err())

	p := &Processor{cache: strategy.GetCache(), now: time.Now}
	require.NoError(t, p.processSignal("302.32"))

	events, err := rds.Client.LRange(rds.Ctx(), key.TriggerEventListKey.Key(nil), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, events, 1)
	// 事件id直接取anomaly_id 链路各端对同一异常说同一个id
	assert.Contains(t, events[0], "md5-dedupe.1700000000.302.32.2")

	// 跨批次重复投递同样只处理一次
	require.NoError(t, rds.Client.LPush(rds.Ctx(), listKey, payload).Err())
	require.NoError(t, p.processSignal("302.32"))
	depth, err := rds.Client.LLen(rds.Ctx(), key.TriggerEventListKey.Key(nil)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}
