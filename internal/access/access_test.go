// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package access

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goRedis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
)

func newTestRedis(t *testing.T) *miniredis.Miniredis {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	redis.SetInstance(goRedis.NewClient(&goRedis.Options{Addr: server.Addr()}))
	return server
}

func TestDecodeRecord(t *testing.T) {
	// kafka消息尾部可能带\x00或\n
	data, err := DecodeRecord([]byte("{\"time\": 1700000000, \"value\": 1.5}\x00"))
	assert.NoError(t, err)
	assert.Equal(t, float64(1700000000), data["time"])

	data, err = DecodeRecord([]byte("{\"time\": 1700000000}\n"))
	assert.NoError(t, err)
	assert.NotNil(t, data)

	_, err = DecodeRecord([]byte("\x00"))
	assert.Error(t, err)

	_, err = DecodeRecord([]byte("{broken"))
	assert.Error(t, err)
}

func TestNewDataRecord(t *testing.T) {
	record, err := NewDataRecord(map[string]any{
		"time":       float64(1700000000),
		"value":      12.5,
		"dimensions": map[string]any{"ip": "127.0.0.1"},
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(1700000000), record.Time)
	assert.Equal(t, 12.5, *record.Value)

	// 毫秒时间戳归一
	record, err = NewDataRecord(map[string]any{"timestamp": float64(1700000000000)})
	assert.NoError(t, err)
	assert.Equal(t, int64(1700000000), record.Time)

	_, err = NewDataRecord(map[string]any{"value": 1.0})
	assert.Error(t, err)
}

func TestNewDataRecordMetricsFallback(t *testing.T) {
	record, err := NewDataRecord(map[string]any{
		"time":       float64(1700000000),
		"metrics":    map[string]any{"usage": 93.5, "idle": 6.5},
		"dimensions": map[string]any{"bk_target_ip": "10.0.0.1"},
	})
	require.NoError(t, err)
	assert.Nil(t, record.Value)

	item := &strategy.Item{QueryConfigs: []strategy.QueryConfig{{MetricField: "usage"}}}
	value := record.ValueFor(item)
	require.NotNil(t, value)
	assert.Equal(t, 93.5, *value)

	// 监控项指标不在上报里 取不到值
	assert.Nil(t, record.ValueFor(&strategy.Item{QueryConfigs: []strategy.QueryConfig{{MetricField: "load"}}}))

	// 顶层value优先于metrics
	record, err = NewDataRecord(map[string]any{
		"time":    float64(1700000000),
		"value":   1.0,
		"metrics": map[string]any{"usage": 93.5},
	})
	require.NoError(t, err)
	value = record.ValueFor(item)
	require.NotNil(t, value)
	assert.Equal(t, 1.0, *value)
}

func TestDimensionsMd5OrderIndependent(t *testing.T) {
	a := DimensionsMd5(map[string]any{"ip": "127.0.0.1", "device": "sda"})
	b := DimensionsMd5(map[string]any{"device": "sda", "ip": "127.0.0.1"})
	assert.Equal(t, a, b)

	c := DimensionsMd5(map[string]any{"device": "sdb", "ip": "127.0.0.1"})
	assert.NotEqual(t, a, c)
}

func TestExpireFilter(t *testing.T) {
	config.AccessMaxDataSkew = 3600
	now := time.Unix(1700000000, 0)
	filter := &ExpireFilter{now: func() time.Time { return now }}

	fresh := &DataRecord{Time: now.Unix() - 60}
	assert.False(t, filter.Drop(context.Background(), fresh))

	stale := &DataRecord{Time: now.Unix() - 7200}
	assert.True(t, filter.Drop(context.Background(), stale))

	// 未来数据同样按偏移丢弃
	future := &DataRecord{Time: now.Unix() + 7200}
	assert.True(t, filter.Drop(context.Background(), future))
}

func TestEvalConditions(t *testing.T) {
	dims := map[string]any{"device": "sda", "mount": "/data"}

	assert.True(t, evalConditions(nil, dims))
	assert.True(t, evalConditions([]strategy.AggCondition{
		{Key: "device", Method: "eq", Value: []string{"sda", "sdb"}},
	}, dims))
	assert.False(t, evalConditions([]strategy.AggCondition{
		{Key: "device", Method: "neq", Value: []string{"sda"}},
	}, dims))

	// and条件全部成立
	assert.True(t, evalConditions([]strategy.AggCondition{
		{Key: "device", Method: "eq", Value: []string{"sda"}},
		{Key: "mount", Method: "eq", Value: []string{"/data"}, Condition: "and"},
	}, dims))

	// or条件任一成立
	assert.True(t, evalConditions([]strategy.AggCondition{
		{Key: "device", Method: "eq", Value: []string{"sdx"}},
		{Key: "mount", Method: "eq", Value: []string{"/data"}, Condition: "or"},
	}, dims))
}

func TestPriorityCheckerPreemption(t *testing.T) {
	newTestRedis(t)
	config.StorageRedisKeyPrefix = "bkmonitorv3.ee"
	checker := NewPriorityChecker()

	low := &strategy.Strategy{Id: 1, Priority: 10, PriorityGroupKey: "group-a"}
	high := &strategy.Strategy{Id: 2, Priority: 100, PriorityGroupKey: "group-a"}

	// 高优先级先处理后 低优先级同维度被抢占
	assert.True(t, checker.Check(high, "md5-a"))
	assert.False(t, checker.Check(low, "md5-a"))

	// 不同维度互不影响
	assert.True(t, checker.Check(low, "md5-b"))

	// 无分组key的策略不参与抢占
	assert.True(t, checker.Check(&strategy.Strategy{Id: 3, Priority: 1}, "md5-a"))
}

func TestQosSharedTokenBucket(t *testing.T) {
	newTestRedis(t)
	config.StorageRedisKeyPrefix = "bkmonitorv3.ee"
	config.ClusterName = ""
	config.AccessQosTokenPerGroup = 2
	config.AccessQosTokenBurst = 1

	qos := NewQos()
	for i := 0; i < 3; i++ {
		assert.True(t, qos.Allow(2, 101), "token %d", i)
	}
	assert.False(t, qos.Allow(2, 101))

	// 不同策略各自计数
	assert.True(t, qos.Allow(2, 102))
}

func TestPushSuppressesDuplicates(t *testing.T) {
	newTestRedis(t)
	config.StorageRedisKeyPrefix = "bkmonitorv3.ee"
	config.ClusterName = ""

	s := &strategy.Strategy{
		Id:      101,
		BkBizId: 2,
		Items: []strategy.Item{
			{Id: 11, QueryConfigs: []strategy.QueryConfig{{MetricField: "usage", AggInterval: 60}}},
		},
	}
	record := &DataRecord{
		Time:       1700000000,
		Metrics:    map[string]float64{"usage": 93.5},
		Dimensions: map[string]any{"bk_target_ip": "10.0.0.1"},
		Items:      []*ItemRecord{{Strategy: s, Item: &s.Items[0], IsRetain: true}},
	}

	p := &Process{DataId: 1}
	require.NoError(t, p.push([]*DataRecord{record}))

	rds := redis.GetInstance()
	listKey := key.DataListKey.Key(key.P{"strategy_id": 101, "item_id": 11})
	raws, err := rds.Client.LRange(rds.Ctx(), listKey, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, raws, 1)
	// 顶层value缺失时按metric_field落值
	assert.Contains(t, raws[0], `"value":93.5`)

	// 同策略组同时间同维度重复推送被吞掉
	require.NoError(t, p.push([]*DataRecord{record}))
	depth, err := rds.Client.LLen(rds.Ctx(), listKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	// 数据时间不同不算重复
	next := &DataRecord{
		Time:       1700000060,
		Metrics:    map[string]float64{"usage": 95.0},
		Dimensions: map[string]any{"bk_target_ip": "10.0.0.1"},
		Items:      []*ItemRecord{{Strategy: s, Item: &s.Items[0], IsRetain: true}},
	}
	require.NoError(t, p.push([]*DataRecord{next}))
	depth, _ = rds.Client.LLen(rds.Ctx(), listKey).Result()
	assert.Equal(t, int64(2), depth)
}

func TestParseGseEvent(t *testing.T) {
	event, err := ParseGseEvent(map[string]any{
		"type": float64(7),
		"value": []any{
			map[string]any{
				"event_time": float64(1700000000),
				"extra": map[string]any{
					"bizid":   float64(2),
					"host":    "10.0.0.1",
					"cloudid": float64(0),
					"corefile": "/data/corefile/core_101041_2023",
				},
			},
		},
	})
	assert.NoError(t, err)
	assert.Equal(t, "corefile-gse", event.Name)
	assert.Equal(t, 2, event.BkBizId)
	assert.Equal(t, "10.0.0.1", event.Ip)

	_, err = ParseGseEvent(map[string]any{"type": float64(999)})
	assert.Error(t, err)
}
