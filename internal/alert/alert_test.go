// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package alert

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
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/event"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
)

// fakeStore 内存版告警文档存储
type fakeStore struct {
	docs map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string][]byte)}
}

func (f *fakeStore) IndexDocument(_ context.Context, _, docId string, doc any) error {
	raw, err := jsonx.Marshal(doc)
	if err != nil {
		return err
	}
	f.docs[docId] = raw
	return nil
}

func (f *fakeStore) GetDocument(_ context.Context, _, docId string) ([]byte, error) {
	return f.docs[docId], nil
}

func (f *fakeStore) Search(_ context.Context, _ string, _ map[string]any, _ time.Duration) ([][]byte, error) {
	var sources [][]byte
	for _, raw := range f.docs {
		sources = append(sources, raw)
	}
	return sources, nil
}

func newTestManager(t *testing.T, strategies []*strategy.Strategy) (*Manager, *fakeStore, *miniredis.Miniredis) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	redis.SetInstance(goRedis.NewClient(&goRedis.Options{Addr: server.Addr()}))

	cache := strategy.GetCache()
	cache.SetStateForTest(strategies)

	store := newFakeStore()
	m := &Manager{cache: cache, es: store, now: func() time.Time { return time.Unix(1700000000, 0) }}
	return m, store, server
}

func alertStrategy() *strategy.Strategy {
	return &strategy.Strategy{
		Id:      101,
		BkBizId: 2,
		Enabled: true,
		Notice: strategy.Notice{
			Assignees:  []string{"admin", "ops"},
			SignalList: []string{common.ActionSignalAbnormal, common.ActionSignalRecovered},
		},
		Items:   []strategy.Item{{Id: 1, QueryConfigs: []strategy.QueryConfig{{AggInterval: 60}}}},
		Detects: []strategy.Detect{{Level: 2, TriggerConfig: strategy.TriggerConfig{Count: 1, CheckWindow: 5}}},
	}
}

func anomalyEvent(ts int64) *event.Event {
	return &event.Event{
		EventId:    "abc.1.101.1.2",
		PluginId:   "bkmonitor",
		AlertName:  "CPU使用率过高",
		Time:       ts,
		Severity:   2,
		Target:     "127.0.0.1|0",
		StrategyId: 101,
		ItemId:     1,
	}
}

func signalsOf(t *testing.T, server *miniredis.Miniredis) []Signal {
	raws, err := server.List(key.ActionSignalListKey.Key(nil))
	if err != nil {
		return nil
	}
	signals := make([]Signal, 0, len(raws))
	for _, raw := range raws {
		var sig Signal
		require.NoError(t, jsonx.UnmarshalString(raw, &sig))
		signals = append(signals, sig)
	}
	return signals
}

func TestProcessCreateThenExtend(t *testing.T) {
	m, store, server := newTestManager(t, []*strategy.Strategy{alertStrategy()})
	ctx := context.Background()

	require.NoError(t, m.process(ctx, anomalyEvent(1700000000)))
	require.Len(t, store.docs, 1)

	var created Alert
	for _, raw := range store.docs {
		require.NoError(t, jsonx.Unmarshal(raw, &created))
	}
	assert.Equal(t, common.AlertStatusAbnormal, created.Status)
	assert.Equal(t, 2, created.BkBizId)
	assert.Equal(t, []string{"admin", "ops"}, created.Assignee)
	assert.Equal(t, 1, created.EventCount)
	assert.Equal(t, int64(1700000000), created.BeginTime)

	// 相同身份的第二个事件只延长时间线 不产生新文档
	require.NoError(t, m.process(ctx, anomalyEvent(1700000060)))
	require.Len(t, store.docs, 1)

	var extended Alert
	for _, raw := range store.docs {
		require.NoError(t, jsonx.Unmarshal(raw, &extended))
	}
	assert.Equal(t, created.Id, extended.Id)
	assert.Equal(t, 2, extended.EventCount)
	assert.Equal(t, int64(1700000060), extended.LatestTime)
	assert.Equal(t, int64(1700000000), extended.BeginTime)

	signals := signalsOf(t, server)
	require.Len(t, signals, 1)
	assert.Equal(t, common.ActionSignalAbnormal, signals[0].Signal)
	assert.Equal(t, created.Id, signals[0].AlertId)
}

func TestProcessRecovery(t *testing.T) {
	m, store, server := newTestManager(t, []*strategy.Strategy{alertStrategy()})
	ctx := context.Background()

	require.NoError(t, m.process(ctx, anomalyEvent(1700000000)))

	recovery := anomalyEvent(1700000300)
	recovery.IsRecovery = true
	require.NoError(t, m.process(ctx, recovery))

	var a Alert
	for _, raw := range store.docs {
		require.NoError(t, jsonx.Unmarshal(raw, &a))
	}
	assert.Equal(t, common.AlertStatusRecovered, a.Status)
	assert.Equal(t, int64(1700000300), a.EndTime)

	// 去重索引已清理 新异常会开新告警
	require.NoError(t, m.process(ctx, anomalyEvent(1700000600)))
	assert.Len(t, store.docs, 2)

	signals := signalsOf(t, server)
	require.Len(t, signals, 3)
}

func TestProcessRecoveryWithoutOpenAlert(t *testing.T) {
	m, store, _ := newTestManager(t, []*strategy.Strategy{alertStrategy()})

	recovery := anomalyEvent(1700000300)
	recovery.IsRecovery = true
	require.NoError(t, m.process(context.Background(), recovery))
	assert.Len(t, store.docs, 0)
}

func TestSeverityEscalate(t *testing.T) {
	m, store, server := newTestManager(t, []*strategy.Strategy{alertStrategy()})
	ctx := context.Background()

	old := config.AlertSeverityEscalate
	config.AlertSeverityEscalate = true
	defer func() { config.AlertSeverityEscalate = old }()

	require.NoError(t, m.process(ctx, anomalyEvent(1700000000)))

	fatal := anomalyEvent(1700000060)
	fatal.Severity = common.LevelFatal
	require.NoError(t, m.process(ctx, fatal))

	var a Alert
	for _, raw := range store.docs {
		require.NoError(t, jsonx.Unmarshal(raw, &a))
	}
	assert.Equal(t, common.LevelFatal, a.Severity)

	// 升级会再发一次abnormal信号
	signals := signalsOf(t, server)
	require.Len(t, signals, 2)
	assert.Equal(t, common.ActionSignalAbnormal, signals[0].Signal)
}

func TestHandleConsumesEventList(t *testing.T) {
	m, store, _ := newTestManager(t, []*strategy.Strategy{alertStrategy()})

	old := config.AccessMaxBuildEventNum
	config.AccessMaxBuildEventNum = 100
	defer func() { config.AccessMaxBuildEventNum = old }()

	raw, err := anomalyEvent(1700000000).Marshal()
	require.NoError(t, err)
	rds := redis.GetInstance()
	require.NoError(t, rds.LPush(key.TriggerEventListKey.Key(nil), raw, "not json"))

	require.NoError(t, m.Handle(context.Background()))
	assert.Len(t, store.docs, 1)

	// 队列已清空 再跑一轮不应新增
	require.NoError(t, m.Handle(context.Background()))
	assert.Len(t, store.docs, 1)
}

func TestSweepClosesStaleAlerts(t *testing.T) {
	m, store, server := newTestManager(t, []*strategy.Strategy{alertStrategy()})
	ctx := context.Background()

	require.NoError(t, m.process(ctx, anomalyEvent(1700000000)))

	require.NoError(t, m.Sweep(ctx))

	var a Alert
	for _, raw := range store.docs {
		require.NoError(t, jsonx.Unmarshal(raw, &a))
	}
	assert.Equal(t, common.AlertStatusClosed, a.Status)

	// 关闭后去重索引释放 closed信号已发出
	signals := signalsOf(t, server)
	require.Len(t, signals, 2)
	assert.Equal(t, common.ActionSignalClosed, signals[0].Signal)

	require.NoError(t, m.process(ctx, anomalyEvent(1700000600)))
	assert.Len(t, store.docs, 2)
}

func TestAckAndClose(t *testing.T) {
	m, store, _ := newTestManager(t, []*strategy.Strategy{alertStrategy()})
	ctx := context.Background()

	require.NoError(t, m.process(ctx, anomalyEvent(1700000000)))
	var created Alert
	for _, raw := range store.docs {
		require.NoError(t, jsonx.Unmarshal(raw, &created))
	}

	require.NoError(t, m.Ack(ctx, created.Id))
	require.NoError(t, m.Close(ctx, created.Id))

	a, err := m.load(ctx, created.Id)
	require.NoError(t, err)
	assert.True(t, a.IsAck)
	assert.Equal(t, common.AlertStatusClosed, a.Status)
}

func TestNextIdRoundtrip(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	redis.SetInstance(goRedis.NewClient(&goRedis.Options{Addr: server.Addr()}))

	now := time.Unix(1700000000, 0)
	first, err := NextId(now)
	require.NoError(t, err)
	second, err := NextId(now)
	require.NoError(t, err)

	assert.Equal(t, int64(1700000000), ParseTimestamp(first))
	assert.Equal(t, int64(1), ParseSequence(first))
	assert.Equal(t, int64(2), ParseSequence(second))
	assert.Greater(t, second, first)
}
