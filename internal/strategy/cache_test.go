// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testStrategy(id, bizId int, algorithmType string) *Strategy {
	return &Strategy{
		Id:      id,
		BkBizId: bizId,
		Enabled: true,
		Items: []Item{
			{
				Id: id*10 + 1,
				QueryConfigs: []QueryConfig{
					{
						DataSourceLabel: DataSourceBkMonitor,
						DataTypeLabel:   DataTypeTimeSeries,
						ResultTableId:   "system.cpu_summary",
						MetricField:     "usage",
						AggInterval:     60,
					},
				},
				Algorithms: []Algorithm{{Id: 1, Type: algorithmType, Level: 2}},
			},
		},
		Detects: []Detect{
			{
				Level:          2,
				TriggerConfig:  TriggerConfig{Count: 3, CheckWindow: 10},
				RecoveryConfig: RecoveryConfig{CheckWindow: 5},
			},
		},
	}
}

func TestCacheIndexes(t *testing.T) {
	cache := &Cache{state: newSnapshotState()}
	cache.SetStateForTest([]*Strategy{
		testStrategy(101, 2, "Threshold"),
		testStrategy(102, 2, "Threshold"),
		testStrategy(103, 3, "Threshold"),
	})

	s, ok := cache.GetById(101)
	assert.True(t, ok)
	assert.Equal(t, 101, s.Id)

	assert.Len(t, cache.GetByBiz(2), 2)
	assert.Len(t, cache.GetByBiz(99), 0)

	dsKey := DataSourceKey{Label: DataSourceBkMonitor, Type: DataTypeTimeSeries, Table: "system.cpu_summary"}
	assert.Len(t, cache.GetByDataSource(dsKey), 3)
}

func TestCoerceAiopsTrigger(t *testing.T) {
	// 纯HostAnomalyDetection策略 触发窗口被强制为1次/5周期
	pure := testStrategy(201, 2, AlgorithmHostAnomaly)
	coerceAiopsTrigger(pure)
	assert.Equal(t, 1, pure.Detects[0].TriggerConfig.Count)
	assert.Equal(t, 5, pure.Detects[0].TriggerConfig.CheckWindow)
	assert.Equal(t, "00:00", pure.Detects[0].TriggerConfig.Uptime.TimeRanges[0].Start)
	assert.Equal(t, "23:59", pure.Detects[0].TriggerConfig.Uptime.TimeRanges[0].End)

	// 普通算法保持用户配置
	plain := testStrategy(202, 2, "Threshold")
	coerceAiopsTrigger(plain)
	assert.Equal(t, 3, plain.Detects[0].TriggerConfig.Count)
	assert.Equal(t, 10, plain.Detects[0].TriggerConfig.CheckWindow)

	// 混合算法同样保持用户配置
	mixed := testStrategy(203, 2, AlgorithmHostAnomaly)
	mixed.Items = append(mixed.Items, testStrategy(203, 2, "Threshold").Items[0])
	coerceAiopsTrigger(mixed)
	assert.Equal(t, 3, mixed.Detects[0].TriggerConfig.Count)
}

func TestStrategyGroupKeyStable(t *testing.T) {
	a := testStrategy(301, 2, "Threshold")
	b := testStrategy(302, 2, "Threshold")
	assert.Equal(t, a.StrategyGroupKey(), b.StrategyGroupKey())

	c := testStrategy(303, 2, "Threshold")
	c.Items[0].QueryConfigs[0].AggInterval = 300
	assert.NotEqual(t, a.StrategyGroupKey(), c.StrategyGroupKey())
}

func TestSnapshotKey(t *testing.T) {
	s := testStrategy(401, 2, "Threshold")
	s.UpdateTime = 1700000000
	assert.Equal(t, "strategy_snapshot_401_1700000000", s.SnapshotKey())
}
