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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
)

func pointOf(value float64, ts int64) *Point {
	return &Point{Time: ts, Value: &value, DimsMd5: "test-md5"}
}

func historyCtx(offsets map[int64]float64) *Context {
	ctx := &Context{History: map[int64]*Point{}}
	for offset, value := range offsets {
		v := value
		ctx.History[offset] = &Point{Value: &v}
	}
	return ctx
}

func TestThresholdDetector(t *testing.T) {
	detector, err := newThresholdDetector(jsonx.RawMessage(`[[{"method": "gte", "threshold": 10}]]`), "")
	require.NoError(t, err)

	result, err := detector.Detect(&Context{}, pointOf(12, 1700000000))
	assert.NoError(t, err)
	require.NotNil(t, result)
	assert.Contains(t, result.AnomalyMessage, ">=10")

	result, err = detector.Detect(&Context{}, pointOf(9.9, 1700000000))
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestThresholdDetectorCNF(t *testing.T) {
	// (gte 10 and lt 20) or (gt 100)
	raw := jsonx.RawMessage(`[
		[{"method": "gte", "threshold": 10}, {"method": "lt", "threshold": 20}],
		[{"method": "gt", "threshold": 100}]
	]`)
	detector, err := newThresholdDetector(raw, "")
	require.NoError(t, err)

	for value, anomalous := range map[float64]bool{15: true, 150: true, 50: false, 5: false} {
		result, detectErr := detector.Detect(&Context{}, pointOf(value, 0))
		assert.NoError(t, detectErr)
		assert.Equal(t, anomalous, result != nil, "value %v", value)
	}
}

func TestThresholdDetectorInvalidConfig(t *testing.T) {
	_, err := newThresholdDetector(jsonx.RawMessage(`[]`), "")
	assert.ErrorIs(t, err, ErrInvalidAlgorithmsConfig)

	_, err = newThresholdDetector(jsonx.RawMessage(`[[{"method": "between", "threshold": 1}]]`), "")
	assert.ErrorIs(t, err, ErrInvalidAlgorithmsConfig)
}

func TestSimpleRingRatio(t *testing.T) {
	builder := newSimpleRatio(false)
	detector, err := builder(jsonx.RawMessage(`{"floor": 50, "ceil": 50}`), "")
	require.NoError(t, err)
	detector.(intervalAware).SetAggInterval(60)

	// 上一周期10 当前20 涨幅100% 超过ceil 50%
	result, err := detector.Detect(historyCtx(map[int64]float64{60: 10}), pointOf(20, 1700000000))
	assert.NoError(t, err)
	assert.NotNil(t, result)

	// 涨幅40% 未超
	result, err = detector.Detect(historyCtx(map[int64]float64{60: 10}), pointOf(14, 1700000000))
	assert.NoError(t, err)
	assert.Nil(t, result)

	// 历史点缺失 不标记异常
	_, err = detector.Detect(historyCtx(nil), pointOf(20, 1700000000))
	assert.ErrorIs(t, err, ErrHistoryDataNotExists)
}

func TestSimpleRingRatioMinValueGuard(t *testing.T) {
	builder := newSimpleRatio(false)
	detector, err := builder(jsonx.RawMessage(`{"floor": 0, "ceil": 100}`), "percent")
	require.NoError(t, err)
	detector.(intervalAware).SetAggInterval(60)

	// 参考值为0 经unit_convert_min钳制后不会除零 0.03相对0.01涨幅200%
	result, err := detector.Detect(historyCtx(map[int64]float64{60: 0}), pointOf(0.03, 1700000000))
	assert.NoError(t, err)
	assert.NotNil(t, result)
}

func TestAdvancedRingRatioAvg(t *testing.T) {
	builder := newAdvancedRatio(false)
	detector, err := builder(jsonx.RawMessage(`{"ceil": 50, "ceil_interval": 3, "fetch_type": "avg"}`), "")
	require.NoError(t, err)
	detector.(intervalAware).SetAggInterval(60)

	ctx := historyCtx(map[int64]float64{60: 10, 120: 12, 180: 8})
	// 参考均值10 当前16 涨幅60%
	result, err := detector.Detect(ctx, pointOf(16, 1700000000))
	assert.NoError(t, err)
	assert.NotNil(t, result)

	result, err = detector.Detect(ctx, pointOf(14, 1700000000))
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestRingRatioAmplitude(t *testing.T) {
	detector, err := newRingRatioAmplitude(jsonx.RawMessage(`{"ratio": 0.5, "shock": 1, "threshold": 10}`), "")
	require.NoError(t, err)
	detector.(intervalAware).SetAggInterval(60)

	// 未过threshold门限 不判定
	result, err := detector.Detect(historyCtx(map[int64]float64{60: 5}), pointOf(8, 0))
	assert.NoError(t, err)
	assert.Nil(t, result)

	// |20-10| > 10*0.5+1
	result, err = detector.Detect(historyCtx(map[int64]float64{60: 10}), pointOf(20, 0))
	assert.NoError(t, err)
	assert.NotNil(t, result)
}

func TestYearRoundAmplitude(t *testing.T) {
	builder := newYearRoundAmplitude(false)
	detector, err := builder(jsonx.RawMessage(`{"ratio": 0.1, "shock": 1, "days": 2, "method": "gte"}`), "")
	require.NoError(t, err)

	day := int64(86400)
	// 两天参考均满足 |v-ref| >= ref*0.1+1
	ctx := historyCtx(map[int64]float64{day: 10, 2 * day: 20})
	result, err := detector.Detect(ctx, pointOf(30, 0))
	assert.NoError(t, err)
	assert.NotNil(t, result)

	// 任一天不满足即不判定
	result, err = detector.Detect(ctx, pointOf(10.5, 0))
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestRunDetectorsConnector(t *testing.T) {
	thresholdLow, err := newThresholdDetector(jsonx.RawMessage(`[[{"method": "gte", "threshold": 10}]]`), "")
	require.NoError(t, err)
	thresholdHigh, err := newThresholdDetector(jsonx.RawMessage(`[[{"method": "gte", "threshold": 100}]]`), "")
	require.NoError(t, err)

	// and: 两个都要命中
	_, anomalous := runDetectors([]Detector{thresholdLow, thresholdHigh}, "and", &Context{}, pointOf(50, 0))
	assert.False(t, anomalous)
	_, anomalous = runDetectors([]Detector{thresholdLow, thresholdHigh}, "and", &Context{}, pointOf(150, 0))
	assert.True(t, anomalous)

	// or: 任一命中
	_, anomalous = runDetectors([]Detector{thresholdLow, thresholdHigh}, "or", &Context{}, pointOf(50, 0))
	assert.True(t, anomalous)
}

func TestNewDetectorUnknownType(t *testing.T) {
	_, err := NewDetector(strategy.Algorithm{Type: "NotExists", Config: jsonx.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrInvalidAlgorithmsConfig)
}

func TestMarkerLabel(t *testing.T) {
	assert.Equal(t, "ANOMALY", markerLabel(pointOf(1, 0), true))
	assert.Equal(t, "12.5", markerLabel(pointOf(12.5, 0), false))
	assert.Equal(t, "null", markerLabel(&Point{}, false))
}
