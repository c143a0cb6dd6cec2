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
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
)

const daySeconds = int64(86400)

func init() {
	registerBuilder("SimpleRingRatio", newSimpleRatio(false))
	registerBuilder("SimpleYearRound", newSimpleRatio(true))
	registerBuilder("AdvancedRingRatio", newAdvancedRatio(false))
	registerBuilder("AdvancedYearRound", newAdvancedRatio(true))
	registerBuilder("RingRatioAmplitude", newRingRatioAmplitude)
	registerBuilder("YearRoundAmplitude", newYearRoundAmplitude(false))
	registerBuilder("YearRoundRange", newYearRoundAmplitude(true))
}

// intervalAware 检测器偏移依赖聚合周期 框架构造后注入
type intervalAware interface {
	SetAggInterval(seconds int64)
}

type simpleRatioConfig struct {
	Floor float64 `json:"floor"`
	Ceil  float64 `json:"ceil"`
}

// SimpleRatioDetector 简单环比/同比 与单个历史点的涨跌幅比较
// yearRound时参考点为前一天同时刻 否则为上一周期
type SimpleRatioDetector struct {
	config      simpleRatioConfig
	unit        string
	yearRound   bool
	aggInterval int64
}

func newSimpleRatio(yearRound bool) detectorBuilder {
	return func(raw jsonx.RawMessage, unitPrefix string) (Detector, error) {
		var config simpleRatioConfig
		if err := decodeConfig(raw, &config); err != nil {
			return nil, err
		}
		if config.Floor <= 0 && config.Ceil <= 0 {
			return nil, errors.Wrap(ErrInvalidAlgorithmsConfig, "ratio floor/ceil are both empty")
		}
		return &SimpleRatioDetector{config: config, unit: unitPrefix, yearRound: yearRound, aggInterval: 60}, nil
	}
}

func (d *SimpleRatioDetector) SetAggInterval(seconds int64) { d.aggInterval = seconds }

func (d *SimpleRatioDetector) HistoryOffsets() []int64 {
	if d.yearRound {
		return []int64{daySeconds}
	}
	return []int64{d.aggInterval}
}

func (d *SimpleRatioDetector) Detect(ctx *Context, point *Point) (*Result, error) {
	if point.Value == nil {
		return nil, nil
	}
	reference, err := ctx.HistoryPoint(d.HistoryOffsets()[0])
	if err != nil {
		return nil, err
	}
	// 最小单位钳制 参考值为0时避免涨跌幅除零
	value := unitConvertMin(*point.Value, d.unit)
	prev := unitConvertMin(*reference.Value, d.unit)

	if d.config.Ceil > 0 && value >= prev*(100+d.config.Ceil)/100 {
		return &Result{AnomalyMessage: fmt.Sprintf(
			"当前指标值(%s)较参考值(%s)上升超过%s%%", formatValue(value), formatValue(prev), formatValue(d.config.Ceil))}, nil
	}
	if d.config.Floor > 0 && value <= prev*(100-d.config.Floor)/100 {
		return &Result{AnomalyMessage: fmt.Sprintf(
			"当前指标值(%s)较参考值(%s)下降超过%s%%", formatValue(value), formatValue(prev), formatValue(d.config.Floor))}, nil
	}
	return nil, nil
}

type advancedRatioConfig struct {
	Floor         float64 `json:"floor"`
	Ceil          float64 `json:"ceil"`
	FloorInterval int     `json:"floor_interval"`
	CeilInterval  int     `json:"ceil_interval"`
	FetchType     string  `json:"fetch_type"`
}

// AdvancedRatioDetector 高级环比/同比
// 参考值取前N周期(或N天)的均值或末值 avg抗噪 last保相位
type AdvancedRatioDetector struct {
	config      advancedRatioConfig
	unit        string
	yearRound   bool
	aggInterval int64
}

func newAdvancedRatio(yearRound bool) detectorBuilder {
	return func(raw jsonx.RawMessage, unitPrefix string) (Detector, error) {
		var config advancedRatioConfig
		if err := decodeConfig(raw, &config); err != nil {
			return nil, err
		}
		if config.FetchType == "" {
			config.FetchType = "avg"
		}
		if config.FetchType != "avg" && config.FetchType != "last" {
			return nil, errors.Wrapf(ErrInvalidAlgorithmsConfig, "unknown fetch_type [%s]", config.FetchType)
		}
		if config.CeilInterval <= 0 && config.FloorInterval <= 0 {
			return nil, errors.Wrap(ErrInvalidAlgorithmsConfig, "ratio intervals are both empty")
		}
		return &AdvancedRatioDetector{config: config, unit: unitPrefix, yearRound: yearRound, aggInterval: 60}, nil
	}
}

func (d *AdvancedRatioDetector) SetAggInterval(seconds int64) { d.aggInterval = seconds }

func (d *AdvancedRatioDetector) step() int64 {
	if d.yearRound {
		return daySeconds
	}
	return d.aggInterval
}

func (d *AdvancedRatioDetector) HistoryOffsets() []int64 {
	intervals := d.config.CeilInterval
	if d.config.FloorInterval > intervals {
		intervals = d.config.FloorInterval
	}
	offsets := make([]int64, 0, intervals)
	for i := 1; i <= intervals; i++ {
		offsets = append(offsets, int64(i)*d.step())
	}
	return offsets
}

// reference 前n个参考点按fetch_type聚合
func (d *AdvancedRatioDetector) reference(ctx *Context, n int) (float64, error) {
	if n <= 0 {
		return 0, ErrHistoryDataNotExists
	}
	if d.config.FetchType == "last" {
		point, err := ctx.HistoryPoint(d.step())
		if err != nil {
			return 0, err
		}
		return *point.Value, nil
	}
	sum := 0.0
	for i := 1; i <= n; i++ {
		point, err := ctx.HistoryPoint(int64(i) * d.step())
		if err != nil {
			return 0, err
		}
		sum += *point.Value
	}
	return sum / float64(n), nil
}

func (d *AdvancedRatioDetector) Detect(ctx *Context, point *Point) (*Result, error) {
	if point.Value == nil {
		return nil, nil
	}
	value := unitConvertMin(*point.Value, d.unit)

	if d.config.Ceil > 0 && d.config.CeilInterval > 0 {
		ref, err := d.reference(ctx, d.config.CeilInterval)
		if err != nil {
			return nil, err
		}
		ref = unitConvertMin(ref, d.unit)
		if value >= ref*(100+d.config.Ceil)/100 {
			return &Result{AnomalyMessage: fmt.Sprintf(
				"当前指标值(%s)较前%d个参考点(%s值%s)上升超过%s%%",
				formatValue(value), d.config.CeilInterval, d.config.FetchType, formatValue(ref), formatValue(d.config.Ceil))}, nil
		}
	}
	if d.config.Floor > 0 && d.config.FloorInterval > 0 {
		ref, err := d.reference(ctx, d.config.FloorInterval)
		if err != nil {
			return nil, err
		}
		ref = unitConvertMin(ref, d.unit)
		if value <= ref*(100-d.config.Floor)/100 {
			return &Result{AnomalyMessage: fmt.Sprintf(
				"当前指标值(%s)较前%d个参考点(%s值%s)下降超过%s%%",
				formatValue(value), d.config.FloorInterval, d.config.FetchType, formatValue(ref), formatValue(d.config.Floor))}, nil
		}
	}
	return nil, nil
}

type amplitudeConfig struct {
	Ratio     float64 `json:"ratio"`
	Shock     float64 `json:"shock"`
	Threshold float64 `json:"threshold"`
	Days      int     `json:"days"`
	Method    string  `json:"method"`
}

// RingRatioAmplitudeDetector 环比振幅
// value超过threshold后 与上一周期的波动幅度超过 prev*ratio+shock 判异常
type RingRatioAmplitudeDetector struct {
	config      amplitudeConfig
	aggInterval int64
}

func newRingRatioAmplitude(raw jsonx.RawMessage, _ string) (Detector, error) {
	var config amplitudeConfig
	if err := decodeConfig(raw, &config); err != nil {
		return nil, err
	}
	return &RingRatioAmplitudeDetector{config: config, aggInterval: 60}, nil
}

func (d *RingRatioAmplitudeDetector) SetAggInterval(seconds int64) { d.aggInterval = seconds }

func (d *RingRatioAmplitudeDetector) HistoryOffsets() []int64 {
	return []int64{d.aggInterval}
}

func (d *RingRatioAmplitudeDetector) Detect(ctx *Context, point *Point) (*Result, error) {
	if point.Value == nil {
		return nil, nil
	}
	value := *point.Value
	if value <= d.config.Threshold {
		return nil, nil
	}
	reference, err := ctx.HistoryPoint(d.aggInterval)
	if err != nil {
		return nil, err
	}
	prev := *reference.Value
	if math.Abs(value-prev) > prev*d.config.Ratio+d.config.Shock {
		return &Result{AnomalyMessage: fmt.Sprintf(
			"当前指标值(%s)与上一周期值(%s)的波动超过阈值", formatValue(value), formatValue(prev))}, nil
	}
	return nil, nil
}

// YearRoundAmplitudeDetector 同比振幅/同比区间
// 与过去days天同一时刻的参考点逐一比较 全部满足才判异常
// rangeMode时比较对象为参考值本身 否则为与参考值的波动幅度
type YearRoundAmplitudeDetector struct {
	config    amplitudeConfig
	rangeMode bool
}

func newYearRoundAmplitude(rangeMode bool) detectorBuilder {
	return func(raw jsonx.RawMessage, _ string) (Detector, error) {
		var config amplitudeConfig
		if err := decodeConfig(raw, &config); err != nil {
			return nil, err
		}
		if config.Days <= 0 {
			return nil, errors.Wrap(ErrInvalidAlgorithmsConfig, "days must be positive")
		}
		if config.Method == "" {
			config.Method = "gte"
		}
		if _, err := compare(config.Method, 0, 0); err != nil {
			return nil, err
		}
		return &YearRoundAmplitudeDetector{config: config, rangeMode: rangeMode}, nil
	}
}

func (d *YearRoundAmplitudeDetector) HistoryOffsets() []int64 {
	offsets := make([]int64, 0, d.config.Days)
	for i := 1; i <= d.config.Days; i++ {
		offsets = append(offsets, int64(i)*daySeconds)
	}
	return offsets
}

func (d *YearRoundAmplitudeDetector) Detect(ctx *Context, point *Point) (*Result, error) {
	if point.Value == nil {
		return nil, nil
	}
	value := *point.Value
	for i := 1; i <= d.config.Days; i++ {
		reference, err := ctx.HistoryPoint(int64(i) * daySeconds)
		if err != nil {
			return nil, err
		}
		ref := *reference.Value
		subject := math.Abs(value - ref)
		if d.rangeMode {
			subject = value
		}
		hit, err := compare(d.config.Method, subject, ref*d.config.Ratio+d.config.Shock)
		if err != nil {
			return nil, err
		}
		if !hit {
			return nil, nil
		}
	}
	return &Result{AnomalyMessage: fmt.Sprintf(
		"当前指标值(%s)与过去%d天同时刻相比均超出阈值", formatValue(value), d.config.Days)}, nil
}
