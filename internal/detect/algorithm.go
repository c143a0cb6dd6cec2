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

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
)

var (
	// ErrHistoryDataNotExists 检测所需历史点缺失 当前点不标记异常
	ErrHistoryDataNotExists = errors.New("history data not exists")
	// ErrInvalidAlgorithmsConfig 算法配置不合法 跳过该监控项
	ErrInvalidAlgorithmsConfig = errors.New("invalid algorithms config")
)

// Result 单检测器输出 nil表示未检出异常
type Result struct {
	AnomalyMessage string
}

// Context 一轮检测的共享上下文 History按偏移量(秒)索引预取的历史点
type Context struct {
	Unit    string
	History map[int64]*Point
}

// HistoryPoint 取指定偏移的历史点 缺失返回ErrHistoryDataNotExists
func (c *Context) HistoryPoint(offset int64) (*Point, error) {
	point, ok := c.History[offset]
	if !ok || point == nil || point.Value == nil {
		return nil, ErrHistoryDataNotExists
	}
	return point, nil
}

// Detector 检测算法 纯函数语义: 同一(point, context)输入得到同一输出
type Detector interface {
	Detect(ctx *Context, point *Point) (*Result, error)
}

// HistoryPointFetcher 需要历史数据的检测器声明偏移集合 框架批量预取
type HistoryPointFetcher interface {
	HistoryOffsets() []int64
}

// detectorBuilder 从算法配置构造检测器
type detectorBuilder func(config jsonx.RawMessage, unitPrefix string) (Detector, error)

var builders = map[string]detectorBuilder{}

func registerBuilder(algorithmType string, builder detectorBuilder) {
	builders[algorithmType] = builder
}

// NewDetector 按算法类型构造检测器 配置不合法返回ErrInvalidAlgorithmsConfig
func NewDetector(algorithm strategy.Algorithm) (Detector, error) {
	if strategy.AiopsAlgorithms[algorithm.Type] {
		return newAiopsDetector(algorithm)
	}
	builder, ok := builders[algorithm.Type]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidAlgorithmsConfig, "unknown algorithm type [%s]", algorithm.Type)
	}
	return builder(algorithm.Config, algorithm.UnitPrefix)
}

// decodeConfig RawMessage经json+mapstructure落到具体算法配置
func decodeConfig(raw jsonx.RawMessage, out any) error {
	var generic any
	if err := jsonx.Unmarshal(raw, &generic); err != nil {
		return errors.Wrap(ErrInvalidAlgorithmsConfig, err.Error())
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(generic); err != nil {
		return errors.Wrap(ErrInvalidAlgorithmsConfig, err.Error())
	}
	return nil
}

// compare 统一的阈值比较
func compare(method string, value, threshold float64) (bool, error) {
	switch method {
	case "gt":
		return value > threshold, nil
	case "gte":
		return value >= threshold, nil
	case "lt":
		return value < threshold, nil
	case "lte":
		return value <= threshold, nil
	case "eq":
		return value == threshold, nil
	case "neq":
		return value != threshold, nil
	default:
		return false, errors.Wrapf(ErrInvalidAlgorithmsConfig, "unknown compare method [%s]", method)
	}
}

var methodSymbols = map[string]string{
	"gt": ">", "gte": ">=", "lt": "<", "lte": "<=", "eq": "=", "neq": "!=",
}

func methodSymbol(method string) string {
	if symbol, ok := methodSymbols[method]; ok {
		return symbol
	}
	return method
}

// unitEpsilon 各显示单位的最小可分辨值 环比类算法用它规避除零
var unitEpsilon = map[string]float64{
	"percent":     0.01,
	"percentunit": 0.0001,
}

// unitConvertMin 将参考值钳到单位最小可分辨值之上
func unitConvertMin(value float64, unit string) float64 {
	epsilon, ok := unitEpsilon[unit]
	if !ok {
		epsilon = 1e-6
	}
	if value >= 0 && value < epsilon {
		return epsilon
	}
	if value < 0 && value > -epsilon {
		return -epsilon
	}
	return value
}

func formatValue(value float64) string {
	return fmt.Sprintf("%g", value)
}
