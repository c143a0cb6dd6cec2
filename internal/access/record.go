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
	"bytes"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/hashx"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
)

// DataRecord access阶段流转的单条数据
// Items为命中该数据的(策略, 监控项)组合 过滤器逐项裁剪
type DataRecord struct {
	Raw        map[string]any
	Time       int64
	Value      *float64
	Metrics    map[string]float64
	Dimensions map[string]any

	// Items 数据命中的策略监控项 ItemRecord携带保留标记
	Items []*ItemRecord
}

// ItemRecord 数据与单个(策略, 监控项)的绑定
type ItemRecord struct {
	Strategy *strategy.Strategy
	Item     *strategy.Item
	Level    int

	// IsRetain 过滤链与抑制判定后是否保留
	IsRetain bool
	// Inhibited 被同组更高级别异常抑制
	Inhibited bool
	// Priority 策略有效优先级 下游抢占依据
	Priority int
}

// DecodeRecord 解析原始数据 容忍尾部的\x00或\n
func DecodeRecord(raw []byte) (map[string]any, error) {
	trimmed := bytes.TrimRight(raw, "\x00\n")
	if len(trimmed) == 0 {
		return nil, errors.New("empty record")
	}
	var data map[string]any
	if err := jsonx.Unmarshal(trimmed, &data); err != nil {
		return nil, errors.Wrap(err, "decode record failed")
	}
	return data, nil
}

// NewDataRecord 从解析后的数据构造记录 时间字段兼容time/timestamp/utctime
func NewDataRecord(data map[string]any) (*DataRecord, error) {
	record := &DataRecord{Raw: data, Dimensions: map[string]any{}}

	for _, field := range []string{"time", "timestamp", "utctime"} {
		if v, ok := data[field]; ok {
			ts := cast.ToInt64(v)
			// 毫秒时间戳归一到秒
			if ts > 1e12 {
				ts = ts / 1000
			}
			record.Time = ts
			break
		}
	}
	if record.Time == 0 {
		return nil, errors.New("record has no time field")
	}

	if v, ok := data["value"]; ok && v != nil {
		value := cast.ToFloat64(v)
		record.Value = &value
	}
	// 时序上报把指标放在metrics里 按metric_field取值
	if metricsMap, ok := data["metrics"].(map[string]any); ok {
		record.Metrics = make(map[string]float64, len(metricsMap))
		for name, v := range metricsMap {
			if v == nil {
				continue
			}
			record.Metrics[name] = cast.ToFloat64(v)
		}
	}
	if dims, ok := data["dimensions"].(map[string]any); ok {
		record.Dimensions = dims
	}
	return record, nil
}

// ValueFor 监控项视角下的数值 顶层value优先 缺省按metric_field查metrics
func (r *DataRecord) ValueFor(item *strategy.Item) *float64 {
	if r.Value != nil {
		return r.Value
	}
	for _, qc := range item.QueryConfigs {
		if qc.MetricField == "" {
			continue
		}
		if v, ok := r.Metrics[qc.MetricField]; ok {
			value := v
			return &value
		}
	}
	return nil
}

// DimensionsMd5 维度集合的md5
func DimensionsMd5(dims map[string]any) string {
	return hashx.DimensionsMd5(dims)
}
