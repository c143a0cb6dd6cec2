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

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/hashx"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
)

// Point 单条待检测数据点
type Point struct {
	StrategyId          int            `json:"strategy_id"`
	ItemId              int            `json:"item_id"`
	StrategySnapshotKey string         `json:"strategy_snapshot_key"`
	Priority            int            `json:"priority"`
	Time                int64          `json:"time"`
	Value               *float64       `json:"value"`
	Dimensions          map[string]any `json:"dimensions"`

	// DimsMd5 维度hash 解析时计算后缓存
	DimsMd5 string `json:"dims_md5,omitempty"`
}

// ParsePoint 解析access推送的序列化数据点
func ParsePoint(raw string) (*Point, error) {
	var point Point
	if err := jsonx.UnmarshalString(raw, &point); err != nil {
		return nil, err
	}
	return &point, nil
}

func dimsMd5Of(dims map[string]any) string {
	return hashx.DimensionsMd5(dims)
}

// AnomalyPoint 检测出的异常点
type AnomalyPoint struct {
	// AnomalyId 异常身份 "{dims_md5}.{time}.{strategy_id}.{item_id}.{level}"
	// 同一异常重复投递得到同一id trigger据此去重
	AnomalyId           string `json:"anomaly_id"`
	Point               *Point `json:"point"`
	Level               int    `json:"level"`
	AnomalyMessage      string `json:"anomaly_message"`
	StrategySnapshotKey string `json:"strategy_snapshot_key"`
}

// NewAnomalyId 在异常产出时刻生成 record_id加上策略定位
func NewAnomalyId(dimsMd5 string, ts int64, strategyId, itemId, level int) string {
	return fmt.Sprintf("%s.%d.%d.%d.%d", dimsMd5, ts, strategyId, itemId, level)
}
