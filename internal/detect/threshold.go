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
	"strings"

	"github.com/pkg/errors"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
)

func init() {
	registerBuilder("Threshold", newThresholdDetector)
}

type thresholdRule struct {
	Method    string  `json:"method"`
	Threshold float64 `json:"threshold"`
}

// ThresholdDetector 静态阈值 配置为或组的与关系列表(CNF)
// [[a and b] or [c and d]]
type ThresholdDetector struct {
	groups [][]thresholdRule
}

func newThresholdDetector(raw jsonx.RawMessage, _ string) (Detector, error) {
	var groups [][]thresholdRule
	if err := decodeConfig(raw, &groups); err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, errors.Wrap(ErrInvalidAlgorithmsConfig, "threshold config is empty")
	}
	for _, group := range groups {
		for _, rule := range group {
			if _, err := compare(rule.Method, 0, rule.Threshold); err != nil {
				return nil, err
			}
		}
	}
	return &ThresholdDetector{groups: groups}, nil
}

func (d *ThresholdDetector) Detect(_ *Context, point *Point) (*Result, error) {
	if point.Value == nil {
		return nil, nil
	}
	value := *point.Value
	for _, group := range d.groups {
		matched := true
		var descriptions []string
		for _, rule := range group {
			hit, err := compare(rule.Method, value, rule.Threshold)
			if err != nil {
				return nil, err
			}
			if !hit {
				matched = false
				break
			}
			descriptions = append(descriptions, fmt.Sprintf("%s%s", methodSymbol(rule.Method), formatValue(rule.Threshold)))
		}
		if matched {
			return &Result{
				AnomalyMessage: fmt.Sprintf("当前指标值(%s) %s", formatValue(value), strings.Join(descriptions, " 且 ")),
			}, nil
		}
	}
	return nil, nil
}
