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
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
)

// AiopsDetector 委托检测 样本与上下文发给外部AIOps服务 本地只消费score与message
type AiopsDetector struct {
	algorithmId   int
	algorithmType string
	client        *http.Client
}

func newAiopsDetector(algorithm strategy.Algorithm) (Detector, error) {
	return &AiopsDetector{
		algorithmId:   algorithm.Id,
		algorithmType: algorithm.Type,
		client:        &http.Client{Timeout: time.Duration(config.AiopsRequestTimeout) * time.Second},
	}, nil
}

type aiopsResponse struct {
	Result  bool   `json:"result"`
	Message string `json:"message"`
	Data    struct {
		IsAnomaly      bool    `json:"is_anomaly"`
		AnomalyScore   float64 `json:"anomaly_score"`
		AnomalyMessage string  `json:"anomaly_message"`
	} `json:"data"`
}

func (d *AiopsDetector) Detect(_ *Context, point *Point) (*Result, error) {
	if config.AiopsApiUrl == "" {
		logger.Debugf("aiops api url is empty, skip algorithm [%s]", d.algorithmType)
		return nil, nil
	}
	payload, err := jsonx.Marshal(map[string]any{
		"algorithm_id":   d.algorithmId,
		"algorithm_type": d.algorithmType,
		"strategy_id":    point.StrategyId,
		"item_id":        point.ItemId,
		"time":           point.Time,
		"value":          point.Value,
		"dimensions":     point.Dimensions,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.AiopsApiUrl, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "request aiops service for algorithm [%s] failed", d.algorithmType)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("aiops service returned status [%d]", resp.StatusCode)
	}

	var body aiopsResponse
	if err = jsonx.Decode(resp.Body, &body); err != nil {
		return nil, errors.Wrap(err, "decode aiops response failed")
	}
	if !body.Result {
		return nil, errors.Errorf("aiops service error: %s", body.Message)
	}
	if !body.Data.IsAnomaly {
		return nil, nil
	}
	message := body.Data.AnomalyMessage
	if message == "" {
		message = "智能检测判定异常"
	}
	return &Result{AnomalyMessage: message}, nil
}
