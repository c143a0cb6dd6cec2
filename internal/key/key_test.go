// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package key

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
)

func TestKeyRender(t *testing.T) {
	config.StorageRedisKeyPrefix = "bkmonitorv3.ee"
	config.ClusterName = ""

	assert.Equal(t, "bkmonitorv3.ee.detect.anomaly.list.101.2", AnomalyListKey.Key(P{"strategy_id": 101, "item_id": 2}))
	assert.Equal(t, "bkmonitorv3.ee.access.data.signal", DataSignalKey.Key(nil))
	assert.Equal(t, "abcdef|2", LastCheckpointKey.Field(P{"dims_md5": "abcdef", "level": 2}))
	assert.Equal(t, "bkmonitorv3.ee.fta_action.notice", FtaActionListKey.Key(P{"action_type": "notice"}))
}

func TestKeyRenderWithCluster(t *testing.T) {
	config.StorageRedisKeyPrefix = "bkmonitorv3.ee"
	config.ClusterName = "default"
	defer func() { config.ClusterName = "" }()

	assert.Equal(t, "bkmonitorv3.ee.default.alert.poller.leader", LeaderKey.Key(nil))
	assert.Equal(t, "bkmonitorv3.ee.default.service.lock.access.1500001", ServiceLockKey.Key(P{"name": "access", "key": 1500001}))
}

func TestKeyRegistry(t *testing.T) {
	spec, ok := Get("detect.result")
	assert.True(t, ok)
	assert.Equal(t, CheckResultKey.Tpl, spec.Tpl)

	_, ok = Get("not.registered")
	assert.False(t, ok)
}

func TestKeyMissingParamKeepsPlaceholder(t *testing.T) {
	config.StorageRedisKeyPrefix = "bkmonitorv3.ee"
	config.ClusterName = ""
	assert.Equal(t, "bkmonitorv3.ee.access.data.101.{item_id}", DataListKey.Key(P{"strategy_id": 101}))
}
