// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package healthz

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/agiledragon/gomonkey/v2"
	"github.com/alicebob/miniredis/v2"
	goRedis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/spf13/cast"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/kafka"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
)

func newTestRedis(t *testing.T) *miniredis.Miniredis {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	redis.SetInstance(goRedis.NewClient(&goRedis.Options{Addr: server.Addr()}))
	return server
}

func TestCheckAnomalySignalDepth(t *testing.T) {
	newTestRedis(t)
	rds := redis.GetInstance()
	signalKey := key.AnomalySignalKey.Key(nil)

	problem, err := CheckAnomalySignalDepth(context.Background())
	require.NoError(t, err)
	assert.Nil(t, problem)

	for i := 0; i < anomalySignalDepthLimit+1; i++ {
		require.NoError(t, rds.LPush(signalKey, fmt.Sprintf("101.%d", i)))
	}
	problem, err = CheckAnomalySignalDepth(context.Background())
	require.NoError(t, err)
	require.NotNil(t, problem)
	assert.Equal(t, "TriggerSignalPending", problem.Check)
	assert.NotEmpty(t, problem.Solution)
}

func TestCheckDetectSignalDepthScalesWithStrategies(t *testing.T) {
	newTestRedis(t)
	strategy.GetCache().SetStateForTest([]*strategy.Strategy{{Id: 1, BkBizId: 2}})

	rds := redis.GetInstance()
	signalKey := key.DataSignalKey.Key(nil)
	for i := 0; i < 11; i++ {
		require.NoError(t, rds.LPush(signalKey, "1.1"))
	}

	problem, err := CheckDetectSignalDepth(context.Background())
	require.NoError(t, err)
	require.NotNil(t, problem)
	assert.Equal(t, "DetectSignalPending", problem.Check)
}

func TestCacheAgeCheck(t *testing.T) {
	newTestRedis(t)
	rds := redis.GetInstance()
	spec := key.CacheRefreshTimeKey

	fn := cacheAgeCheck("strategy", "StrategyCacheCronError", 2*time.Hour)

	// 未记录过刷新时间 不报问题
	problem, err := fn(context.Background())
	require.NoError(t, err)
	assert.Nil(t, problem)

	stale := time.Now().Add(-3 * time.Hour).Unix()
	require.NoError(t, rds.HSet(spec.Key(nil), spec.Field(key.P{"cache_type": "strategy"}), cast.ToString(stale)))
	problem, err = fn(context.Background())
	require.NoError(t, err)
	require.NotNil(t, problem)
	assert.Equal(t, "StrategyCacheCronError", problem.Check)

	fresh := time.Now().Unix()
	require.NoError(t, rds.HSet(spec.Key(nil), spec.Field(key.P{"cache_type": "strategy"}), cast.ToString(fresh)))
	problem, err = fn(context.Background())
	require.NoError(t, err)
	assert.Nil(t, problem)
}

func TestCheckFtaActionDepth(t *testing.T) {
	newTestRedis(t)
	config.FtaActionQueueCap = 3

	rds := redis.GetInstance()
	queueKey := key.FtaActionListKey.Key(key.P{"action_type": "notice"})
	for i := 0; i < 4; i++ {
		require.NoError(t, rds.LPush(queueKey, "{}"))
	}

	problem, err := CheckFtaActionDepth(context.Background())
	require.NoError(t, err)
	require.NotNil(t, problem)
	assert.Equal(t, "FtaActionSignalPending", problem.Check)
}

func TestCheckGseKafkaLag(t *testing.T) {
	patch := gomonkey.ApplyFuncReturn(kafka.GroupLag, int64(gseKafkaLagLimit+1), nil)
	problem, err := CheckGseKafkaLag(context.Background())
	patch.Reset()
	require.NoError(t, err)
	require.NotNil(t, problem)
	assert.Equal(t, "Kafka1000Delay", problem.Check)

	patch = gomonkey.ApplyFuncReturn(kafka.GroupLag, int64(1), nil)
	problem, err = CheckGseKafkaLag(context.Background())
	patch.Reset()
	require.NoError(t, err)
	assert.Nil(t, problem)
}

func TestStoryRunSkipsFailingChecks(t *testing.T) {
	newTestRedis(t)
	story := &Story{}
	story.Register("AlwaysBroken", func(context.Context) (*Problem, error) {
		return nil, fmt.Errorf("dependency unavailable")
	})
	story.Register("AlwaysProblem", func(context.Context) (*Problem, error) {
		return &Problem{Check: "AlwaysProblem", Message: "boom", Solution: "fix"}, nil
	})

	problems := story.Run(context.Background())
	require.Len(t, problems, 1)
	assert.Equal(t, "AlwaysProblem", problems[0].Check)
}
