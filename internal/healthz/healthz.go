// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

// Package healthz 自检故事集 每项检查独立可跑 返回问题与修复建议
package healthz

import (
	"context"
	"fmt"
	"net/http"
	"time"

	goRedis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/cluster"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/metrics"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/kafka"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
)

// Problem 未通过的检查项
type Problem struct {
	Check    string `json:"check"`
	Message  string `json:"message"`
	Solution string `json:"solution"`
}

// CheckFunc 单项检查 通过返回nil 无法判定时返回error
type CheckFunc func(ctx context.Context) (*Problem, error)

type check struct {
	name string
	fn   CheckFunc
}

// Story 可独立运行的检查集合
type Story struct {
	checks []check
}

func (s *Story) Register(name string, fn CheckFunc) {
	s.checks = append(s.checks, check{name: name, fn: fn})
}

// Run 跑完所有检查 单项失败不阻断其余项
func (s *Story) Run(ctx context.Context) []Problem {
	problems := make([]Problem, 0)
	for _, c := range s.checks {
		problem, err := c.fn(ctx)
		if err != nil {
			logger.Warnf("health check [%s] skipped: %v", c.name, err)
			continue
		}
		if problem != nil {
			metrics.HealthzProblemCount(c.name)
			problems = append(problems, *problem)
		}
	}
	return problems
}

const (
	anomalySignalDepthLimit = 100
	alertEventDepthLimit    = 20000
	gseKafkaLagLimit        = 10000
	apiProbeTimeout         = 10 * time.Second

	// cacheAgeMargin 缓存刷新时间允许落后过期时间多少
	cacheAgeMargin = 30 * time.Minute
)

// NewStory 装配默认检查集
func NewStory() *Story {
	story := &Story{}
	story.Register("DetectSignalPending", CheckDetectSignalDepth)
	story.Register("TriggerSignalPending", CheckAnomalySignalDepth)
	story.Register("AlertPollerDelay", CheckAlertEventDepth)
	story.Register("Kafka1000Delay", CheckGseKafkaLag)
	story.Register("CMDBCacheCronError", cacheAgeCheck("cmdb", "CMDBCacheCronError", time.Duration(config.CmdbCacheTimeout)*time.Second))
	story.Register("StrategyCacheCronError", cacheAgeCheck("strategy", "StrategyCacheCronError", time.Duration(config.StrategyCacheTimeout)*time.Second))
	story.Register("APIPending", CheckApiProbe)
	story.Register("FtaActionSignalPending", CheckFtaActionDepth)
	return story
}

func queueDepth(queueKey string) (int64, error) {
	rds := redis.GetInstance()
	depth, err := rds.Client.LLen(rds.Ctx(), queueKey).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "llen [%s] failed", queueKey)
	}
	return depth, nil
}

// CheckDetectSignalDepth 检测信号积压与策略规模挂钩
func CheckDetectSignalDepth(_ context.Context) (*Problem, error) {
	depth, err := queueDepth(key.DataSignalKey.Key(nil))
	if err != nil {
		return nil, err
	}
	limit := int64(10 * len(strategy.GetCache().All()))
	if limit > 0 && depth > limit {
		return &Problem{
			Check:    "DetectSignalPending",
			Message:  fmt.Sprintf("检测信号队列积压%d条 超过策略数10倍(%d)", depth, limit),
			Solution: "扩容告警后台或检查detect进程",
		}, nil
	}
	return nil, nil
}

func CheckAnomalySignalDepth(_ context.Context) (*Problem, error) {
	depth, err := queueDepth(key.AnomalySignalKey.Key(nil))
	if err != nil {
		return nil, err
	}
	if depth > anomalySignalDepthLimit {
		return &Problem{
			Check:    "TriggerSignalPending",
			Message:  fmt.Sprintf("异常信号队列积压%d条", depth),
			Solution: "重启告警后台",
		}, nil
	}
	return nil, nil
}

// CheckAlertEventDepth trigger到alert的事件队列积压
func CheckAlertEventDepth(_ context.Context) (*Problem, error) {
	depth, err := queueDepth(key.TriggerEventListKey.Key(nil))
	if err != nil {
		return nil, err
	}
	if depth > alertEventDepthLimit {
		return &Problem{
			Check:    "AlertPollerDelay",
			Message:  fmt.Sprintf("告警事件队列积压%d条", depth),
			Solution: "重启alert进程",
		}, nil
	}
	return nil, nil
}

// CheckGseKafkaLag gse基础事件消费组的kafka落后量
func CheckGseKafkaLag(_ context.Context) (*Problem, error) {
	lag, err := kafka.GroupLag(&kafka.Options{
		Topic:            cluster.TopicOf(config.GseBaseAlarmDataId),
		GroupPrefix:      config.StorageKafkaGroupPrefix,
		DataId:           config.GseBaseAlarmDataId,
		Cluster:          config.ClusterName,
		BootstrapServers: config.StorageKafkaHost,
		Username:         config.StorageKafkaUsername,
		Password:         config.StorageKafkaPassword,
	})
	if err != nil {
		return nil, err
	}
	if lag > gseKafkaLagLimit {
		return &Problem{
			Check:    "Kafka1000Delay",
			Message:  fmt.Sprintf("gse基础事件消费落后%d条", lag),
			Solution: "检查事件源流量或扩容access进程",
		}, nil
	}
	return nil, nil
}

func cacheAgeCheck(cacheType, checkName string, timeout time.Duration) CheckFunc {
	return func(_ context.Context) (*Problem, error) {
		rds := redis.GetInstance()
		spec := key.CacheRefreshTimeKey
		raw, err := rds.HGet(spec.Key(nil), spec.Field(key.P{"cache_type": cacheType}))
		if err != nil {
			if errors.Is(err, goRedis.Nil) {
				// 进程刚启动还没刷过 不算问题
				return nil, nil
			}
			return nil, err
		}
		age := time.Since(time.Unix(cast.ToInt64(raw), 0))
		allowed := timeout - cacheAgeMargin
		if allowed > 0 && age > allowed {
			return &Problem{
				Check:    checkName,
				Message:  fmt.Sprintf("%s缓存已%s未刷新", cacheType, age.Truncate(time.Second)),
				Solution: "检查周期任务日志",
			}, nil
		}
		return nil, nil
	}
}

// CheckApiProbe 探测策略注册中心响应时长
func CheckApiProbe(ctx context.Context) (*Problem, error) {
	client := &http.Client{Timeout: apiProbeTimeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, config.StrategyRegistryUrl, nil)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := client.Do(req)
	cost := time.Since(start)
	if err != nil || cost >= apiProbeTimeout {
		return &Problem{
			Check:    "APIPending",
			Message:  fmt.Sprintf("API探测耗时%s 错误: %v", cost.Truncate(time.Millisecond), err),
			Solution: "扩容API进程",
		}, nil
	}
	resp.Body.Close()
	return nil, nil
}

// CheckFtaActionDepth 动作执行队列积压 按action_type逐个检查
func CheckFtaActionDepth(_ context.Context) (*Problem, error) {
	rds := redis.GetInstance()
	pattern := key.FtaActionListKey.Key(key.P{"action_type": "*"})
	queueKeys, err := rds.Client.Keys(rds.Ctx(), pattern).Result()
	if err != nil {
		return nil, errors.Wrap(err, "scan fta action queues failed")
	}
	for _, queueKey := range queueKeys {
		depth, err := queueDepth(queueKey)
		if err != nil {
			return nil, err
		}
		if depth > config.FtaActionQueueCap {
			return &Problem{
				Check:    "FtaActionSignalPending",
				Message:  fmt.Sprintf("动作队列[%s]积压%d条", queueKey, depth),
				Solution: "扩容fta_action进程",
			}, nil
		}
	}
	return nil, nil
}
