// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package action

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/cast"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/common"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/alert"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/strategy"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/metrics"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
)

// maxSignalBatch 单轮消费的动作信号上限
const maxSignalBatch = 1000

// PluginTypeNotice 策略notice配置对应的内置插件类型
const PluginTypeNotice = "notice"

// Processor 动作编排器 信号进 动作实例出
type Processor struct {
	cache    *strategy.Cache
	store    alert.DocumentStore
	renderer *Renderer
	now      func() time.Time
}

func NewProcessor(store alert.DocumentStore) *Processor {
	return &Processor{
		cache:    strategy.GetCache(),
		store:    store,
		renderer: NewRenderer(config.ActionTemplatePath),
		now:      time.Now,
	}
}

// Handle 单轮处理 返回本轮产出的全部动作实例 含被收敛跳过的
func (p *Processor) Handle(ctx context.Context) ([]*Instance, error) {
	rds := redis.GetInstance()
	rawSignals, err := rds.ListRangeAndTrim(key.ActionSignalListKey.Key(nil), maxSignalBatch)
	if err != nil {
		return nil, errors.Wrap(err, "pull action signals failed")
	}

	var instances []*Instance
	for _, raw := range rawSignals {
		var sig alert.Signal
		if err := jsonx.UnmarshalString(raw, &sig); err != nil {
			logger.Warnf("discard unparsable action signal: %v", err)
			continue
		}
		created, err := p.process(ctx, &sig)
		if err != nil {
			logger.Errorf("process action signal [%s] of alert [%d] failed: %v", sig.Signal, sig.AlertId, err)
			metrics.ActionCount(sig.Signal, common.ActionStatusFailed)
			continue
		}
		instances = append(instances, created...)
	}
	return instances, nil
}

func (p *Processor) process(ctx context.Context, sig *alert.Signal) ([]*Instance, error) {
	s, ok := p.cache.GetById(sig.StrategyId)
	if !ok {
		// 策略已删除 信号按过期处理
		logger.Infof("drop action signal of removed strategy [%d]", sig.StrategyId)
		return nil, nil
	}

	a, err := p.loadAlert(ctx, sig)
	if err != nil {
		return nil, err
	}

	var instances []*Instance
	if lo.Contains(s.Notice.SignalList, sig.Signal) {
		created, err := p.dispatch(sig, s, noticeActionConfig(s), a)
		if err != nil {
			return instances, err
		}
		instances = append(instances, created...)
	}
	for i := range s.Actions {
		ac := &s.Actions[i]
		if !lo.Contains(ac.SignalList, sig.Signal) {
			continue
		}
		created, err := p.dispatch(sig, s, ac, a)
		if err != nil {
			return instances, err
		}
		instances = append(instances, created...)
	}
	return instances, nil
}

// loadAlert 告警文档可能还没刷出来 回退用信号字段构造轻量副本
func (p *Processor) loadAlert(ctx context.Context, sig *alert.Signal) (*alert.Alert, error) {
	source, err := p.store.GetDocument(ctx, config.StorageEsAlertIndex, cast.ToString(sig.AlertId))
	if err != nil {
		return nil, errors.Wrapf(err, "load alert [%d] failed", sig.AlertId)
	}
	if source == nil {
		return &alert.Alert{
			Id:         sig.AlertId,
			BkBizId:    sig.BkBizId,
			AlertName:  sig.AlertName,
			Severity:   sig.Severity,
			StrategyId: sig.StrategyId,
			DedupeMd5:  sig.DedupeMd5,
		}, nil
	}
	var a alert.Alert
	if err := jsonx.Unmarshal(source, &a); err != nil {
		return nil, errors.Wrapf(err, "unmarshal alert [%d] failed", sig.AlertId)
	}
	return &a, nil
}

// noticeActionConfig notice块套用动作编排流程
func noticeActionConfig(s *strategy.Strategy) *strategy.ActionConfig {
	return &strategy.ActionConfig{
		Id:             s.Notice.Id,
		ConfigId:       s.Notice.Id,
		SignalList:     s.Notice.SignalList,
		UserGroups:     s.Notice.UserGroups,
		PluginType:     PluginTypeNotice,
		TemplateDetail: s.Notice.Config,
		Options: strategy.ActionOptions{
			Converge: s.Notice.Options.ConvergeConfig,
		},
	}
}

func (p *Processor) dispatch(sig *alert.Signal, s *strategy.Strategy, ac *strategy.ActionConfig, a *alert.Alert) ([]*Instance, error) {
	detail, err := ParseTemplateDetail(ac.TemplateDetail)
	if err != nil {
		return nil, errors.Wrapf(err, "parse template detail of action [%d] failed", ac.Id)
	}

	ways := ResolveNoticeWays(s.Notice.SignalNoticeWays[sig.Signal], detail.NoticeWay)
	if len(ways) == 0 {
		// 非通知类插件没有notice_way 仍需产出一个实例
		ways = []string{""}
	}

	instances := make([]*Instance, 0, len(ways))
	for _, way := range ways {
		renderCtx := &Context{
			Alerts:      []*alert.Alert{a},
			Action:      ac,
			Business:    a.BkBizId,
			UserContent: detail.Content,
			NoticeWay:   way,
		}
		var rendered Rendered
		if way != "" {
			rendered, err = p.renderer.Render(sig.Signal, renderCtx)
			if err != nil {
				return instances, err
			}
		}

		instance := &Instance{
			Id:          uuid.New().String(),
			Signal:      sig.Signal,
			StrategyId:  sig.StrategyId,
			Alerts:      []int64{a.Id},
			PluginType:  ac.PluginType,
			ConfigId:    ac.ConfigId,
			Inputs:      map[string]any{"assignee": s.Notice.Assignees},
			Rendered:    rendered,
			Status:      common.ActionStatusPending,
			ProcessedAt: p.now().Unix(),
		}

		if err := p.converge(instance, ac, s.Notice.Assignees); err != nil {
			return instances, err
		}
		instances = append(instances, instance)

		if !instance.IsPrimary {
			metrics.ActionCount(sig.Signal, common.ConvergeStatusSkipped)
			continue
		}
		if err := Enqueue(instance); err != nil {
			return instances, err
		}
	}
	return instances, nil
}

// converge 语音通知豁免 其余动作按收敛身份走滚动窗口
func (p *Processor) converge(instance *Instance, ac *strategy.ActionConfig, users []string) error {
	if instance.Rendered.NoticeWay == NoticeWayVoice {
		instance.IsPrimary = true
		instance.ConvergeStatus = common.ConvergeStatusExecuted
		return nil
	}

	hash := ConvergeHash(instance.PluginType, users, instance.Rendered.Title, instance.Rendered.Content, ac.ConfigId)
	isPrimary, err := CheckConverge(hash, instance.Id, p.now())
	if err != nil {
		return err
	}
	instance.ConvergeId = hash
	instance.IsPrimary = isPrimary
	if isPrimary {
		instance.ConvergeStatus = common.ConvergeStatusExecuted
	} else {
		instance.ConvergeStatus = common.ConvergeStatusSkipped
	}
	return nil
}

// HandleExecuteFailure Executor回报失败时的重试编排
// 重试次数用尽置FAILED并广播execute_failed信号
func (p *Processor) HandleExecuteFailure(instance *Instance, errorMessage string) error {
	s, ok := p.cache.GetById(instance.StrategyId)
	maxRetry := config.ActionMaxRetryTimes
	retryInterval := config.ActionRetryInterval
	if ok {
		for i := range s.Actions {
			ac := &s.Actions[i]
			if ac.ConfigId != instance.ConfigId {
				continue
			}
			if ac.Options.RetryConfig.IsEnabled {
				maxRetry = ac.Options.RetryConfig.MaxRetryTimes
				if ac.Options.RetryConfig.RetryInterval > 0 {
					retryInterval = ac.Options.RetryConfig.RetryInterval
				}
			}
			break
		}
	}

	instance.ErrorMessage = errorMessage
	if instance.RetryTimes < maxRetry {
		instance.RetryTimes++
		instance.Status = common.ActionStatusPending
		instance.ExecuteAfter = p.now().Unix() + int64(retryInterval)
		return Enqueue(instance)
	}

	instance.Status = common.ActionStatusFailed
	metrics.ActionCount(instance.Signal, common.ActionStatusFailed)

	payload, err := jsonx.MarshalString(&alert.Signal{
		Signal:     common.ActionSignalExecuteFailed,
		AlertId:    lo.FirstOrEmpty(instance.Alerts),
		StrategyId: instance.StrategyId,
	})
	if err != nil {
		return errors.Wrap(err, "marshal execute_failed signal failed")
	}
	rds := redis.GetInstance()
	signalKey := key.ActionSignalListKey.Key(nil)
	if err := rds.LPush(signalKey, payload); err != nil {
		return errors.Wrap(err, "push execute_failed signal failed")
	}
	rds.Client.Expire(rds.Ctx(), signalKey, key.ActionSignalListKey.TTL())
	return nil
}
