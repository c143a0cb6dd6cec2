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
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	goRedis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
)

// ConvergeHash 收敛身份 同身份的动作在窗口内只发一次
// 收件人集合参与哈希前先排序 与下发顺序无关
func ConvergeHash(pluginType string, users []string, title, content string, configId int) string {
	sorted := make([]string, len(users))
	copy(sorted, users)
	sort.Strings(sorted)

	parts := []string{pluginType, strings.Join(sorted, ","), title, content, cast.ToString(configId)}
	return fmt.Sprintf("%x", xxhash.Sum64String(strings.Join(parts, "|")))
}

// CheckConverge 滚动窗口判定 窗口内首个实例为primary
// 窗口外的旧成员顺手清掉 避免zset无界增长
func CheckConverge(convergeHash, actionId string, now time.Time) (bool, error) {
	rds := redis.GetInstance()
	convergeKey := key.ConvergeKey.Key(key.P{"converge_hash": convergeHash})
	windowStart := now.Unix() - int64(config.ConvergeWindowSize)

	pipe := rds.Client.TxPipeline()
	pipe.ZRemRangeByScore(rds.Ctx(), convergeKey, "-inf", cast.ToString(windowStart))
	cardCmd := pipe.ZCard(rds.Ctx(), convergeKey)
	pipe.ZAdd(rds.Ctx(), convergeKey, &goRedis.Z{Score: float64(now.Unix()), Member: actionId})
	pipe.Expire(rds.Ctx(), convergeKey, key.ConvergeKey.TTL())
	if _, err := pipe.Exec(rds.Ctx()); err != nil {
		return false, errors.Wrapf(err, "converge check [%s] failed", convergeHash)
	}
	return cardCmd.Val() == 0, nil
}
