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
	"github.com/samber/lo"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
)

// NoticeWayVoice 语音通知不参与收敛 漏一通电话比重复一通代价高
const NoticeWayVoice = "voice"

// TemplateDetail 动作配置里的模板覆盖项
type TemplateDetail struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	NoticeWay []string `json:"notice_way"`
}

// ParseTemplateDetail 解析template_detail 空配置返回零值
func ParseTemplateDetail(raw jsonx.RawMessage) (TemplateDetail, error) {
	var detail TemplateDetail
	if len(raw) == 0 {
		return detail, nil
	}
	err := jsonx.Unmarshal(raw, &detail)
	return detail, err
}

// ResolveNoticeWays 合并用户组的signal->way映射与动作级覆盖
// 覆盖项优先 整体按首次出现顺序去重
func ResolveNoticeWays(groupWays []string, overrideWays []string) []string {
	merged := make([]string, 0, len(groupWays)+len(overrideWays))
	merged = append(merged, overrideWays...)
	merged = append(merged, groupWays...)
	return lo.Uniq(merged)
}

// MsgTypeOf notice_way支持markdown时渲染markdown内容 否则与way同名
func MsgTypeOf(noticeWay string) string {
	if lo.Contains(config.MdSupportedNoticeWays, noticeWay) {
		return "markdown"
	}
	return noticeWay
}
