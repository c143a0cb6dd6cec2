// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package hashx

import (
	"crypto/md5"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// DimensionsMd5 维度集合的md5 按key排序后拼接 同维度不同序得到同一hash
// access/detect/nodata三处的维度hash都从这里出 保证互认
func DimensionsMd5(dims map[string]any) string {
	keys := make([]string, 0, len(dims))
	for k := range dims {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, cast.ToString(dims[k])))
	}
	return Md5String(strings.Join(parts, "&"))
}

// Md5String 字符串md5的16进制表示
func Md5String(s string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(s)))
}
