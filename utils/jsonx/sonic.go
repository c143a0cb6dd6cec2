// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

//go:build jsonsonic

package jsonx

import (
	"encoding/json"
	"io"

	"github.com/bytedance/sonic"
)

type RawMessage = json.RawMessage

func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

func MarshalString(v any) (string, error) {
	return sonic.MarshalString(v)
}

func UnmarshalString(data string, v any) error {
	return sonic.UnmarshalString(data, v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return json.MarshalIndent(v, prefix, indent)
}

func Decode(body io.Reader, v any) error {
	return sonic.ConfigDefault.NewDecoder(body).Decode(v)
}

func Encode(buf io.Writer, v any) error {
	return sonic.ConfigDefault.NewEncoder(buf).Encode(v)
}
