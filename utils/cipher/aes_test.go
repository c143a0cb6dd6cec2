// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package cipher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
)

func setupCipherConfig() {
	config.SpecifyAesKey = "81be7fc6-5476-4934-9417-6d4d593728db"
	config.BkDataAesIv = "bkbkbkbkbkbkbkbk"
	config.BkDataTokenSalt = "bk"
	config.AesXKeyField = "bk_data_token"
}

func TestAESRoundtrip(t *testing.T) {
	setupCipherConfig()

	for _, plain := range []string{"", "5gYTZqvd7Z7s", "zRD6AqbG5XSBKzz0Flxf", "中文口令"} {
		encrypted, err := AESEncrypt(plain)
		require.NoError(t, err)
		assert.Equal(t, plain, AESDecrypt(encrypted))
	}

	// 非加密串原样返回
	assert.Equal(t, "abcde", AESDecrypt("abcde"))
	assert.Equal(t, "", AESDecrypt("aes_str:::not-base64!!"))
}

func TestBkDataTokenRoundtrip(t *testing.T) {
	setupCipherConfig()

	cases := []BkDataToken{
		{MetricDataId: 1500001, TraceDataId: 1500002, LogDataId: 1500003, BkBizId: 2, AppName: "demo-app"},
		{MetricDataId: 0, TraceDataId: 0, LogDataId: 0, BkBizId: 0, AppName: ""},
		{MetricDataId: 1100000, TraceDataId: 1100008, LogDataId: 1000, BkBizId: 99999, AppName: "apm_test"},
	}
	for _, tok := range cases {
		encoded, err := tok.Encode()
		require.NoError(t, err)

		decoded, err := DecodeBkDataToken(encoded)
		require.NoError(t, err)
		assert.Equal(t, &tok, decoded)

		// 固定iv 同一载荷编码结果稳定
		again, err := tok.Encode()
		require.NoError(t, err)
		assert.Equal(t, encoded, again)
	}
}

func TestDecodeBkDataTokenInvalid(t *testing.T) {
	setupCipherConfig()

	_, err := DecodeBkDataToken("not-base64!!")
	assert.Error(t, err)

	_, err = DecodeBkDataToken("")
	assert.Error(t, err)
}
