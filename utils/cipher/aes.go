// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

// Package cipher 配置口令解密与bk.data.token编解码
package cipher

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
)

const (
	AESPrefix = "aes_str:::"
)

func aesKey() [32]byte {
	key := config.SpecifyAesKey
	if key == "" {
		key = config.AesXKeyField
	}
	return sha256.Sum256([]byte(key))
}

func pkcs7Pad(data []byte) []byte {
	padding := aes.BlockSize - len(data)%aes.BlockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, errors.New("invalid padded data length")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(data) {
		return nil, errors.New("invalid padding")
	}
	return data[:len(data)-padding], nil
}

// AESEncrypt AES256加密 随机iv前置到密文
func AESEncrypt(plain string) (string, error) {
	key := aesKey()
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	padded := pkcs7Pad([]byte(plain))
	encrypted := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(encrypted, padded)
	return AESPrefix + base64.StdEncoding.EncodeToString(append(iv, encrypted...)), nil
}

// AESDecrypt AES256解密
func AESDecrypt(encryptedPwd string) string {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("decrypt password failed")
		}
	}()
	// 非加密串返回原密码
	if !strings.HasPrefix(encryptedPwd, AESPrefix) {
		return encryptedPwd
	}

	// 截取实际加密数据段
	realEncrypted := encryptedPwd[len(AESPrefix):]
	base64Decoded, err := base64.StdEncoding.DecodeString(realEncrypted)
	if err != nil {
		logger.Errorf("base64 decode password error, %s", err)
		return ""
	}
	iv := base64Decoded[:aes.BlockSize]
	key := aesKey()
	block, err := aes.NewCipher(key[:])
	if err != nil {
		logger.Errorf("new cipher error, %s", err)
		return ""
	}
	decrypter := cipher.NewCBCDecrypter(block, iv)
	decrypter.CryptBlocks(base64Decoded, base64Decoded)
	part, err := pkcs7Unpad(base64Decoded[aes.BlockSize:])
	if err != nil {
		logger.Errorf("unpad password error, %s", err)
		return ""
	}
	return string(part)
}

// BkDataToken apm应用接入令牌的载荷
type BkDataToken struct {
	MetricDataId int
	TraceDataId  int
	LogDataId    int
	BkBizId      int
	AppName      string
}

// tokenIv token编解码使用固定iv 保证同一载荷编码结果稳定
func tokenIv() ([]byte, error) {
	iv := []byte(config.BkDataAesIv)
	if len(iv) != aes.BlockSize {
		return nil, errors.Errorf("token iv length must be %d", aes.BlockSize)
	}
	return iv, nil
}

// Encode 字段以salt拼接后AES-CBC加密 base64输出
func (t *BkDataToken) Encode() (string, error) {
	iv, err := tokenIv()
	if err != nil {
		return "", err
	}
	key := aesKey()
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", err
	}

	salt := config.BkDataTokenSalt
	plain := strings.Join([]string{
		cast.ToString(t.MetricDataId),
		cast.ToString(t.TraceDataId),
		cast.ToString(t.LogDataId),
		cast.ToString(t.BkBizId),
		t.AppName,
	}, salt)

	padded := pkcs7Pad([]byte(plain))
	encrypted := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(encrypted, padded)
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

// DecodeBkDataToken Encode的逆操作
func DecodeBkDataToken(token string) (*BkDataToken, error) {
	iv, err := tokenIv()
	if err != nil {
		return nil, err
	}
	key := aesKey()
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	encrypted, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, errors.Wrap(err, "base64 decode token failed")
	}
	if len(encrypted) == 0 || len(encrypted)%aes.BlockSize != 0 {
		return nil, errors.New("invalid token length")
	}
	decrypted := make([]byte, len(encrypted))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(decrypted, encrypted)
	plain, err := pkcs7Unpad(decrypted)
	if err != nil {
		return nil, errors.Wrap(err, "unpad token failed")
	}

	parts := strings.Split(string(plain), config.BkDataTokenSalt)
	if len(parts) != 5 {
		return nil, errors.Errorf("token expects 5 fields, got %d", len(parts))
	}
	return &BkDataToken{
		MetricDataId: cast.ToInt(parts[0]),
		TraceDataId:  cast.ToInt(parts[1]),
		LogDataId:    cast.ToInt(parts[2]),
		BkBizId:      cast.ToInt(parts[3]),
		AppName:      parts[4],
	}, nil
}
