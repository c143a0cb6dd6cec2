// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package elasticsearch

import (
	"bytes"
	"context"
	"io"
	"time"

	es5 "github.com/elastic/go-elasticsearch/v5"
	es6 "github.com/elastic/go-elasticsearch/v6"
	es7 "github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/cipher"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
)

type Elasticsearch struct {
	version string
	client  any
}

var esInstance *Elasticsearch

// GetInstance 按配置构造单例客户端
func GetInstance() (*Elasticsearch, error) {
	if esInstance != nil {
		return esInstance, nil
	}
	client, err := NewElasticsearch(
		config.StorageEsVersion,
		config.StorageEsAddress,
		config.StorageEsUsername,
		config.StorageEsPassword,
	)
	if err != nil {
		return nil, err
	}
	esInstance = client
	return esInstance, nil
}

// SetInstance 测试场景注入client
func SetInstance(client *Elasticsearch) {
	esInstance = client
}

// NewElasticsearch 按版本构造客户端 未知版本走7
func NewElasticsearch(version string, address []string, username, password string) (*Elasticsearch, error) {
	var client any
	var err error
	password = cipher.AESDecrypt(password)
	switch version {
	case "5":
		client, err = es5.NewClient(es5.Config{Addresses: address, Username: username, Password: password})
	case "6":
		client, err = es6.NewClient(es6.Config{Addresses: address, Username: username, Password: password})
	default:
		client, err = es7.NewClient(es7.Config{Addresses: address, Username: username, Password: password})
		version = "7"
	}
	if err != nil {
		return nil, errors.Wrapf(err, "create es client of version [%s] failed", version)
	}
	return &Elasticsearch{version: version, client: client}, nil
}

func (e *Elasticsearch) client7() (*es7.Client, error) {
	client, ok := e.client.(*es7.Client)
	if !ok {
		return nil, errors.Errorf("document api requires es7 compatible client, got version [%s]", e.version)
	}
	return client, nil
}

// IndexDocument 按id写入文档
func (e *Elasticsearch) IndexDocument(ctx context.Context, index, docId string, doc any) error {
	client, err := e.client7()
	if err != nil {
		return err
	}
	body, err := jsonx.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "marshal document failed")
	}
	req := esapi.IndexRequest{
		Index:      index,
		DocumentID: docId,
		Body:       bytes.NewReader(body),
		Refresh:    "false",
	}
	res, err := req.Do(ctx, client)
	if err != nil {
		return errors.Wrapf(err, "index document [%s] failed", docId)
	}
	defer res.Body.Close()
	if res.IsError() {
		return errors.Errorf("index document [%s] failed, status: %s", docId, res.Status())
	}
	return nil
}

// GetDocument 按id读取 _source, 不存在返回nil
func (e *Elasticsearch) GetDocument(ctx context.Context, index, docId string) ([]byte, error) {
	client, err := e.client7()
	if err != nil {
		return nil, err
	}
	req := esapi.GetRequest{Index: index, DocumentID: docId}
	res, err := req.Do(ctx, client)
	if err != nil {
		return nil, errors.Wrapf(err, "get document [%s] failed", docId)
	}
	defer res.Body.Close()
	if res.StatusCode == 404 {
		return nil, nil
	}
	if res.IsError() {
		return nil, errors.Errorf("get document [%s] failed, status: %s", docId, res.Status())
	}
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Source jsonx.RawMessage `json:"_source"`
	}
	if err = jsonx.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	return envelope.Source, nil
}

// Search 执行查询并返回命中的 _source 列表
func (e *Elasticsearch) Search(ctx context.Context, index string, query map[string]any, timeout time.Duration) ([][]byte, error) {
	client, err := e.client7()
	if err != nil {
		return nil, err
	}
	body, err := jsonx.Marshal(query)
	if err != nil {
		return nil, errors.Wrap(err, "marshal query failed")
	}
	res, err := client.Search(
		client.Search.WithContext(ctx),
		client.Search.WithIndex(index),
		client.Search.WithBody(bytes.NewReader(body)),
		client.Search.WithTimeout(timeout),
	)
	if err != nil {
		return nil, errors.Wrap(err, "search failed")
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, errors.Errorf("search failed, status: %s", res.Status())
	}

	var envelope struct {
		Hits struct {
			Hits []struct {
				Source jsonx.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err = jsonx.Decode(res.Body, &envelope); err != nil {
		return nil, err
	}
	sources := make([][]byte, 0, len(envelope.Hits.Hits))
	for _, hit := range envelope.Hits.Hits {
		sources = append(sources, hit.Source)
	}
	return sources, nil
}
