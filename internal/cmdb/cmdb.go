// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

// Package cmdb 主机与拓扑查询 带进程内TTL缓存和限流
package cmdb

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/key"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/store/redis"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/jsonx"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
)

// Host cmdb主机信息 IgnoreMonitoring/IsShielding由运维在cmdb上标记
type Host struct {
	BkHostId         int      `json:"bk_host_id"`
	BkBizId          int      `json:"bk_biz_id"`
	BkCloudId        int      `json:"bk_cloud_id"`
	Ip               string   `json:"bk_host_innerip"`
	BkOsType         string   `json:"bk_os_type"`
	TopoNodeIds      []string `json:"topo_node_ids"`
	IgnoreMonitoring bool     `json:"ignore_monitoring"`
	IsShielding      bool     `json:"is_shielding"`
}

// HostKey 主机标识 ip|cloud_id
func (h *Host) HostKey() string {
	return fmt.Sprintf("%s|%d", h.Ip, h.BkCloudId)
}

// Client cmdb查询客户端
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	cache   *gocache.Cache
}

var (
	clientInstance *Client
	clientOnce     sync.Once
)

// GetClient cmdb客户端单例
func GetClient() *Client {
	clientOnce.Do(func() {
		clientInstance = &Client{
			http:    &http.Client{Timeout: time.Duration(config.CmdbApiRateLimitTimeout) * time.Second},
			limiter: rate.NewLimiter(rate.Limit(config.CmdbApiRateLimitQPS), config.CmdbApiRateLimitBurst),
			cache:   gocache.New(time.Duration(config.CmdbCacheTimeout)*time.Second, 10*time.Minute),
		}
	})
	return clientInstance
}

type apiResponse struct {
	Result  bool             `json:"result"`
	Code    int              `json:"code"`
	Message string           `json:"message"`
	Data    jsonx.RawMessage `json:"data"`
}

func (c *Client) request(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "cmdb rate limiter wait failed")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, config.CmdbApiUrl+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "request cmdb [%s] failed", path)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("cmdb [%s] returned status [%d]", path, resp.StatusCode)
	}
	var body apiResponse
	if err = jsonx.Decode(resp.Body, &body); err != nil {
		return errors.Wrapf(err, "decode cmdb [%s] response failed", path)
	}
	if !body.Result {
		return errors.Errorf("cmdb [%s] error: code=%d message=%s", path, body.Code, body.Message)
	}
	return jsonx.Unmarshal(body.Data, out)
}

// ListBizHosts 业务下全部主机 结果缓存一个周期
func (c *Client) ListBizHosts(ctx context.Context, bkBizId int) ([]Host, error) {
	cacheKey := fmt.Sprintf("hosts.%d", bkBizId)
	if cached, ok := c.cache.Get(cacheKey); ok {
		return cached.([]Host), nil
	}
	var hosts []Host
	if err := c.request(ctx, fmt.Sprintf("/api/v3/hosts/biz/%d", bkBizId), &hosts); err != nil {
		return nil, err
	}
	c.cache.SetDefault(cacheKey, hosts)
	c.recordRefreshTime()
	return hosts, nil
}

// GetHost 按(ip, cloud_id)取单个主机 不存在返回nil
func (c *Client) GetHost(ctx context.Context, ip string, bkCloudId, bkBizId int) (*Host, error) {
	hosts, err := c.ListBizHosts(ctx, bkBizId)
	if err != nil {
		return nil, err
	}
	for i := range hosts {
		if hosts[i].Ip == ip && hosts[i].BkCloudId == bkCloudId {
			return &hosts[i], nil
		}
	}
	return nil, nil
}

// ListTopoHosts 拓扑节点下的主机 nodata枚举期望维度用
func (c *Client) ListTopoHosts(ctx context.Context, bkBizId int, topoNodeIds []string) ([]Host, error) {
	hosts, err := c.ListBizHosts(ctx, bkBizId)
	if err != nil {
		return nil, err
	}
	if len(topoNodeIds) == 0 {
		return hosts, nil
	}
	wanted := make(map[string]bool, len(topoNodeIds))
	for _, id := range topoNodeIds {
		wanted[id] = true
	}
	var matched []Host
	for _, host := range hosts {
		for _, nodeId := range host.TopoNodeIds {
			if wanted[nodeId] {
				matched = append(matched, host)
				break
			}
		}
	}
	return matched, nil
}

// SetHostsForTest 单测注入主机列表
func (c *Client) SetHostsForTest(bkBizId int, hosts []Host) {
	c.cache.Set(fmt.Sprintf("hosts.%d", bkBizId), hosts, gocache.NoExpiration)
}

func (c *Client) recordRefreshTime() {
	rds := redis.GetInstance()
	spec := key.CacheRefreshTimeKey
	if err := rds.HSet(spec.Key(nil), spec.Field(key.P{"cache_type": "cmdb"}), fmt.Sprintf("%d", time.Now().Unix())); err != nil {
		logger.Warnf("record cmdb cache refresh time failed: %s", err)
	}
}
