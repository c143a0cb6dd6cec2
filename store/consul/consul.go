// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package consul

import (
	"fmt"
	"sort"

	capi "github.com/hashicorp/consul/api"
	"github.com/pkg/errors"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
)

type Instance struct {
	client *capi.Client
}

var consulInstance *Instance

// GetInstance get a consul instance
func GetInstance() (*Instance, error) {
	if consulInstance != nil {
		return consulInstance, nil
	}
	cfg := capi.DefaultConfig()
	cfg.Address = config.StorageConsulAddress
	client, err := capi.NewClient(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create consul client failed")
	}
	consulInstance = &Instance{client: client}
	return consulInstance, nil
}

// RegisterService 注册本机服务实例
func (c *Instance) RegisterService(serviceId, host string, port int) error {
	return c.client.Agent().ServiceRegister(&capi.AgentServiceRegistration{
		ID:      serviceId,
		Name:    config.StorageConsulSrvName,
		Tags:    config.StorageConsulTag,
		Address: host,
		Port:    port,
	})
}

// DeregisterService 注销服务实例
func (c *Instance) DeregisterService(serviceId string) error {
	return c.client.Agent().ServiceDeregister(serviceId)
}

// ListBackendHosts 拉取告警后台主机列表 结果排序保证各节点视图一致
func (c *Instance) ListBackendHosts() ([]string, error) {
	services, _, err := c.client.Health().Service(config.StorageConsulSrvName, "", true, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "list service [%s] from consul failed", config.StorageConsulSrvName)
	}
	hosts := make([]string, 0, len(services))
	for _, entry := range services {
		hosts = append(hosts, fmt.Sprintf("%s:%d", entry.Service.Address, entry.Service.Port))
	}
	sort.Strings(hosts)
	return hosts, nil
}
