// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/exp/slices"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
)

var (
	FilePath     = "./bab.yaml"
	EnvKeyPrefix = "bab"

	LoggerEnabledStdout        bool
	LoggerLevel                string
	LoggerStdoutPath           string
	LoggerStdoutFileMaxSize    int
	LoggerStdoutFileMaxAge     int
	LoggerStdoutFileMaxBackups int

	StorageRedisMode               string
	StorageRedisSentinelMasterName string
	StorageRedisSentinelAddress    []string
	StorageRedisSentinelPassword   string
	StorageRedisStandaloneHost     string
	StorageRedisStandalonePort     int
	StorageRedisStandalonePassword string
	StorageRedisDatabase           int
	StorageRedisDialTimeout        int
	StorageRedisReadTimeout        int
	StorageRedisKeyPrefix          string

	StorageEsVersion      string
	StorageEsAddress      []string
	StorageEsUsername     string
	StorageEsPassword     string
	StorageEsAlertIndex   string
	StorageEsQueryTimeout int

	StorageKafkaHost        []string
	StorageKafkaUsername    string
	StorageKafkaPassword    string
	StorageKafkaGroupPrefix string

	StorageConsulAddress string
	StorageConsulSrvName string
	StorageConsulTag     []string

	HttpGinMode      string
	HttpListenHost   string
	HttpListenPort   int
	HttpEnabledPprof bool

	ClusterName string
)

func initVariables() {
	// LoggerEnabledStdout 是否开启日志文件输出
	LoggerEnabledStdout = GetValue("log.enableStdout", true)
	// LoggerLevel 日志等级
	LoggerLevel = GetValue("log.level", "info")
	// LoggerStdoutPath 日志文件输出路径
	LoggerStdoutPath = GetValue("log.stdoutPath", "./bab.log")
	// LoggerStdoutFileMaxSize 日志文件最大分裂大小
	LoggerStdoutFileMaxSize = GetValue("log.stdoutFileMaxSize", 200)
	// LoggerStdoutFileMaxAge 日志文件最大存活时间
	LoggerStdoutFileMaxAge = GetValue("log.stdoutFileMaxAge", 1)
	// LoggerStdoutFileMaxBackups 日志文件保存最大数量
	LoggerStdoutFileMaxBackups = GetValue("log.stdoutFileMaxBackups", 5)

	/* Storage Redis 配置 */
	StorageRedisMode = GetValue("store.redis.mode", "standalone")
	StorageRedisSentinelMasterName = GetValue("store.redis.sentinel.masterName", "")
	StorageRedisSentinelAddress = GetValue("store.redis.sentinel.address", []string{"127.0.0.1"})
	StorageRedisSentinelPassword = GetValue("store.redis.sentinel.password", "")
	StorageRedisStandaloneHost = GetValue("store.redis.standalone.host", "127.0.0.1")
	StorageRedisStandalonePort = GetValue("store.redis.standalone.port", 6379)
	StorageRedisStandalonePassword = GetValue("store.redis.standalone.password", "")
	StorageRedisDatabase = GetValue("store.redis.db", 0)
	StorageRedisDialTimeout = GetValue("store.redis.dialTimeout", 10)
	StorageRedisReadTimeout = GetValue("store.redis.readTimeout", 10)
	// StorageRedisKeyPrefix 所有管道key的公共前缀
	StorageRedisKeyPrefix = GetValue("store.redis.keyPrefix", "bkmonitorv3.ee")

	/* Storage Elasticsearch 配置 */
	StorageEsVersion = GetValue("store.es.version", "7")
	StorageEsAddress = GetValue("store.es.address", []string{"http://127.0.0.1:9200"})
	StorageEsUsername = GetValue("store.es.username", "")
	StorageEsPassword = GetValue("store.es.password", "")
	StorageEsAlertIndex = GetValue("store.es.alertIndex", "bkfta_alert")
	// StorageEsQueryTimeout 查询超时 单位: ms
	StorageEsQueryTimeout = GetValue("store.es.queryTimeout", 10000)

	/* Storage Kafka 配置 */
	StorageKafkaHost = GetValue("store.kafka.host", []string{"127.0.0.1:9092"})
	StorageKafkaUsername = GetValue("store.kafka.username", "")
	StorageKafkaPassword = GetValue("store.kafka.password", "")
	StorageKafkaGroupPrefix = GetValue("store.kafka.groupPrefix", "access.event")

	/* Storage Consul 配置 */
	StorageConsulAddress = GetValue("store.consul.address", "127.0.0.1:8500")
	StorageConsulSrvName = GetValue("store.consul.srvName", "bab")
	StorageConsulTag = GetValue("store.consul.tag", []string{"bab"})

	HttpGinMode = GetValue("service.http.mode", "release")
	HttpListenHost = GetValue("service.http.listen", "127.0.0.1")
	HttpListenPort = GetValue("service.http.port", 10215)
	HttpEnabledPprof = GetValue("service.http.enablePprof", true)

	// ClusterName 非默认集群的消费组与key会追加集群名
	ClusterName = GetValue("cluster.name", "")
}

var (
	keys []string
)

func GetValue[T any](key string, def T) T {
	if !slices.Contains(keys, strings.ToLower(key)) {
		return def
	}
	value := viper.Get(key)
	if value == nil {
		logger.Warnf("Null configuration item(%s) was found! Check whether it is correct", key)
		return def
	}

	if reflect.TypeOf(value).Kind() == reflect.Slice {
		valueSlice := reflect.ValueOf(value)

		// Create a new slice with the same type as the default value
		resultSlice := reflect.MakeSlice(reflect.TypeOf(def), valueSlice.Len(), valueSlice.Len())

		// Iterate through the slice and set the values
		for i := 0; i < valueSlice.Len(); i++ {
			elem := valueSlice.Index(i).Interface()

			// Check if the element type matches the default slice element type
			if reflect.TypeOf(elem).AssignableTo(reflect.TypeOf(def).Elem()) {
				resultSlice.Index(i).Set(reflect.ValueOf(elem))
			} else {
				panic(fmt.Sprintf("element of type %T is not assignable to type %T", elem, reflect.TypeOf(def).Elem()))
			}
		}

		return resultSlice.Interface().(T)
	}

	return viper.Get(key).(T)
}

func InitConfig() {
	viper.SetConfigFile(FilePath)

	if err := viper.ReadInConfig(); err != nil {
		logger.Errorf("Read config file: %s error: %s", FilePath, err)
	}
	viper.AutomaticEnv()
	viper.SetEnvPrefix(EnvKeyPrefix)
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	keys = viper.AllKeys()

	initVariables()
	initAlarmConfig()
}
