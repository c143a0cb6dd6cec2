// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package config

var (
	/* 策略缓存 */
	StrategyRegistryUrl            string
	StrategyCacheRefreshInterval   int
	StrategyCacheTimeout           int
	StrategyInvalidationChannel    string
	StrategyCacheMaxFailedRefresh  int
	StrategySnapshotLocalCacheSize int64

	/* access */
	AccessMaxRetrieveNumber int
	AccessMaxBuildEventNum  int
	AccessMaxDataSkew       int
	AccessListHardCap       int64
	AccessQosTokenPerGroup  float64
	AccessQosTokenBurst     int
	AccessRunIntervalSecond int

	/* gse事件数据源 */
	GseBaseAlarmDataId     int
	GseCustomEventDataId   int
	GseProcessReportDataId int

	/* bk.data.token */
	BkDataAesIv      string
	BkDataTokenSalt  string
	AesXKeyField     string
	SpecifyAesKey    string

	/* detect */
	DetectWorkerPoolSize  int
	DetectBatchSignalNum  int
	DetectRunInterval     int
	AiopsApiUrl           string
	AiopsRequestTimeout   int

	/* nodata */
	NoDataRunInterval int

	/* alert */
	AlertRetentionDays   int
	AlertCloseAfter      int
	AlertSeverityEscalate bool

	/* action */
	MdSupportedNoticeWays []string
	ConvergeWindowSize    int
	FtaActionQueueCap     int64
	ActionMaxRetryTimes   int
	ActionRetryInterval   int
	ActionTemplatePath    string

	/* cluster */
	ClusterLeaderTTL      int
	ClusterLeaderInterval int

	/* cmdb */
	CmdbApiUrl              string
	CmdbApiRateLimitQPS     float64
	CmdbApiRateLimitBurst   int
	CmdbApiRateLimitTimeout int
	CmdbCacheTimeout        int
)

func initAlarmConfig() {
	/* 策略缓存配置 */
	StrategyRegistryUrl = GetValue("alarm.strategy.registryUrl", "http://127.0.0.1:8000")
	// StrategyCacheRefreshInterval 全量刷新间隔 单位: s
	StrategyCacheRefreshInterval = GetValue("alarm.strategy.refreshInterval", 60)
	// StrategyCacheTimeout 缓存key过期时间 单位: s
	StrategyCacheTimeout = GetValue("alarm.strategy.cacheTimeout", 3600)
	StrategyInvalidationChannel = GetValue("alarm.strategy.invalidationChannel", "strategy.invalidate")
	// StrategyCacheMaxFailedRefresh 连续刷新失败超过该次数且缓存为空时 healthz 上报异常
	StrategyCacheMaxFailedRefresh = GetValue("alarm.strategy.maxFailedRefresh", 3)
	StrategySnapshotLocalCacheSize = GetValue("alarm.strategy.localCacheSize", int64(1<<26))

	/* access配置 */
	// AccessMaxRetrieveNumber 单次LRANGE的最大条数
	AccessMaxRetrieveNumber = GetValue("alarm.access.maxRetrieveNumber", 50000)
	// AccessMaxBuildEventNum 单轮poll最多构造的事件数
	AccessMaxBuildEventNum = GetValue("alarm.access.maxBuildEventNumber", 10000)
	// AccessMaxDataSkew 数据时间与当前时间的最大偏移 单位: s
	AccessMaxDataSkew = GetValue("alarm.access.maxDataSkew", 3600)
	// AccessListHardCap 队列硬上限 超过将删除key并记录丢弃指标
	AccessListHardCap = GetValue("alarm.access.listHardCap", int64(500000))
	// AccessQosTokenPerGroup 每(业务,策略)在令牌窗口内的准入条数
	AccessQosTokenPerGroup = GetValue("alarm.access.qos.tokenPerGroup", float64(100))
	AccessQosTokenBurst = GetValue("alarm.access.qos.tokenBurst", 200)
	AccessRunIntervalSecond = GetValue("alarm.access.runInterval", 10)

	/* gse事件数据源配置 */
	GseBaseAlarmDataId = GetValue("alarm.gse.baseAlarmDataId", 1000)
	GseCustomEventDataId = GetValue("alarm.gse.customEventDataId", 1100000)
	GseProcessReportDataId = GetValue("alarm.gse.processReportDataId", 1100008)

	/* bk.data.token配置 */
	BkDataAesIv = GetValue("alarm.token.aesIv", "bkbkbkbkbkbkbkbk")
	BkDataTokenSalt = GetValue("alarm.token.salt", "bk")
	AesXKeyField = GetValue("alarm.token.xKeyField", "bk_data_token")
	SpecifyAesKey = GetValue("alarm.token.specifyAesKey", "")

	/* detect配置 */
	// DetectWorkerPoolSize 检测协程池大小
	DetectWorkerPoolSize = GetValue("alarm.detect.workerPoolSize", 10)
	// DetectBatchSignalNum 单轮消费信号的最大数量
	DetectBatchSignalNum = GetValue("alarm.detect.batchSignalNumber", 100)
	DetectRunInterval = GetValue("alarm.detect.runInterval", 10)
	AiopsApiUrl = GetValue("alarm.detect.aiopsApiUrl", "")
	// AiopsRequestTimeout AIOPS算法服务超时 单位: s
	AiopsRequestTimeout = GetValue("alarm.detect.aiopsRequestTimeout", 10)

	/* nodata配置 */
	NoDataRunInterval = GetValue("alarm.nodata.runInterval", 60)

	/* alert配置 */
	AlertRetentionDays = GetValue("alarm.alert.retentionDays", 180)
	// AlertCloseAfter 无更新自动关闭窗口 单位: s
	AlertCloseAfter = GetValue("alarm.alert.closeAfter", 3600*24)
	// AlertSeverityEscalate 是否允许告警升级
	AlertSeverityEscalate = GetValue("alarm.alert.severityEscalate", false)

	/* action配置 */
	MdSupportedNoticeWays = GetValue("alarm.action.mdSupportedNoticeWays", []string{"wxwork-bot", "bkchat"})
	// ConvergeWindowSize 收敛窗口 单位: s
	ConvergeWindowSize = GetValue("alarm.action.convergeWindow", 60)
	FtaActionQueueCap = GetValue("alarm.action.queueCap", int64(100))
	ActionMaxRetryTimes = GetValue("alarm.action.maxRetryTimes", 1)
	// ActionRetryInterval 重试间隔 单位: s
	ActionRetryInterval = GetValue("alarm.action.retryInterval", 30)
	// ActionTemplatePath 通知模板目录 目录下缺模板时回退内置模板
	ActionTemplatePath = GetValue("alarm.action.templatePath", "./templates")

	/* cluster配置 */
	// ClusterLeaderTTL leader锁TTL 单位: s
	ClusterLeaderTTL = GetValue("alarm.cluster.leaderTTL", 60)
	ClusterLeaderInterval = GetValue("alarm.cluster.leaderInterval", 20)

	/* cmdb配置 */
	CmdbApiUrl = GetValue("alarm.cmdb.apiUrl", "http://127.0.0.1:8001")
	CmdbApiRateLimitQPS = GetValue("alarm.cmdb.rateLimit.qps", float64(100))
	CmdbApiRateLimitBurst = GetValue("alarm.cmdb.rateLimit.burst", 101)
	// CmdbApiRateLimitTimeout 等待令牌超时 单位: s
	CmdbApiRateLimitTimeout = GetValue("alarm.cmdb.rateLimit.timeout", 10)
	// CmdbCacheTimeout 拓扑缓存过期时间 单位: s
	CmdbCacheTimeout = GetValue("alarm.cmdb.cacheTimeout", 3600)

	// burst should be greater than qps
	if CmdbApiRateLimitBurst < int(CmdbApiRateLimitQPS)+1 {
		CmdbApiRateLimitBurst = int(CmdbApiRateLimitQPS) + 1
	}
}
