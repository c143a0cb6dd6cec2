// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

// Package http 运维面接口: 指标/健康检查/动态日志级别
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/healthz"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
)

const RouterPrefix = "/bab"

// NewHTTPService 装配gin路由
func NewHTTPService() *gin.Engine {
	gin.SetMode(config.HttpGinMode)
	svr := gin.New()
	svr.Use(gin.Recovery())

	svr.GET(RouterPrefix+"/metrics", gin.WrapH(promhttp.Handler()))
	svr.GET(RouterPrefix+"/healthz", Healthz)
	svr.POST(RouterPrefix+"/log/level", SetLogLevel)

	if config.HttpEnabledPprof {
		pprof.Register(svr)
	}
	return svr
}

// Healthz 跑一轮自检故事集 有问题返回503
func Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	problems := healthz.NewStory().Run(ctx)
	status := http.StatusOK
	if len(problems) > 0 {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"result":   len(problems) == 0,
		"problems": problems,
	})
}

type logLevelParams struct {
	Level string `json:"level" binding:"required"`
}

// SetLogLevel 动态设置日志级别
func SetLogLevel(c *gin.Context) {
	var params logLevelParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"result": false, "message": err.Error()})
		return
	}
	logger.SetLevel(params.Level)
	c.JSON(http.StatusOK, gin.H{"result": true, "message": "ok"})
}

// Start 启动http服务 阻塞到ctx取消后优雅退出
func Start(ctx context.Context) error {
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.HttpListenHost, config.HttpListenPort),
		Handler: NewHTTPService(),
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Infof("http service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
