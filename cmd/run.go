// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	babHttp "github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/http"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/log"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/service"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/logger"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/utils/runtimex"
)

var runServices []string

func init() {
	runCmd.Flags().StringSliceVar(
		&runServices, "services", nil, "services to run, default all (access,detect,trigger,alert,action)",
	)
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "bk monitor alarm backend service",
	Long:  "detect/trigger/alert/action pipelines for blueking monitor",
	Run:   startService,
}

// startService 启动服务
func startService(cmd *cobra.Command, args []string) {
	defer runtimex.HandleCrash()

	config.InitConfig()
	// 初始化日志
	log.InitLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(runServices...)
	if err != nil {
		logger.Fatalf("assemble alarm backend service failed: %v", err)
	}

	go func() {
		defer runtimex.HandleCrash()
		if err := babHttp.Start(ctx); err != nil {
			logger.Errorf("http service exited: %v", err)
			stop()
		}
	}()

	if err := svc.Run(ctx); err != nil {
		logger.Fatalf("run alarm backend service failed: %v", err)
	}
}
