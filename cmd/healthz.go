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
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/config"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/internal/healthz"
	"github.com/TencentBlueKing/bkmonitor-datalink/pkg/alarm-backend/log"
)

func init() {
	rootCmd.AddCommand(healthzCmd)
}

var healthzCmd = &cobra.Command{
	Use:   "healthz",
	Short: "run self-monitor checks once",
	Long:  "run the alarm backend self-monitor story and print problems",
	Run:   runHealthz,
}

func runHealthz(cmd *cobra.Command, args []string) {
	config.InitConfig()
	log.InitLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	problems := healthz.NewStory().Run(ctx)
	if len(problems) == 0 {
		fmt.Println("healthz: ok")
		return
	}
	for _, p := range problems {
		fmt.Printf("[%s] %s (solution: %s)\n", p.Check, p.Message, p.Solution)
	}
	os.Exit(1)
}
