// Tencent is pleased to support the open source community by making
// 蓝鲸智云 - 监控平台 (BlueKing - Monitor) available.
// Copyright (C) 2022 THL A29 Limited, a Tencent company. All rights reserved.
// Licensed under the MIT License (the "License"); you may not use this file except in compliance with the License.
// You may obtain a copy of the License at http://opensource.org/licenses/MIT
// Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
// an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
// specific language governing permissions and limitations under the License.

package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options 日志配置项
type Options struct {
	Filename   string
	MaxSize    int
	MaxAge     int
	MaxBackups int
	Level      string
	Stdout     bool
}

var (
	mut sync.Mutex

	sugared     *zap.SugaredLogger
	atomicLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func init() {
	// 默认输出到stderr 业务侧通过SetOptions重新初始化
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), atomicLevel)
	sugared = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetOptions 重新初始化全局logger
func SetOptions(opt Options) {
	mut.Lock()
	defer mut.Unlock()

	atomicLevel.SetLevel(parseLevel(opt.Level))

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	var syncers []zapcore.WriteSyncer
	if opt.Filename != "" {
		syncers = append(syncers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   opt.Filename,
			MaxSize:    opt.MaxSize,
			MaxAge:     opt.MaxAge,
			MaxBackups: opt.MaxBackups,
		}))
	}
	if opt.Stdout || len(syncers) == 0 {
		syncers = append(syncers, zapcore.AddSync(os.Stdout))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(syncers...), atomicLevel)
	sugared = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

// SetLevel 动态调整日志级别
func SetLevel(level string) {
	atomicLevel.SetLevel(parseLevel(level))
}

func Debug(args ...any)                 { sugared.Debug(args...) }
func Debugf(format string, args ...any) { sugared.Debugf(format, args...) }
func Info(args ...any)                  { sugared.Info(args...) }
func Infof(format string, args ...any)  { sugared.Infof(format, args...) }
func Warn(args ...any)                  { sugared.Warn(args...) }
func Warnf(format string, args ...any)  { sugared.Warnf(format, args...) }
func Error(args ...any)                 { sugared.Error(args...) }
func Errorf(format string, args ...any) { sugared.Errorf(format, args...) }
func Fatal(args ...any)                 { sugared.Fatal(args...) }
func Fatalf(format string, args ...any) { sugared.Fatalf(format, args...) }
