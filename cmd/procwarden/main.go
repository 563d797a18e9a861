/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package main is the entry point of procwarden.
// main 包是 procwarden 的入口点。
//
// procwarden runs browser-automation sessions and makes sure every process a
// session spawned is gone when the session ends:
// procwarden 运行浏览器自动化会话，并保证会话结束时其派生的所有进程都被清理：
// - Attributes new processes to batches by snapshot diff / 通过快照差分将新进程归属到批次
// - Drives sessions through a pausable state machine / 通过可暂停的状态机驱动会话
// - Terminates stalled sessions / 终止停滞的会话
// - Exposes a local control API with metrics / 提供带指标的本地控制接口
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/leonyoah/procwarden/internal/config"
)

// Version information, set at build time
// 版本信息，在构建时设置
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// rootCmd is the root command of the procwarden CLI
// rootCmd 是 procwarden CLI 的根命令
var rootCmd = &cobra.Command{
	Use:   "procwarden",
	Short: "procwarden - process-tree supervision for browser automation sessions",
	Long: `procwarden runs browser automation sessions and cleans up every process they spawn.
procwarden 运行浏览器自动化会话，并清理会话派生的所有进程。

It provides:
它提供：
- Batch attribution of spawned process trees / 派生进程树的批次归属
- Pausable, terminable sessions with stall detection / 支持暂停、终止与停滞检测的会话
- A fallback sweep of leftover browser processes / 残留浏览器进程的兜底清理
- A local HTTP control API / 本地 HTTP 控制接口`,
	SilenceUsage: true,
}

// serveCmd runs the control API until interrupted
// serveCmd 运行控制接口直到被中断
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control API / 运行控制接口",
	RunE:  runServe,
}

// runCmd runs one playlist session in the foreground
// runCmd 在前台运行一个播放列表会话
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a playlist session / 运行播放列表会话",
	RunE:  runPlaylist,
}

// sweepCmd kills leftover family processes owned by this process
// sweepCmd 清理属于本进程的残留资源族进程
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Sweep leftover family processes / 清理残留的资源族进程",
	Long: `Sweep kills every process of a configured family that descends from this process.
A fresh procwarden process tracks no batches, so orphans of an earlier run that
were reparented to init are not reached; use "serve" and POST /api/v1/sweep for those.
Sweep 会结束所有属于本进程后代的已配置资源族进程。`,
	RunE: runSweep,
}

// configCmd groups configuration helpers
// configCmd 汇总配置相关的辅助命令
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers / 配置辅助命令",
}

// configShowCmd prints the effective configuration
// configShowCmd 打印生效的配置
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration / 打印生效的配置",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := cfg.ToYAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

// versionCmd shows version information
// versionCmd 显示版本信息
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information / 打印版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "procwarden\n")
		fmt.Fprintf(w, "  Version:    %s\n", Version)
		fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
		fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
		fmt.Fprintf(w, "  Go Version: %s\n", runtime.Version())
		fmt.Fprintf(w, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

// configFile is the path to the configuration file
// configFile 是配置文件的路径
var configFile string

// run command flags / run 命令参数
var (
	runURLs       []string
	runDwell      time.Duration
	runIterations int
	runLoop       bool
)

func init() {
	// Add flags to root command
	// 向根命令添加标志
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: "+config.DefaultConfigPath+")")

	runCmd.Flags().StringArrayVarP(&runURLs, "url", "u", nil, "page to visit, repeatable / 要访问的页面，可重复")
	runCmd.Flags().DurationVar(&runDwell, "dwell", 30*time.Second, "time spent on each page / 每个页面的停留时间")
	runCmd.Flags().IntVar(&runIterations, "iterations", 0, "page visits before stopping, 0 means one pass / 停止前的访问次数，0 表示一轮")
	runCmd.Flags().BoolVar(&runLoop, "loop", false, "loop over the pages until interrupted / 循环访问直到被中断")
	_ = runCmd.MarkFlagRequired("url")

	// Add subcommands
	// 添加子命令
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(serveCmd, runCmd, sweepCmd, configCmd, versionCmd)
}

// loadConfig loads and validates the configuration
// loadConfig 加载并验证配置
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT, SIGTERM or SIGHUP
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	gin.SetMode(cfg.API.Mode)

	app, err := NewApp(cfg, Deps{})
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "procwarden %s serving on %s / 控制接口已启动\n", Version, cfg.API.Listen)
	serveErr := app.Serve(ctx)
	if !app.Shutdown() {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: some processes could not be cleaned / 警告：部分进程未能清理")
	}
	return serveErr
}

func runPlaylist(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := NewApp(cfg, Deps{})
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	summary, runErr := app.RunPlaylist(ctx, PlaylistRequest{
		URLs:          runURLs,
		Dwell:         runDwell,
		MaxIterations: runIterations,
		Loop:          runLoop,
	})
	cleaned := app.Shutdown()

	fmt.Fprintf(cmd.OutOrStdout(), "session %s: %s after %d iterations (%s)\n",
		summary.ID, summary.State, summary.Iterations, summary.Reason)
	if !cleaned {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: some processes could not be cleaned / 警告：部分进程未能清理")
	}
	return runErr
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Store.Enabled = false
	app, err := NewApp(cfg, Deps{})
	if err != nil {
		return err
	}
	ok := app.Sweep()
	app.Shutdown()
	if !ok {
		return errors.New("sweep could not kill every process")
	}
	fmt.Fprintln(cmd.OutOrStdout(), "sweep complete / 清理完成")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
