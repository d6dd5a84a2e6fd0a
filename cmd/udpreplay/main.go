// udpreplay 回放抓包数据集中的 UDP 负载，或把收到的 UDP 数据报采集成数据集。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sofiworker/udpreplay/gerr"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "udpreplay: %v\n", err)
		stop()
		os.Exit(exitCode(err))
	}
}

// exitCode 配置错误返回 2，其余错误返回 1，用户中断视为正常退出
func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	case gerr.KindOf(err) == gerr.KindConfig:
		return 2
	default:
		return 1
	}
}
