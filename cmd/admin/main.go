// Command admin 是运维命令行：创建管理员、查看群组与二维码、查看和订阅举报。
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(&app{}).Execute(); err != nil {
		os.Exit(1)
	}
}
