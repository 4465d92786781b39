package main

import (
	"github.com/stevelan1995/hrflow/pkg/cli/cmd"
)

// CLI工具入口
func main() {
	cmd.Execute()
}
