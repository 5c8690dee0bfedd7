package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "growloop"}

	root.AddCommand(serveCMD(), migrateCMD(), runCMD(), initAccountCMD())
	_ = root.Execute()
}
