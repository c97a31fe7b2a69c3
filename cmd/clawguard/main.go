package main

import "github.com/clawguard/clawguard/cmd/clawguard/cmd"

func main() {
	cmd.Execute()
}
