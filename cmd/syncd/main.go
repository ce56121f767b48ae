package main

import "github.com/stitchflow/stitchflow/services/syncd/cli"

func main() {
	cli.Execute()
}
