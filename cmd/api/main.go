package main

import "github.com/stitchflow/stitchflow/services/api/cli"

func main() {
	cli.Execute()
}
