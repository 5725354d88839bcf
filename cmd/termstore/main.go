package main

import "github.com/treeverse/termstore/cmd/termstore/cmd"

func main() {
	cmd.Execute()
}
