package main

import "github.com/engramhq/engram/cmd"

func main() {
	cmd.Execute()
}
