package main

import "lineaclaim/internal/cli"

func main() {
	cli.Execute()
}
