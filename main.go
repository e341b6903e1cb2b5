package main

import "toolvm/internal/cli"

func main() {
	cli.Execute()
}
