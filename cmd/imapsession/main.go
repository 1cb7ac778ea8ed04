package main

import "imapsession/internal/cli"

func main() {
	cli.Execute()
}
