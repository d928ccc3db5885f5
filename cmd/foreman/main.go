package main

import "foreman/internal/cli"

func main() {
	cli.Execute()
}
