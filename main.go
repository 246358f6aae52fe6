package main

import "relay-client/internal/cli"

func main() {
	cli.Execute()
}
