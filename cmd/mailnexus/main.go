package main

import "github.com/pysugar/m365-mail-nexus/internal/cli"

func main() {
	cli.Execute()
}
