package main

import "github.com/golemfactory/golem/cmd"

func main() {
	cmd.Execute()
}
