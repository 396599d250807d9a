package main

import "github.com/nextlevelbuilder/datapost/cmd"

func main() {
	cmd.Execute()
}
