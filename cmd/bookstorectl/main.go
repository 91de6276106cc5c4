package main

import "bookstore/cmd/bookstorectl/commands"

func main() {
	commands.Execute()
}
