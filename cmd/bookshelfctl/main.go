package main

import "bookshelf/cmd/bookshelfctl/commands"

func main() {
	commands.Execute()
}
