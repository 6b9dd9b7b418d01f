package main

import "markethub/server"

func main() {
	server.Main()
}
