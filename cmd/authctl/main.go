package main

import "auth0session-go/internal/cli"

func main() {
	cli.Execute()
}
