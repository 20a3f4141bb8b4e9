package main

import "github.com/accordvoice/accord/internal/bootstrap"

func main() {
	bootstrap.Run()
}
