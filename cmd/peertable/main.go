package main

import "github.com/peertable/peertable/internal/logging"

func main() {
	logging.Init()
	Execute()
}
