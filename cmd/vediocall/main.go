package main

import (
	"github.com/harshpratap3205/VedioCall/internal/cli"
	"github.com/harshpratap3205/VedioCall/internal/logging"
)

func main() {
	logging.Init()
	cli.Execute()
}
