package main

import (
	"github.com/kalkanci/guvenlikkamerasi/cmd"
	"github.com/kalkanci/guvenlikkamerasi/internal/logging"
)

func main() {
	// Initialize logging
	logging.Init()
	cmd.Execute()
}
