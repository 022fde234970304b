package main

import (
	"os"

	log "github.com/sirupsen/logrus"
)

func main() {
	app := newApp()
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}
