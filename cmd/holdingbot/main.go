package main

import (
	"log"

	"github.com/m3rciful/holdingbot/core/cmd"
	"github.com/m3rciful/holdingbot/internal/app"
)

func main() {
	if err := cmd.Run(cmd.Options{
		LoadConfig: app.LoadConfig,
		Bootstrap:  app.Bootstrap,
	}); err != nil {
		log.Fatal(err)
	}
}
