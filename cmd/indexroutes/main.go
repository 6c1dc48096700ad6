/*
This command serves the endpoints configured in the endpoint index of the
index service.

For the list of command line options, run:

	indexroutes -help

For details, please see the documentation of the root indexroutes package.
*/
package main

import (
	log "github.com/sirupsen/logrus"

	"github.com/zalando/indexroutes"
	"github.com/zalando/indexroutes/config"
)

func main() {
	cfg := config.NewConfig()
	if err := cfg.Parse(); err != nil {
		log.Fatalf("Error processing config: %s", err)
	}

	log.SetLevel(cfg.ApplicationLogLevel)

	if err := indexroutes.Run(cfg.ToOptions()); err != nil {
		log.Fatal(err)
	}
}
