package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"educards-match/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}
