package main

import (
	"os"
	"strings"

	"arbiter/internal/daemonrun"
)

func configPathFromEnv() string {
	return strings.TrimSpace(os.Getenv("ARBITER_CONFIG"))
}

// runOptionsFromEnv reads ARBITER_LOG_LEVEL and ARBITER_NO_GATEWAY.
func runOptionsFromEnv() daemonrun.Options {
	opts := daemonrun.Options{
		LogLevel: strings.ToLower(strings.TrimSpace(os.Getenv("ARBITER_LOG_LEVEL"))),
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ARBITER_NO_GATEWAY"))) {
	case "1", "true", "yes":
		opts.NoGateway = true
	}
	return opts
}
