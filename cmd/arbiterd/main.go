// Command arbiterd runs the scoring daemon without the operator CLI, for
// service managers that expect a dedicated binary.
package main

import (
	"context"
	"errors"
	"log"

	"arbiter/internal/config"
	"arbiter/internal/daemonrun"
)

func main() {
	cfg, path, _, err := config.Load(configPathFromEnv())
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := daemonrun.Run(context.Background(), cfg, runOptionsFromEnv()); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("arbiterd (%s): %v", path, err)
	}
}
