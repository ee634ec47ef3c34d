// pipeline запускает все стадии в одном процессе.
// С kafka.driver=memory работает без брокера (локальная разработка).
package main

import (
	"flag"
	"os"

	"escrowflow/internal/svc"
)

var configFile = flag.String("f", "etc/escrowflow.yaml", "the config file")

func main() {
	flag.Parse()
	os.Exit(svc.Run("pipeline", *configFile, svc.RunAll))
}
