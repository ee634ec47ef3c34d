// notifier логирует события и алерты и транслирует их в /ws/stream.
package main

import (
	"flag"
	"os"

	"escrowflow/internal/svc"
)

var configFile = flag.String("f", "etc/escrowflow.yaml", "the config file")

func main() {
	flag.Parse()
	os.Exit(svc.Run(svc.ServiceNotifier, *configFile, svc.RunNotifier))
}
