// listener подписывается на логи эскроу-программы и публикует
// нормализованные события в escrow.events.v1.
package main

import (
	"flag"
	"os"

	"escrowflow/internal/svc"
)

var configFile = flag.String("f", "etc/escrowflow.yaml", "the config file")

func main() {
	flag.Parse()
	os.Exit(svc.Run(svc.ServiceListener, *configFile, svc.RunListener))
}
