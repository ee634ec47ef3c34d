// storage-writer проецирует события в журнал и таблицу offers
// и обслуживает API чтения.
package main

import (
	"flag"
	"os"

	"escrowflow/internal/svc"
)

var configFile = flag.String("f", "etc/escrowflow.yaml", "the config file")

func main() {
	flag.Parse()
	os.Exit(svc.Run(svc.ServiceStorageWriter, *configFile, svc.RunStorageWriter))
}
