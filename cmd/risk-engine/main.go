// risk-engine оценивает события правилами риска и публикует алерты.
package main

import (
	"flag"
	"os"

	"escrowflow/internal/svc"
)

var configFile = flag.String("f", "etc/escrowflow.yaml", "the config file")

func main() {
	flag.Parse()
	os.Exit(svc.Run(svc.ServiceRiskEngine, *configFile, svc.RunRiskEngine))
}
