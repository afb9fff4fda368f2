// Command server runs a dbopscore bridge node: it consumes tool requests
// off a device-specific RabbitMQ queue, executes them against MySQL, and
// publishes responses back to the caller's reply queue.
package main

import (
	"context"
	"log"

	"github.com/lordbasex/dbopscore/server"
)

func main() {
	config := server.LoadConfigFromFlags()
	factory := server.NewServerFactory(config)

	ctx := context.Background()
	if err := factory.StartServer(ctx); err != nil {
		log.Fatal("server failed: ", err)
	}
}
