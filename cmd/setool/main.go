// Command setool drives secure elements through the smartcard service: it lists the
// readers and exchanges APDUs with an applet on a basic or logical channel.
package main

import (
	"log"

	"github.com/gregLibert/smartcard-service/cmd/setool/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		log.Fatalf("setool: %v", err)
	}
}
