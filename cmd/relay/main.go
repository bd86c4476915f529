// Command relay is a terminal client for the completion gateway and conversation store.
package main

import (
	"fmt"
	"os"

	"github.com/klejdi94/relay/cmd/relay/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
