// Command server runs the concentration analysis HTTP service.
package main

import (
	"fmt"
	"os"

	"concentra/internal/app"
)

func main() {
	application, err := app.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	if err := application.Run(); err != nil {
		application.Logger.Error("server exited with error", "error", err.Error())
		os.Exit(1)
	}
}
