package main

import (
	"context"
	"os"

	"github.com/Munawwar/ssr-sandbox/internal/app"
)

func main() {
	os.Exit(app.Run(context.Background(), os.Args[1:]))
}
