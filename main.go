package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/animus/plateocr/api"
	"github.com/animus/plateocr/cmd"
)

func main() {
	if err := cmd.NewCLI().ExecuteContext(context.Background()); err != nil {
		if api.IsStatusError(err) {
			slog.Error("animus_api_error", "error", err)
			os.Exit(2)
		}
		slog.Error("job_failed", "error", err)
		os.Exit(1)
	}
}
