// cmd_serve.go - Server-Start
// Hauptfunktionen: RunServer
package cmd

import (
	"errors"
	"net"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/animus/plateocr/predict"
	"github.com/animus/plateocr/server"
)

// RunServer - Laedt das Modell und startet den Inferenz-Server
func RunServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	m, err := predict.Load(args[0])
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Host.Host)
	if err != nil {
		return err
	}

	err = server.New(m, args[0], cfg.AllowedOrigins).Serve(cmd.Context(), ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}
