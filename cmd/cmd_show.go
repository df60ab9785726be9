// cmd_show.go - Show Command und Modell-Info Anzeige
// Hauptfunktionen: ShowHandler, showInfo
package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/animus/plateocr/api"
	"github.com/animus/plateocr/modelfile"
)

// ShowHandler - Zeigt die Konfiguration einer Modelldatei oder des Servers
func ShowHandler(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if len(args) == 0 {
		resp, err := api.ServerClient(cfg).Show(cmd.Context())
		if err != nil {
			return err
		}
		return showInfo(resp, cmd.OutOrStdout())
	}

	m, stats, err := modelfile.Load(args[0])
	if err != nil {
		return err
	}
	c := m.Config
	width, height := c.Size()
	return showInfo(&api.ShowResponse{
		Path:        args[0],
		Schema:      c.Schema,
		ImageWidth:  width,
		ImageHeight: height,
		HiddenSize:  c.HiddenSize,
		MaxLabelLen: c.MaxLabelLen,
		Vocab:       c.Vocab,
		PixelMean:   stats.Mean,
		PixelStd:    stats.Std,
	}, cmd.OutOrStdout())
}

// showInfo - Gibt die Modell-Info als eingerueckte Tabelle aus
func showInfo(resp *api.ShowResponse, w io.Writer) error {
	fmt.Fprintln(w, "  Model")

	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk([][]string{
		{"", "path", resp.Path},
		{"", "schema", resp.Schema},
		{"", "input", fmt.Sprintf("%dx%d", resp.ImageWidth, resp.ImageHeight)},
		{"", "hidden size", strconv.Itoa(resp.HiddenSize)},
		{"", "max label length", strconv.Itoa(resp.MaxLabelLen)},
		{"", "vocabulary", fmt.Sprintf("%d (%s)", len(resp.Vocab), strings.Join(resp.Vocab, ""))},
		{"", "pixel mean", strconv.FormatFloat(resp.PixelMean, 'f', 4, 64)},
		{"", "pixel std", strconv.FormatFloat(resp.PixelStd, 'f', 4, 64)},
	})
	table.Render()
	fmt.Fprintln(w)
	return nil
}
