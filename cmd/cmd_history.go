// cmd_history.go - Anzeige des lokalen Telemetrie-Journals
// Hauptfunktionen: HistoryHandler
package cmd

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// HistoryHandler - Listet lokale Runs oder zeigt Metriken bzw. Events eines Runs
func HistoryHandler(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}

	events, err := cmd.Flags().GetBool("events")
	if err != nil {
		return err
	}

	ledger, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer ledger.Close()

	ctx := cmd.Context()
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	var data [][]string

	switch {
	case len(args) == 0:
		runs, err := ledger.Runs(ctx)
		if err != nil {
			return err
		}
		for _, r := range runs {
			data = append(data, []string{r.RunID, r.Kind, r.Status, r.CreatedAt.Local().Format(time.DateTime)})
		}
		table.SetHeader([]string{"RUN ID", "KIND", "STATUS", "CREATED"})
	case events:
		records, err := ledger.Events(ctx, args[0])
		if err != nil {
			return err
		}
		for _, e := range records {
			meta := ""
			if len(e.Metadata) > 0 {
				b, err := json.Marshal(e.Metadata)
				if err != nil {
					return err
				}
				meta = string(b)
			}
			data = append(data, []string{e.OccurredAt.Local().Format(time.TimeOnly), e.Level, e.Message, meta})
		}
		table.SetHeader([]string{"TIME", "LEVEL", "MESSAGE", "METADATA"})
		table.SetAutoWrapText(false)
	default:
		records, err := ledger.Metrics(ctx, args[0])
		if err != nil {
			return err
		}
		for _, m := range records {
			data = append(data, []string{strconv.FormatInt(m.Step, 10), m.Name, strconv.FormatFloat(m.Value, 'g', 6, 64)})
		}
		table.SetHeader([]string{"STEP", "NAME", "VALUE"})
	}

	renderPlain(table, data)
	return nil
}
