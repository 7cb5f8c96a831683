package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/lerobot-remote/pkg/journal"
)

type EventsCommand struct {
	Limit int    `short:"n" long:"limit" default:"50" description:"Number of events to show"`
	Kind  string `long:"kind" description:"Only show one kind: emergency_stop, clamp, client, bus or bus_error"`
}

var kindColors = map[string]string{
	"emergency_stop": "196",
	"clamp":          "208",
	"bus_error":      "9",
	"client":         "14",
	"bus":            "10",
}

func (c *EventsCommand) Execute(args []string) error {
	rt, err := newRuntime(false)
	if err != nil {
		return err
	}
	defer rt.Close()
	if rt.journal == nil {
		return errors.New("the event journal is disabled in settings ([journal] path)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	events, err := rt.journal.List(ctx, c.Limit, c.Kind)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println(dimStyle.Render("No events recorded."))
		return nil
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("Last %d events from %s", len(events), rt.cfg.Journal.Path)))
	fmt.Println(renderEvents(events))
	return nil
}

func renderEvents(events []journal.Event) string {
	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		meta := ""
		if len(ev.Meta) > 0 {
			if b, err := json.Marshal(ev.Meta); err == nil {
				meta = string(b)
			}
		}
		rows = append(rows, []string{
			ev.OccurredAt.Local().Format("2006-01-02 15:04:05.000"),
			ev.Kind,
			ev.Message,
			meta,
		})
	}

	cell := lipgloss.NewStyle().Padding(0, 1)
	head := cell.Bold(true).Foreground(lipgloss.Color("12"))
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Time", "Kind", "Message", "Meta").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return head
			}
			if col == 1 && row >= 0 && row < len(rows) {
				if color, ok := kindColors[rows[row][1]]; ok {
					return cell.Foreground(lipgloss.Color(color))
				}
			}
			return cell
		}).
		Render()
}
