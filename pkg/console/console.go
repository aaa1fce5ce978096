// Package console wraps terminal output for the driving CLI.
package console

import (
	"fmt"

	"github.com/pterm/pterm"
)

// Console prints operator-facing output. Structured logging goes to the zap
// logger; this is only for interactive runs.
type Console struct{}

// NewConsole creates a Console.
func NewConsole() *Console {
	return &Console{}
}

func (c *Console) Printf(format string, a ...interface{}) {
	fmt.Printf(format, a...)
}

func (c *Console) Info(format string, a ...interface{}) {
	pterm.Info.Printfln(format, a...)
}

func (c *Console) Warning(format string, a ...interface{}) {
	pterm.Warning.Printfln(format, a...)
}

func (c *Console) Error(format string, a ...interface{}) {
	pterm.Error.Printfln(format, a...)
}

func (c *Console) Success(format string, a ...interface{}) {
	pterm.Success.Printfln(format, a...)
}

// Table renders rows with a header.
func (c *Console) Table(header []string, rows [][]string) {
	data := pterm.TableData{header}
	data = append(data, rows...)
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		for _, row := range rows {
			fmt.Println(row)
		}
	}
}

// StatusHandle is a live progress indicator.
type StatusHandle struct {
	spinner *pterm.SpinnerPrinter
}

// Status starts a spinner with the given message.
func (c *Console) Status(message string) *StatusHandle {
	spinner, _ := pterm.DefaultSpinner.Start(message)
	return &StatusHandle{spinner: spinner}
}

func (h *StatusHandle) Update(message string) {
	if h.spinner != nil {
		h.spinner.UpdateText(message)
	}
}

func (h *StatusHandle) Stop() {
	if h.spinner != nil {
		_ = h.spinner.Stop()
	}
}
