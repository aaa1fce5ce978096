package cli

import (
	"github.com/pterm/pterm"

	"github.com/cloudlens/cost-ingest-go/pkg/version"
)

// displayBanner prints the interactive-run banner with version information.
func displayBanner() {
	pterm.DefaultHeader.
		WithMargin(2).
		Println("cost-ingest " + version.FormatVersion())
}
