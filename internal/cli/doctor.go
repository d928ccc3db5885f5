package cli

import (
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"foreman/internal/detect"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that foreman's dependencies are in place",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ok := func(b bool) string {
		if b {
			return colorGreen + "ok" + colorReset
		}
		return colorRed + "missing" + colorReset
	}

	root, rootErr := repoRoot()
	fmt.Printf("git repository:  %s", ok(rootErr == nil))
	if rootErr == nil {
		fmt.Printf("  %s%s%s", colorDim, root, colorReset)
	}
	fmt.Println()

	ticketBin := "tk"
	if rootErr == nil {
		if e, err := openEnv(); err == nil {
			ticketBin = e.cfg.TicketBin
		}
	}
	_, tkErr := exec.LookPath(ticketBin)
	fmt.Printf("ticket CLI (%s): %s\n", ticketBin, ok(tkErr == nil))

	agents := detect.Scan()
	fmt.Printf("agent CLIs:      %s\n", ok(len(agents) > 0))
	for _, a := range agents {
		if a.Version != "" {
			fmt.Printf("  %s %s%s (%s)%s\n", a.Name, colorDim, a.Version, a.Path, colorReset)
		} else {
			fmt.Printf("  %s %s(%s)%s\n", a.Name, colorDim, a.Path, colorReset)
		}
	}

	if rootErr != nil || tkErr != nil || len(agents) == 0 {
		return fmt.Errorf("environment is not ready")
	}
	return nil
}
