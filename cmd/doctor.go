package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/datapost/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("datapost doctor")
	fmt.Printf("  OS:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:  %s\n", runtime.Version())
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("  Config:   FAIL (%v)\n", err)
		os.Exit(1)
	}
	fmt.Println("  Config:   OK")
	fmt.Printf("  SMTP:     %s:%d (TLS=%v, from %s)\n", cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUseTLS, cfg.SMTPFrom)
	fmt.Printf("  Store:    %s", cfg.StoragePath)
	if _, err := os.Stat(cfg.StoragePath); err != nil {
		fmt.Println(" (not created yet)")
	} else {
		fmt.Println(" (OK)")
	}
	fmt.Printf("  Uploads:  %s\n", cfg.UploadDir)
	fmt.Printf("  Workers:  %d\n", cfg.Workers)
	fmt.Printf("  Timeouts: script=%s fetch=%s\n", cfg.ScriptTimeout, cfg.FetchTimeout)
}
