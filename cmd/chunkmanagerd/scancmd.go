package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skecskes/data-manager/manager"
)

func scanCmd() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "recover a chunk root and report what was found, then exit",
		Run: func(cmd *cobra.Command, args []string) {
			if dataDir == "" {
				fmt.Fprintln(os.Stderr, "scan: --data-dir is required")
				os.Exit(exitCodeUsage)
			}
			m, err := manager.New(dataDir)
			if err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(exitCodeGeneral)
			}
			defer m.Close()

			ids := m.ListChunks()
			catStats, _ := m.Stats()
			fmt.Printf("recovered %d ready chunks under %s\n", len(ids), dataDir)
			fmt.Printf("downloading=%d ready=%d pending-delete=%d\n",
				catStats.Downloading, catStats.Ready, catStats.PendingDelete)
			for _, id := range ids {
				fmt.Println(" ", id)
			}
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "chunk root directory")
	return cmd
}
