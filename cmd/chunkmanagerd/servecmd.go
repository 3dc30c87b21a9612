package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"

	"github.com/skecskes/data-manager/manager"
)

func serveCmd() *cobra.Command {
	var (
		dataDir      string
		listenAddr   string
		concurrency  int
		rateLimit    int64
		watch        bool
		commandsFile string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "recover a chunk root and serve the debug status API until signalled",
		Run: func(cmd *cobra.Command, args []string) {
			if dataDir == "" {
				fmt.Fprintln(os.Stderr, "serve: --data-dir is required")
				os.Exit(exitCodeUsage)
			}

			opts := []manager.Option{manager.WithConcurrency(concurrency)}
			if rateLimit > 0 {
				opts = append(opts, manager.WithRateLimit(rateLimit, 1<<16))
			}
			m, err := manager.New(dataDir, opts...)
			if err != nil {
				fmt.Fprintln(os.Stderr, "serve:", err)
				os.Exit(exitCodeGeneral)
			}
			defer m.Close()

			srv := &http.Server{Addr: listenAddr, Handler: debugRouter(m)}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					fmt.Fprintln(os.Stderr, "serve: debug API:", err)
				}
			}()
			fmt.Println("chunkmanagerd: serving debug API on", listenAddr, "over", dataDir)

			var stopWatch chan struct{}
			if watch {
				stopWatch = make(chan struct{})
				go runWatchBars(m, stopWatch)
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			for s := range sig {
				if s != syscall.SIGHUP {
					break
				}
				if commandsFile == "" {
					fmt.Fprintln(os.Stderr, "serve: received SIGHUP but no --commands-file was given, ignoring")
					continue
				}
				fmt.Println("chunkmanagerd: reloading commands from", commandsFile)
				if err := applyCommandsFile(m, commandsFile); err != nil {
					fmt.Fprintln(os.Stderr, "serve:", err)
				}
			}
			fmt.Println("chunkmanagerd: shutting down")
			if stopWatch != nil {
				close(stopWatch)
			}
			srv.Close()
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "chunk root directory")
	cmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:9980", "debug API listen address")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "download worker pool size")
	cmd.Flags().Int64Var(&rateLimit, "rate-limit", 0, "aggregate download bandwidth cap in bytes/sec, 0 for unlimited")
	cmd.Flags().BoolVar(&watch, "watch", false, "render a live progress bar of ready chunk counts to the terminal")
	cmd.Flags().StringVar(&commandsFile, "commands-file", "", "newline-delimited JSON file of download/delete commands, reloaded on SIGHUP")
	return cmd
}

// runWatchBars renders an indeterminate progress display of the catalogue's
// ready-chunk count, purely an operator convenience for --watch mode; it
// has no bearing on convergence itself.
func runWatchBars(m *manager.Manager, stop chan struct{}) {
	p := mpb.New(mpb.WithWidth(40))
	bar := p.AddBar(0, mpb.PrependDecorators(decor.Name("ready chunks")))
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			p.Wait()
			return
		case <-ticker.C:
			n := int64(len(m.ListChunks()))
			bar.SetTotal(n+1, false)
			bar.SetCurrent(n)
		}
	}
}
