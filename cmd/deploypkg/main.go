package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jgivc/deploypkg/internal/app"
)

func main() {
	cfgFileName := flag.String("c", "config.yml", "Path to config file")
	build := flag.String("build", "", "Write one package and exit, target:version")
	from := flag.String("from", "", "Version installed on the target, builds a fix package")
	out := flag.String("o", "", "Output file of -build, defaults to <target>-<version>.dp")
	flag.Parse()

	app := app.New(*cfgFileName)

	if *build != "" {
		os.Exit(runBuild(app, *build, *from, *out))
	}

	go app.Start()

	c := make(chan os.Signal, 1)
	defer close(c)
	done := make(chan struct{})

	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	go func() {
		defer close(done)

		for sig := range c {
			switch sig {
			case syscall.SIGUSR1:
				go app.Index()
			case syscall.SIGTERM, syscall.SIGINT:
				fmt.Println("Received termination signal. Shutting down...")

				return
			}
		}
	}()

	<-done
	app.Stop()
	time.Sleep(2 * time.Second)
	fmt.Println("done")
}

func runBuild(a *app.App, ref, from, out string) int {
	target, version, ok := strings.Cut(ref, ":")
	if !ok || target == "" || version == "" {
		fmt.Fprintln(os.Stderr, "-build expects target:version")

		return 1
	}

	if out == "" {
		out = target + "-" + version + ".dp"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Build(ctx, target, version, from, out); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot build package: %s\n", err)

		return 1
	}

	fmt.Println(out)

	return 0
}
