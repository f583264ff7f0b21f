package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	_ "github.com/dmwm/wmstage/backends/http"
	_ "github.com/dmwm/wmstage/backends/local"
	"github.com/dmwm/wmstage/config"
	"github.com/dmwm/wmstage/journal"
	"github.com/dmwm/wmstage/services"
)

// Prints usage info.
func usage(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "%s: usage:\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "%s [--port <port>] <config_file>\n", os.Args[0])
	flagSet.PrintDefaults()
	fmt.Fprintf(os.Stderr, "See README.md for details on config files.\n")
	os.Exit(1)
}

// sets up the default structured logger
func initLogging(debug bool) {
	logLevel := new(slog.LevelVar)
	if debug {
		logLevel.Set(slog.LevelDebug)
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(h))
}

func main() {

	var port int
	var debug bool
	flagSet := pflag.NewFlagSet("wmstage", pflag.ContinueOnError)
	flagSet.IntVarP(&port, "port", "p", 0, "port on which to listen (overrides service.port)")
	flagSet.BoolVar(&debug, "debug", false, "enable debug logging (overrides service.debug)")
	flagSet.BoolP("help", "h", false, "show help")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			usage(flagSet)
		}
		log.Fatal(err.Error())
	}
	if help, _ := flagSet.GetBool("help"); help {
		usage(flagSet)
	}

	// The only argument is the configuration filename.
	if flagSet.NArg() < 1 {
		usage(flagSet)
	}
	configFile := flagSet.Arg(0)

	// Read the configuration file.
	log.Printf("Reading configuration from '%s'...\n", configFile)
	b, err := os.ReadFile(configFile)
	if err != nil {
		log.Panicf("Couldn't read configuration data: %s\n", err.Error())
	}

	// Initialize our configuration and create the service.
	err = config.Init(b)
	if err != nil {
		log.Panicf("Couldn't initialize the configuration: %s\n", err.Error())
	}
	initLogging(debug || config.Service.Debug)
	if port == 0 {
		port = config.Service.Port
	}

	// Open the journal, creating its directory if needed.
	if config.Service.DataDirectory != "" {
		err = os.MkdirAll(config.Service.DataDirectory, 0755)
		if err == nil {
			err = journal.Init()
		}
		if err != nil {
			log.Panicf("Couldn't open the stage-out journal: %s\n", err.Error())
		}
		defer journal.Finalize()
	} else {
		slog.Info("No data_dir was given; operations will not be journaled")
	}

	service, err := services.NewStageOutService()
	if err != nil {
		log.Panicf("Couldn't create the service: %s\n", err.Error())
	}

	// Start the service in a goroutine so it doesn't block.
	go func() {
		err := service.Start(port)
		if err != nil {
			log.Println(err.Error())
		}
	}()

	// Intercept the SIGINT, SIGHUP, SIGTERM, and SIGQUIT signals, shutting down
	// the service as gracefully as possible if they are encountered.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	// Block till we receive one of the above signals.
	<-sigChan

	// Create a deadline to wait for.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Wait for connections to close until the deadline elapses.
	service.Shutdown(ctx)
	log.Println("Shutting down")
}
