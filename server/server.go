package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Clouded-Sabre/Tun-TCP/config"
	"github.com/Clouded-Sabre/Tun-TCP/filter"
	"github.com/Clouded-Sabre/Tun-TCP/lib"
)

func main() {
	configPath := flag.String("config", "config.yaml", "endpoint configuration file")
	appPath := flag.String("app", "app.yaml", "application settings file")
	tunName := flag.String("tun", "", "TUN device name, overrides the application settings")
	address := flag.String("addr", "", "CIDR to assign to the TUN device, overrides the application settings")
	debug := flag.Bool("debug", false, "log every frame")
	flag.Parse()

	endpointConfig, connConfig, err := config.LoadConfig(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("%s not found, using defaults", *configPath)
		endpointConfig, connConfig, err = lib.DefaultEndpointConfig(), lib.DefaultConnectionConfig(), nil
	}
	if err != nil {
		log.Fatalln("Configuration file error:", err)
	}

	config.AppConfig, err = config.ReadConfig(*appPath)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("%s not found, using defaults", *appPath)
		config.AppConfig, err = config.DefaultAppSettings(), nil
	}
	if err != nil {
		log.Fatalln("Application settings error:", err)
	}

	if *tunName != "" {
		config.AppConfig.TunName = *tunName
	}
	if *address != "" {
		config.AppConfig.Address = *address
	}
	if *debug {
		endpointConfig.Debug = true
	}

	if config.FitFrameSize(config.AppConfig, endpointConfig) {
		log.Printf("Frame buffers grown to the link MTU of %d bytes", endpointConfig.MTU)
	}

	transport, rscore, err := openTransport(config.AppConfig, endpointConfig.LocalIP)
	if err != nil {
		log.Fatalln("Failed to open packet transport:", err)
	}

	var rstFilter filter.Filter
	if endpointConfig.FilterRst {
		rstFilter, err = filter.NewFilter(config.AppConfig.FilterAnchor)
		if err != nil {
			log.Fatalln("Error creating filter object:", err)
		}
	}

	endpoint, err := lib.NewEndpoint(endpointConfig, connConfig, transport, lib.NewPacketCodec(), rstFilter, rscore)
	if err != nil {
		transport.Close()
		log.Fatalln("Error creating TCP endpoint:", err)
	}

	// Listen for interrupt signal (Ctrl+C)
	ctx, cancel := context.WithCancel(context.Background())
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalChan
		log.Println("Received SIGINT (Ctrl+C). Shutting down...")
		cancel()
		endpoint.Close()
	}()

	log.Printf("TCP endpoint serving on %s", config.AppConfig.TunName)
	err = endpoint.Run(ctx)
	switch {
	case lib.IsFatal(err):
		endpoint.Close()
		log.Fatalln("Packet transport failed:", err)
	case err != nil && !errors.Is(err, context.Canceled):
		endpoint.Close()
		log.Fatalln("Endpoint stopped:", err)
	}
	log.Println("Endpoint stopped.")
}
