// Command firmware runs the motor bank controller: it drives the relay
// expander and reads the current sensor on the I2C bus, and takes commands
// from the serial port and, when configured, an MQTT broker.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/itohio/vendmotor/pkg/config"
	"github.com/itohio/vendmotor/pkg/hw"
	"github.com/itohio/vendmotor/pkg/transport"
	"github.com/itohio/vendmotor/pkg/vending"
)

func main() {
	var (
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		portFlag   = flag.String("p", "", "Serial port override (e.g., /dev/ttyUSB0)")
		mockFlag   = flag.Bool("mock", false, "Use a simulated motor bank instead of I2C hardware")
		logFlag    = flag.String("log", "", "Log file (default stderr)")
		saveFlag   = flag.String("save-config", "", "Write the effective configuration to this file and exit")
	)
	flag.Parse()

	if *logFlag != "" {
		f, err := os.OpenFile(*logFlag, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		log.Printf("[mqtt] broker credentials not set, MQTT link disabled")
		cfg.MQTT.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *saveFlag != "" {
		if err := cfg.Save(*saveFlag); err != nil {
			log.Fatalf("Failed to save configuration: %v", err)
		}
		return
	}

	if err := run(cfg, *mockFlag); err != nil {
		log.Fatalf("Controller failed: %v", err)
	}
	log.Printf("Controller stopped")
}

func run(cfg *config.Config, mock bool) error {
	bank, closer, err := openBank(cfg, mock)
	if err != nil {
		return err
	}
	defer closer.Close()

	serial, err := transport.OpenSerial(cfg.Serial)
	if err != nil {
		return err
	}

	var mq *transport.MQTT
	if cfg.MQTT.Enabled {
		mq = transport.NewMQTT(cfg.MQTT)
	}

	m := vending.New(cfg, bank, serial, mq)
	defer func() {
		if err := m.Close(); err != nil {
			log.Printf("Error closing links: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Controller on %s at %d baud", cfg.Serial.Port, cfg.Serial.BaudRate)
	return m.Run(ctx)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openBank(cfg *config.Config, mock bool) (hw.Bank, io.Closer, error) {
	if mock {
		log.Printf("Using simulated motor bank")
		return hw.NewMock(&cfg.Mock), nopCloser{}, nil
	}
	return hw.Open(cfg.Hardware)
}
