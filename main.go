package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"ds485d/pkg/businterface"
	"ds485d/pkg/config"
	"ds485d/pkg/controller"
	"ds485d/pkg/decoder"
	"ds485d/pkg/dispatch"
	"ds485d/pkg/pcap"
	"ds485d/pkg/reader"
	"ds485d/pkg/transport"
)

var Version = "dev"

// sniffPoll bounds each read of the passive sniffer.
const sniffPoll = 100 * time.Millisecond

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	baud := flag.Int("baud", 115200, "baud rate")
	databits := flag.Int("databits", 8, "data bits (5-8)")
	parityStr := flag.String("parity", "none", "parity: none, odd, even, mark, space")
	stopbitsInt := flag.Int("stopbits", 1, "stop bits: 1 or 2")
	dsid := flag.String("dsid", "", "DSID announced when joining (24 hex digits)")
	output := flag.String("o", "", "write a PCAP trace of bus traffic to this path")
	bigEndian := flag.Bool("bigendian", false, "write PCAP in big-endian byte order")
	pipeMode := flag.Bool("pipe", false, "create a named pipe (FIFO) for live Wireshark streaming (Unix only)")
	raw := flag.Bool("raw", false, "write bare wire bytes instead of RTAC serial packets")
	sniff := flag.Bool("sniff", false, "decode bus traffic passively without joining the ring")
	scan := flag.Bool("scan", false, "once on the ring, list the meters and their zones")
	verbose := flag.Bool("v", false, "verbose: show live bus status on stderr")
	logLevel := flag.String("loglevel", "info", "log level: debug, info, warn, error")
	showVersion := flag.Bool("version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ds485d [flags] [serial-port]\n\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println("ds485d", Version)
		return
	}
	if flag.NArg() > 1 {
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatal(err)
		}
	}
	// Flags given on the command line override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "baud":
			cfg.Serial.Baud = *baud
		case "databits":
			cfg.Serial.DataBits = *databits
		case "parity":
			cfg.Serial.Parity = *parityStr
		case "stopbits":
			cfg.Serial.StopBits = *stopbitsInt
		case "dsid":
			cfg.DSID = *dsid
		case "o":
			cfg.Trace.Output = *output
		case "bigendian":
			cfg.Trace.BigEndian = *bigEndian
		case "pipe":
			cfg.Trace.Pipe = *pipeMode
		case "loglevel":
			cfg.LogLevel = *logLevel
		}
	})
	if flag.NArg() == 1 {
		cfg.Serial.Device = flag.Arg(0)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatal(err)
	}
	if cfg.Serial.Device == "" {
		fmt.Fprintln(os.Stderr, "error: no serial port given")
		flag.Usage()
		os.Exit(1)
	}

	level, err := cfg.Level()
	if err != nil {
		log.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	mode, err := cfg.Serial.Mode()
	if err != nil {
		log.Fatal(err)
	}
	ctrlCfg, err := cfg.Controller()
	if err != nil {
		log.Fatal(err)
	}

	port, err := transport.OpenSerial(cfg.Serial.Device, mode)
	if err != nil {
		log.Fatalf("open serial port: %v", err)
	}
	defer func() { _ = port.Close() }()

	var trace *pcap.Trace
	if cfg.Trace.Output != "" {
		var closeTrace func()
		trace, closeTrace, err = openTrace(cfg.Trace, *raw, logger)
		if err != nil {
			_ = port.Close()
			log.Fatal(err)
		}
		defer closeTrace()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if trace != nil {
		go func() {
			select {
			case <-trace.Done():
				stop()
			case <-ctx.Done():
			}
		}()
	}

	status := *verbose && term.IsTerminal(int(os.Stderr.Fd())) && enableTerminalStatus()

	rd := reader.New(port, cfg.Serial.GetFrameTimeout(), logger)
	logger.Info("opened bus", "port", port, "baud", cfg.Serial.Baud,
		"frame_timeout", cfg.Serial.GetFrameTimeout(), "version", Version)

	if *sniff {
		err = runSniffer(ctx, rd, trace, status, logger)
	} else {
		err = runNode(ctx, cfg, ctrlCfg, port, rd, trace, *scan, status, logger)
	}
	if status {
		fmt.Fprintln(os.Stderr)
	}
	if trace != nil {
		c := trace.Counts()
		logger.Info("trace closed", "packets", c.Packets, "tx", c.TX, "rx", c.RX)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("bus stopped", "err", err)
		os.Exit(1)
	}
}

func openTrace(tc config.TraceConfig, raw bool, logger *slog.Logger) (*pcap.Trace, func(), error) {
	var (
		f       *os.File
		cleanup func()
		err     error
	)
	if tc.Pipe {
		f, cleanup, err = openPipe(tc.Output, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("create pipe: %w", err)
		}
	} else {
		f, err = os.Create(tc.Output)
		if err != nil {
			return nil, nil, fmt.Errorf("create output file: %w", err)
		}
		cleanup = func() { _ = f.Close() }
	}

	var byteOrder binary.ByteOrder = binary.LittleEndian
	if tc.BigEndian {
		byteOrder = binary.BigEndian
	}
	dlt := pcap.DLTRTACSer
	if raw {
		dlt = pcap.DLTUser0
	}
	pw, err := pcap.NewWriter(f, byteOrder, dlt)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("write pcap header: %w", err)
	}
	logger.Info("tracing bus traffic", "output", tc.Output, "pipe", tc.Pipe)
	return pcap.NewTrace(pw, logger), cleanup, nil
}

// runSniffer decodes traffic without ever transmitting.
func runSniffer(ctx context.Context, rd *reader.Reader, trace *pcap.Trace, status bool, logger *slog.Logger) error {
	busy, err := rd.SenseTraffic(controller.DflSenseWindow)
	if err != nil {
		return err
	}
	if !busy {
		logger.Warn("no traffic on bus", "window", controller.DflSenseWindow)
	}

	var tally decoder.Tally
	var lastStatus time.Time
	for ctx.Err() == nil {
		f, err := rd.GetFrame(sniffPoll)
		if err != nil {
			return err
		}
		if f != nil {
			now := time.Now()
			tally.Add(f)
			if trace != nil {
				trace.Trace(false, now, f)
			}
			logger.Debug(decoder.Describe(f), "dir", decoder.Classify(f))
		}
		if status && time.Since(lastStatus) >= time.Second {
			st := rd.Stats()
			fmt.Fprintf(os.Stderr, "\r%s  crc errors: %d          ", tally, st.ChecksumErrors)
			lastStatus = time.Now()
		}
	}
	logger.Info("sniffer stopped", "frames", tally.Frames)
	return ctx.Err()
}

// runNode takes part in bus arbitration until ctx is done.
func runNode(ctx context.Context, cfg *config.Config, ctrlCfg controller.Config, port transport.Port,
	rd *reader.Reader, trace *pcap.Trace, scan, status bool, logger *slog.Logger) error {
	disp := dispatch.New(logger)
	opts := []controller.Option{controller.WithLogger(logger)}
	if trace != nil {
		opts = append(opts, controller.WithTracer(trace))
	}
	ctrl := controller.New(ctrlCfg, port, rd, disp, opts...)
	proxy := businterface.New(ctrl, disp,
		businterface.WithTimeout(cfg.RequestTimeout), businterface.WithLogger(logger))

	cancelEvents := proxy.SubscribeMeterEvents(func(ev businterface.MeterEvent) {
		logger.Info("meter event", "event", businterface.FunctionName(ev.Kind), "station", ev.Meter)
	})
	defer cancelEvents()

	if scan {
		go func() {
			if err := waitReady(ctx, ctrl); err != nil {
				return
			}
			scanMeters(proxy, logger)
		}()
	}
	if status {
		go statusLine(ctx, ctrl)
	}
	return ctrl.Run(ctx)
}

func waitReady(ctx context.Context, ctrl *controller.Controller) error {
	for !ctrl.IsReady() {
		if _, err := ctrl.WaitForStateChange(ctx); err != nil {
			return err
		}
	}
	return nil
}

func scanMeters(proxy *businterface.Proxy, logger *slog.Logger) {
	meters, err := proxy.DSMeters()
	if err != nil {
		logger.Error("scan", "err", err)
		return
	}
	logger.Info("scan complete", "meters", len(meters))
	for _, m := range meters {
		fmt.Println(m)
		if id, err := proxy.DSIDOfDSMeter(m.Station); err == nil {
			fmt.Printf("  dsid:  %s\n", id)
		} else {
			logger.Warn("dsid", "station", m.Station, "err", err)
		}
		if w, err := proxy.PowerConsumption(m.Station); err == nil {
			fmt.Printf("  power: %d W\n", w)
		}
		zones, err := proxy.Zones(m.Station)
		if err != nil {
			logger.Warn("zones", "station", m.Station, "err", err)
			continue
		}
		for _, z := range zones {
			n, err := proxy.DevicesCountInZone(m.Station, z)
			if err != nil {
				logger.Warn("devices", "station", m.Station, "zone", z, "err", err)
				continue
			}
			fmt.Printf("  zone %d: %d devices\n", z, n)
		}
	}
}

func statusLine(ctx context.Context, ctrl *controller.Controller) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := ctrl.ReaderStats()
			fmt.Fprintf(os.Stderr, "\rstate: %s  station: %s  tokens: %d  frames: %d  crc errors: %d          ",
				ctrl.State(), ctrl.StationID(), ctrl.TokenCount(), st.FramesReceived, st.ChecksumErrors)
		}
	}
}
