package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/theckman/yacspin"

	"github.com/axisdr/sdrlab/config"
	"github.com/axisdr/sdrlab/generichttp/sdr"
	"github.com/axisdr/sdrlab/radio"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "sdrctl.yml"
	k              *koanf.Koanf
)

func setupconfig() {
	var err error
	k, err = config.New(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
}

func loadconfig() config.Config {
	c, err := config.Unmarshal(k)
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `sdrctl drives the RF DMA engine of a Zynq SDR front end: it streams an NBFM
test tone through the transmit (MM2S) channel, captures 8-bit IQ from the
receive (S2MM) channel and exposes both over HTTP.

Usage:
	sdrctl <command>

Commands:
	run
	tx [buffers]
	rx
	status
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `sdrctl is amenable to configuration via its .yml file.  For a primer on YAML, see
https://yaml.org/start.html

Every key may be overridden from the environment with the SDR_ prefix, using a
double underscore between levels, e.g. SDR_DEVICE__SIMULATE=true or
SDR_TX__BUFFER__ADDR=0x1F000000.

Physical memory is mapped through /dev/mem, so all commands that touch the
hardware need root.  With device.simulate set, an in-process engine loops the
transmit channel back into the receive channel and no hardware is used.

Commands:
- run     serve the HTTP interface on addr:
	GET  /dma/status     control and status registers of every engine
	POST /rx/capture     one receive buffer, as raw or fits (?format=)
	POST /tx/start       start streaming, {"int": n} for n buffers
	POST /tx/stop        stop streaming and halt the channel
	GET  /tx/stats       transmit counters
	GET  /lock, POST /lock {"bool": true} lock every other route (423)
	GET  /list-of-routes
- tx      stream the waveform until interrupted, or for a number of buffers
- rx      capture one receive buffer to capture.path
- status  print DMACR and DMASR of both channels of the RF engine and of
          every engine listed under dma.inspect
- mkconf  write the current configuration to sdrctl.yml
- conf    print the current configuration`
	fmt.Println(str)
}

func mkconf() {
	c := loadconfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = config.Write(f, c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconfig()
	err := config.Write(os.Stdout, c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("sdrctl version %v\n", Version)
}

// openRadio maps the hardware; no register access is possible without it
func openRadio(c config.Config) *radio.Radio {
	r, err := radio.Open(c, radio.NewMapper(c), nil)
	if err != nil {
		log.Fatal(err)
	}
	return r
}

// interruptible returns a context cancelled by SIGINT or SIGTERM
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func status() {
	c := loadconfig()
	r := openRadio(c)
	defer r.Close()
	snaps, err := r.Status()
	for _, s := range snaps {
		fmt.Print(s)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func tx(args []string) {
	c := loadconfig()
	count := c.TX.Count
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			log.Fatalf("buffer count must be a non-negative integer, got %q", args[0])
		}
		count = n
	}
	r := openRadio(c)
	defer r.Close()
	ctx, cancel := interruptible()
	defer cancel()
	start := time.Now()
	err := r.Transmit(ctx, count)
	st := r.TxStats()
	log.Printf("sent %d buffers in %s, %d errors, %d timeouts", st.Buffers, time.Since(start).Round(time.Millisecond), st.Errors, st.Timeouts)
	if err != nil {
		log.Fatal(err)
	}
}

func rx() {
	c := loadconfig()
	r := openRadio(c)
	defer r.Close()
	ctx, cancel := interruptible()
	defer cancel()

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " ",
		Message:           fmt.Sprintf("waiting on S2MM for %d samples", c.RX.Buffer.Words()),
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()
	res, err := r.CaptureFile(ctx, c.Capture.Path, c.Capture.Format)
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		r.Close()
		os.Exit(1)
	}
	spinner.StopMessage(fmt.Sprintf("%d samples (%d bytes) to %s", res.Words, res.Bytes, c.Capture.Path))
	spinner.Stop()
}

// SetupHTTP creates the root router with request logging
func SetupHTTP(r *radio.Radio) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Mount("/", sdr.NewRouter(r))
	return root
}

func run() {
	c := loadconfig()
	r := openRadio(c)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGABRT, syscall.SIGTERM, os.Interrupt)
	go func() {
		<-ch
		r.Close()
		os.Exit(0)
	}()
	log.Printf("%s at 0x%08X mapped, simulate=%v", c.DMA.Name, c.DMA.Base, c.Device.Simulate)
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, SetupHTTP(r)))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "tx":
		tx(args[2:])
		return
	case "rx":
		rx()
		return
	case "status":
		status()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
