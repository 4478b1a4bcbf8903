// gwctl is a small operator tool: it opens the gateway's host serial port,
// sends one protocol line, and prints what comes back until the wait
// window closes. It speaks the host side of the line protocol, so it can
// stand in for the server during bench testing.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/namsral/flag"
	"go.bug.st/serial"

	"github.com/meterman/metergw/host"
)

var (
	port = flag.String("port", "/dev/ttyUSB1", "serial device of the gateway host link")
	baud = flag.Int("baud", 115200, "baud rate")
	msg  = flag.String("msg", "GGWSNAP", "message to send, without the S>G: prefix")
	wait = flag.Duration("wait", 2*time.Second, "how long to wait for replies")
)

func main() {
	flag.Parse()

	p, err := serial.Open(*port, &serial.Mode{BaudRate: *baud})
	if err != nil {
		log.Fatal(err)
	}
	defer p.Close()

	line := *msg
	if !strings.HasPrefix(line, host.RXPrefix) {
		line = host.RXPrefix + line
	}
	if _, err := p.Write([]byte(line + "\r\n")); err != nil {
		log.Fatal(err)
	}

	p.SetReadTimeout(*wait)
	deadline := time.Now().Add(*wait)

	scanner := bufio.NewScanner(p)
	for time.Now().Before(deadline) && scanner.Scan() {
		fmt.Println(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
