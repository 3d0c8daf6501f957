// phasefeed streams phase events into a running request-recorder, for driving
// the capture pipeline without a browser. Input is JSON lines, one PhaseEvent
// per line, from a file or stdin.
//
//	phasefeed -addr ws://localhost:9095/api/events/ws -file events.jsonl
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	addr := flag.String("addr", "ws://localhost:9095/api/events/ws", "ingest websocket URL")
	file := flag.String("file", "-", "JSON-lines file of phase events, - for stdin")
	delay := flag.Duration("delay", 0, "pause between events")
	flag.Parse()

	in := os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open:", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	c, _, err := websocket.DefaultDialer.Dial(*addr, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial:", err)
		os.Exit(1)
	}
	defer c.Close()

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	sent := 0
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			fmt.Fprintln(os.Stderr, "skipping invalid JSON line")
			continue
		}
		_ = c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteMessage(websocket.TextMessage, line); err != nil {
			fmt.Fprintln(os.Stderr, "write:", err)
			os.Exit(1)
		}
		sent++
		if *delay > 0 {
			time.Sleep(*delay)
		}
	}
	if err := sc.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	fmt.Printf("sent %d events\n", sent)
}
