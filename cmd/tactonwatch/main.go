// tactonwatch prints the live event stream of a running controller.
// With -status it prints one status snapshot and the priority table instead.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-tacton/internal/httpc"
	"github.com/teslashibe/go-tacton/pkg/events"
	"github.com/teslashibe/go-tacton/pkg/telemetry"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "Controller telemetry address")
	kind := flag.String("kind", "", "Only show events whose kind starts with this prefix")
	raw := flag.Bool("json", false, "Print raw JSON")
	status := flag.Bool("status", false, "Print a status snapshot and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *status {
		if err := printStatus(ctx, *addr); err != nil {
			fmt.Fprintf(os.Stderr, "status: %v\n", err)
			os.Exit(1)
		}
		return
	}

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws/events"}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", u.String(), err)
		os.Exit(1)
	}
	defer ws.Close()

	go func() {
		<-ctx.Done()
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "read: %v\n", err)
				os.Exit(1)
			}
			return
		}

		var e events.Event
		if err := json.Unmarshal(data, &e); err != nil {
			fmt.Fprintf(os.Stderr, "decode: %v\n", err)
			continue
		}
		if *kind != "" && !strings.HasPrefix(string(e.Kind), *kind) {
			continue
		}
		if *raw {
			fmt.Println(string(data))
			continue
		}
		fmt.Println(format(e))
	}
}

func format(e events.Event) string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %-17s", e.Time.Format("15:04:05.000"), e.Kind)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
	}
	return b.String()
}

func printStatus(ctx context.Context, addr string) error {
	c := httpc.NewClient(httpc.DefaultTimeout)
	base := "http://" + addr

	var st telemetry.Status
	if err := httpc.GetJSON(ctx, c, base+"/api/status", &st); err != nil {
		return err
	}
	var table []telemetry.TableEntry
	if err := httpc.GetJSON(ctx, c, base+"/api/table", &table); err != nil {
		return err
	}

	fmt.Printf("mode      %s (up %s, %d watchers)\n", st.Mode, st.Uptime, st.Clients)
	if st.Tacton != nil {
		fmt.Printf("tactons   %d played, %d failed, %d cooling down\n",
			st.Tacton.Dispatched, st.Tacton.Failed, st.Tacton.CoolingDown)
		if st.Tacton.Current != nil {
			fmt.Printf("          playing %s on %s\n", st.Tacton.Current.Label, st.Tacton.Current.Channel)
		}
	}
	if st.Sighting != nil {
		fmt.Printf("sees      %v\n", st.Sighting.Labels)
	}
	if st.Distance != nil {
		fmt.Printf("distance  %d (mean %.0f) -> %s\n", st.Distance.Sample, st.Distance.Mean, st.Distance.Period)
	}
	if st.Click != nil {
		fmt.Printf("click     active=%v pulses=%d shortened=%d\n", st.Click.Active, st.Click.Pulses, st.Click.Shortened)
	}
	fmt.Println()
	for _, row := range table {
		fmt.Printf("  %-10s priority %d  %-6s waveform %d\n", row.Label, row.Priority, row.Channel, row.Waveform)
	}
	return nil
}
