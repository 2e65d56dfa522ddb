package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/urfave/cli/v2"

	"github.com/JP-Makers/rs-dbc/can"
	"github.com/JP-Makers/rs-dbc/dbc"
)

var cmdSimulate = &cli.Command{
	Name:  "simulate",
	Usage: "send gateway datagrams for every DBC message to the UDP intake",
	Flags: []cli.Flag{
		inputFlag,
		lossyFlag,
		&cli.StringFlag{Name: "target", Usage: "intake `host:port` (defaults to the configured UdpServer.Host)"},
		&cli.IntFlag{Name: "count", Value: 100, Usage: "number of datagrams, 0 sends until interrupted"},
		&cli.DurationFlag{Name: "interval", Value: time.Millisecond, Usage: "pause between datagrams"},
	},
	Action: func(c *cli.Context) error {
		cfg := appConfig(c)
		d, _, err := loadDBC(cfg, c.String("input"), c.Bool("lossy"))
		if err != nil {
			return err
		}

		target := c.String("target")
		if target == "" {
			target = cfg.UdpServer.Host
		}

		conn, err := net.Dial("udp", target)
		if err != nil {
			return errors.Wrapf(err, "dial %s", target)
		}
		defer conn.Close()

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
		defer stop()

		start := time.Now()
		var totalBytes, totalCount int64

	quit:
		for seq := 0; c.Int("count") == 0 || seq < c.Int("count"); seq++ {
			for _, datagram := range simulatedDatagrams(d, uint64(seq), time.Now()) {
				n, err := conn.Write(datagram)
				if err != nil {
					return errors.Wrap(err, "send datagram")
				}
				totalCount++
				totalBytes += int64(n)
			}

			select {
			case <-ctx.Done():
				break quit
			case <-time.After(c.Duration("interval")):
			}
		}

		seconds := time.Since(start).Seconds()
		fmt.Fprintf(c.App.Writer, "totalCount(%d), totalBytes(%d), totalSeconds(%fs), frameRate(%f fps)\n",
			totalCount, totalBytes, seconds, float64(totalCount)/seconds)
		return nil
	},
}

// simulatedDatagrams builds a PDU per message, split over as many
// datagrams as the intake's BufSize requires. Every payload byte carries
// the low byte of seq so successive rounds differ; payloads are capped at
// the CAN FD limit whatever size the DBC declares.
func simulatedDatagrams(d *dbc.Dbc, seq uint64, now time.Time) [][]byte {
	var (
		datagrams [][]byte
		pdus      []can.PDU
		size      = can.HeaderLen
	)

	for i := range d.Messages {
		m := &d.Messages[i]

		payload := make([]byte, min(m.Size, can.MaxPayloadLen))
		for j := range payload {
			payload[j] = byte(seq)
		}

		pduLen := can.PduHeaderLen + len(payload)
		if len(pdus) > 0 && size+pduLen > BufSize {
			datagrams = append(datagrams, can.EncodeDatagram(pdus))
			pdus, size = nil, can.HeaderLen
		}

		pdus = append(pdus, can.PDU{
			UdpTimeStamp: uint64(now.UnixMilli()),
			CanId:        m.ID.FrameID(),
			Direction:    can.SDPERecv,
			Payload:      payload,
		})
		size += pduLen
	}

	if len(pdus) > 0 {
		datagrams = append(datagrams, can.EncodeDatagram(pdus))
	}
	return datagrams
}
