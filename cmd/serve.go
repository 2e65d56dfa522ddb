package main

import (
	"cmp"
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/eclipse/paho.golang/paho"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/JP-Makers/rs-dbc/base"
	"github.com/JP-Makers/rs-dbc/can"
	"github.com/JP-Makers/rs-dbc/dbc"
	"github.com/JP-Makers/rs-dbc/rwmap"
	"github.com/JP-Makers/rs-dbc/whitelist"
)

// udp recv buf
const BufSize = 2 * 1024

type RecvData struct {
	RecvTime int64
	Data     []byte
}

var cmdServe = &cli.Command{
	Name:  "serve",
	Usage: "decode mirrored CAN traffic and publish it over MQTT",
	Flags: []cli.Flag{inputFlag, lossyFlag},
	Action: func(c *cli.Context) error {
		cfg := appConfig(c)
		d, _, err := loadDBC(cfg, c.String("input"), c.Bool("lossy"))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, d)
	},
}

type counters struct {
	udp, loseUdp, pdus, decodeErr, losePdu, merged, loseMerge, publishErr atomic.Int64
}

func (s *counters) log() {
	log.Infof("totalUdp(%d), totalLoseUdp(%d), totalPdus(%d), totalDecodeErr(%d), totalLosePdu(%d), totalMerge(%d), totalLoseMerge(%d), totalPublishErr(%d)",
		s.udp.Load(), s.loseUdp.Load(), s.pdus.Load(), s.decodeErr.Load(), s.losePdu.Load(),
		s.merged.Load(), s.loseMerge.Load(), s.publishErr.Load())
}

type adapter struct {
	cfg       *base.Config
	decoder   *can.Decoder
	publisher *can.Publisher
	frames    *rwmap.RWMap[uint32, can.Frame]
	stats     counters
}

func serve(ctx context.Context, cfg *base.Config, d *dbc.Dbc) error {
	wl := whitelist.New(d, cfg.EnableWhiteList)
	if err := wl.Load(cfg.WhiteListFile); err != nil {
		return err
	}

	a := &adapter{
		cfg:     cfg,
		decoder: can.NewDecoder(d, wl),
		frames:  rwmap.NewRWMap[uint32, can.Frame](len(d.Messages)),
	}
	defer a.stats.log()

	if cfg.MQTT.Enable {
		client, err := can.DialMQTT(ctx, &cfg.MQTT)
		if err != nil {
			return err
		}
		defer client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		a.publisher = can.NewPublisher(client, &cfg.MQTT)
	}

	conn, err := listenUDP(ctx, cfg.UdpServer.Host)
	if err != nil {
		return err
	}
	log.Debugf("Open %s success !!!", cfg.UdpServer.Host)

	server := &HttpServer{
		Server: &http.Server{
			Addr:    cfg.HttpServer.ServerAddr,
			Handler: NewRouter(&cfg.HttpServer, d, wl, a.frames),
		},
		Timeout: cfg.HttpServer.ShutdownTimeout,
	}

	recvChan := make(chan RecvData, cfg.DataChanSize)
	pduChan := make(chan []can.PDU, cfg.DataChanSize)
	mergedChan := make(chan []can.PDU, cfg.DataChanSize)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return wl.RunSaver(ctx, cfg.WhiteListFile) })
	g.Go(func() error { return a.readData(ctx, conn, recvChan) })
	for i := 0; i < cfg.DecodeUdpRoutines; i++ {
		g.Go(func() error { return a.decodeUdpData(ctx, recvChan, pduChan) })
	}
	g.Go(func() error { return a.mergeFrames(ctx, pduChan, mergedChan) })
	for i := 0; i < cfg.WorkRoutines; i++ {
		g.Go(func() error { return a.handleData(ctx, mergedChan) })
	}

	return g.Wait()
}

func listenUDP(ctx context.Context, host string) (net.PacketConn, error) {
	cfg := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
					return
				}
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	conn, err := cfg.ListenPacket(ctx, "udp", host)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", host)
	}
	return conn, nil
}

func (a *adapter) readData(ctx context.Context, conn net.PacketConn, out chan<- RecvData) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, BufSize)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "read udp")
		}
		a.stats.udp.Add(1)

		if n <= 0 {
			continue
		}

		recvData := RecvData{
			RecvTime: time.Now().UnixMicro(),
			Data:     make([]byte, n),
		}
		copy(recvData.Data, buf[:n])

		select {
		case out <- recvData:
		default:
			a.stats.loseUdp.Add(1)
		}
	}
}

func (a *adapter) decodeUdpData(ctx context.Context, in <-chan RecvData, out chan<- []can.PDU) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-in:
			pdus := a.decodeDatagram(data)
			if len(pdus) == 0 {
				continue
			}

			select {
			case out <- pdus:
			default:
				a.stats.losePdu.Add(int64(len(pdus)))
			}
		}
	}
}

// decodeDatagram keeps received frames only, unless Bidirection is set.
func (a *adapter) decodeDatagram(data RecvData) []can.PDU {
	pdus, err := can.DecodeDatagram(data.Data, data.RecvTime)
	if err != nil {
		log.Errorln(err)
		a.stats.decodeErr.Add(1)
	}
	a.stats.pdus.Add(int64(len(pdus)))

	if a.cfg.Bidirection {
		return pdus
	}

	kept := pdus[:0]
	for _, pdu := range pdus {
		switch pdu.Direction {
		case can.SDPERecv:
			kept = append(kept, pdu)
		case can.SDPESend:
		default:
			log.Errorf("Unknown direction !!! canId(%d), direction(%d)", pdu.CanId, pdu.Direction)
		}
	}
	return kept
}

func (a *adapter) mergeFrames(ctx context.Context, in <-chan []can.PDU, out chan<- []can.PDU) error {
	merger := newFrameMerger(a.cfg.Filter)

	for {
		select {
		case <-ctx.Done():
			return nil
		case pdus := <-in:
			merged := merger.Add(pdus)
			if len(merged) == 0 {
				continue
			}
			a.stats.merged.Add(int64(len(merged)))

			select {
			case out <- merged:
			default:
				a.stats.loseMerge.Add(int64(len(merged)))
			}
		}
	}
}

func (a *adapter) handleData(ctx context.Context, in <-chan []can.PDU) error {
	for {
		select {
		case <-ctx.Done():
			log.Debugln("HandleData quit !!!")
			return nil
		case pdus := <-in:
			a.parseAndPublish(ctx, pdus)
		}
	}
}

func (a *adapter) parseAndPublish(ctx context.Context, pdus []can.PDU) {
	decoded, other := a.decoder.Decode(pdus)
	for _, frame := range decoded {
		a.frames.Set(frame.CanId, frame)
	}

	if a.publisher == nil {
		return
	}
	if err := a.publisher.PublishFrames(ctx, decoded, other); err != nil {
		log.Errorln(err)
		a.stats.publishErr.Add(1)
	}
}

// frameMerger keeps the latest PDU per CAN id and releases the set once
// FilterInterval has passed since the previous release.
type frameMerger struct {
	enable   bool
	interval int64 // microseconds
	oldest   int64
	pdus     map[uint32]can.PDU
}

func newFrameMerger(cfg base.Filter) *frameMerger {
	return &frameMerger{
		enable:   cfg.IsFilterFrame,
		interval: int64(cfg.FilterInterval) * can.MicroPerMilli,
		pdus:     make(map[uint32]can.PDU),
	}
}

// Add folds in a batch and returns the released PDUs ordered by CAN id.
// With merging disabled the batch is returned as is.
func (m *frameMerger) Add(in []can.PDU) (out []can.PDU) {
	if !m.enable {
		return in
	}
	if len(in) == 0 {
		return nil
	}

	latest := in[0].Timestamp
	if latest-m.oldest >= m.interval {
		for _, pdu := range m.pdus {
			out = append(out, pdu)
		}
		slices.SortFunc(out, func(a, b can.PDU) int {
			return cmp.Compare(a.CanId, b.CanId)
		})
		clear(m.pdus)
		m.oldest = latest
	}

	// deduplicate by canid
	for _, pdu := range in {
		m.pdus[pdu.CanId] = pdu
	}

	return out
}
