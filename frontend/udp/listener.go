package udp

import (
	"net"
	"net/netip"
	"time"

	"github.com/libp2p/go-reuseport"

	"github.com/dkbame/mactracker/pkg/events"
	"github.com/dkbame/mactracker/pkg/stop"
)

// Config configures the UDP frontend's listener independent of the
// Dispatcher it hands datagrams to.
type Config struct {
	Addr           string
	Workers        int
	RequestTimeout time.Duration
}

// Frontend is the UDP tracker frontend: one or more SO_REUSEPORT sockets
// bound to the same address, each read by its own goroutine, fanning out
// to Dispatcher.Handle. Multiple sockets on the same port let the kernel
// load-balance datagrams across workers instead of funnelling every
// datagram through a single reader goroutine.
type Frontend struct {
	cfg    Config
	disp   *Dispatcher
	conns  []net.PacketConn
	closed chan struct{}
}

// New constructs a Frontend. Call ListenAndServe to start serving.
func New(cfg Config, disp *Dispatcher) *Frontend {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	disp.ServerAddr = cfg.Addr
	return &Frontend{cfg: cfg, disp: disp, closed: make(chan struct{})}
}

// ListenAndServe binds cfg.Workers reuseport sockets to cfg.Addr and
// serves until Stop is called. It blocks until every worker has returned.
func (f *Frontend) ListenAndServe() error {
	for i := 0; i < f.cfg.Workers; i++ {
		conn, err := reuseport.ListenPacket("udp", f.cfg.Addr)
		if err != nil {
			f.closeAll()
			return err
		}
		f.conns = append(f.conns, conn)
	}

	done := make(chan struct{}, len(f.conns))
	for _, conn := range f.conns {
		go func(c net.PacketConn) {
			f.serve(c)
			done <- struct{}{}
		}(conn)
	}
	for range f.conns {
		<-done
	}
	return nil
}

func (f *Frontend) serve(conn net.PacketConn) {
	buf := make([]byte, 65507) // max UDP payload
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-f.closed:
				return
			default:
				logger.Warn().Err(err).Msg("udp read error")
				continue
			}
		}

		remote, ok := toAddrPort(addr)
		if !ok {
			continue
		}

		data := append([]byte(nil), buf[:n]...)
		now := clock.Now()
		resp := f.handleWithBudget(data, remote, now)
		if resp == nil {
			continue
		}
		if _, err := conn.WriteTo(resp, addr); err != nil {
			logger.Warn().Err(err).Msg("udp write error")
		}
	}
}

// handleWithBudget runs disp.Handle under cfg.RequestTimeout, per spec.md
// §5's per-request processing budget. A request that does not complete in
// time has its response dropped and an error event emitted rather than
// being allowed to hold the reader goroutine open indefinitely; the
// abandoned goroutine still runs to completion; its result is discarded.
func (f *Frontend) handleWithBudget(data []byte, remote netip.AddrPort, now time.Time) []byte {
	if f.cfg.RequestTimeout <= 0 {
		return f.disp.Handle(data, remote, now)
	}

	respCh := make(chan []byte, 1)
	go func() {
		respCh <- f.disp.Handle(data, remote, now)
	}()

	select {
	case resp := <-respCh:
		return resp
	case <-time.After(f.cfg.RequestTimeout):
		logger.Warn().Str("remote", remote.String()).Dur("budget", f.cfg.RequestTimeout).
			Msg("request exceeded processing budget, dropping response")
		if f.disp.Bus != nil {
			f.disp.Bus.Publish(events.Event{
				Kind:        events.RequestErrored,
				At:          now,
				Binding:     f.disp.binding(remote),
				RequestKind: "timeout",
			})
		}
		return nil
	}
}

func toAddrPort(addr net.Addr) (netip.AddrPort, bool) {
	if udpAddr, ok := addr.(*net.UDPAddr); ok {
		return udpAddr.AddrPort(), true
	}
	ap, err := netip.ParseAddrPort(addr.String())
	return ap, err == nil
}

func (f *Frontend) closeAll() {
	for _, c := range f.conns {
		_ = c.Close()
	}
}

// Stop implements stop.Stopper: closing every listener unblocks the
// ReadFrom loops, which then observe f.closed and return. In-flight
// datagrams are not awaited individually since each is handled
// synchronously within its reader goroutine before the next ReadFrom.
func (f *Frontend) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		defer close(c)
		close(f.closed)
		f.closeAll()
	}()
	return c.Result()
}
