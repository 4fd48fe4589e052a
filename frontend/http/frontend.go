// Package http implements spec.md §4.9's HTTP Codec & Dispatcher: Bencode
// announce/scrape endpoints served over fasthttp, with reverse-proxy IP
// resolution delegated to package ipresolver and request handling
// delegated to package tracker's protocol-agnostic Announce/Scrape
// services.
package http

import (
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/dkbame/mactracker/middleware"
	"github.com/dkbame/mactracker/pkg/events"
	"github.com/dkbame/mactracker/pkg/stop"
	"github.com/dkbame/mactracker/pkg/timecache"
	"github.com/dkbame/mactracker/tracker"
)

// clock amortizes the repeated time.Now() calls on every request.
var clock = timecache.New()

// Config configures the HTTP frontend's own listener, independent of the
// tracker.Service it dispatches to.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Frontend is the HTTP tracker frontend: a fasthttp server bound to a
// tracker.Service.
type Frontend struct {
	cfg    Config
	svc    *tracker.Service
	hooks  middleware.Chain
	server *fasthttp.Server
}

// New constructs a Frontend. hooks run after the core Announce/Scrape
// service and before the response is written, mirroring how the original
// system layers its extension points on top of its core services.
func New(cfg Config, svc *tracker.Service, hooks middleware.Chain) *Frontend {
	f := &Frontend{cfg: cfg, svc: svc, hooks: hooks}

	r := router.New()
	r.GET("/announce", f.handleAnnounce)
	r.GET("/announce/{key}", f.handleAnnounce)
	r.GET("/scrape", f.handleScrape)
	r.GET("/scrape/{key}", f.handleScrape)
	r.GET("/health_check", f.handleHealthCheck)

	f.server = &fasthttp.Server{
		Handler:      r.Handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return f
}

// ListenAndServe blocks serving HTTP requests until Stop is called.
func (f *Frontend) ListenAndServe() error {
	return f.server.ListenAndServe(f.cfg.Addr)
}

// Stop implements stop.Stopper, gracefully draining in-flight requests.
func (f *Frontend) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		defer close(c)
		c <- f.server.Shutdown()
	}()
	return c.Result()
}

func (f *Frontend) binding(ctx *fasthttp.RequestCtx) events.Binding {
	return events.Binding{
		ClientAddr: ctx.RemoteAddr().String(),
		ServerAddr: ctx.LocalAddr().String(),
		Protocol:   "http",
	}
}

func keyFromRoute(ctx *fasthttp.RequestCtx) (string, bool) {
	v := ctx.UserValue("key")
	if v == nil {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// ipSources extracts both candidate client-IP sources from the request:
// the rightmost X-Forwarded-For entry (the one a well-behaved reverse
// proxy itself appended) and the raw connection's remote address.
func ipSources(ctx *fasthttp.RequestCtx) tracker.ClientIPSources {
	var sources tracker.ClientIPSources

	if xff := ctx.Request.Header.Peek("X-Forwarded-For"); len(xff) > 0 {
		parts := strings.Split(string(xff), ",")
		last := strings.TrimSpace(parts[len(parts)-1])
		if addr, err := netip.ParseAddr(last); err == nil {
			sources.RightmostXForwardedFor = addr
		}
	}

	if tcpAddr, ok := ctx.RemoteAddr().(interface{ AddrPort() netip.AddrPort }); ok {
		sources.ConnectionInfoAddr = tcpAddr.AddrPort().Addr()
	} else if addr, err := netip.ParseAddr(hostOnly(ctx.RemoteAddr().String())); err == nil {
		sources.ConnectionInfoAddr = addr
	}

	return sources
}

func hostOnly(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}

func (f *Frontend) handleAnnounce(ctx *fasthttp.RequestCtx) {
	req, err := parseAnnounceQuery(ctx.QueryArgs().QueryString())
	if err != nil {
		WriteError(ctx, err)
		return
	}

	key, keyProvided := keyFromRoute(ctx)
	now := clock.Now()

	resp, err := f.svc.Announce(req, ipSources(ctx), f.binding(ctx), key, keyProvided, now)
	if err != nil {
		WriteError(ctx, err)
		return
	}

	if _, err := f.hooks.HandleAnnounce(ctx, &req, &resp); err != nil {
		WriteError(ctx, err)
		return
	}

	if err := WriteAnnounceResponse(ctx, &resp); err != nil {
		logger.Error().Err(err).Msg("failed writing announce response")
	}
}

func (f *Frontend) handleScrape(ctx *fasthttp.RequestCtx) {
	req, err := parseScrapeQuery(ctx.QueryArgs().QueryString())
	if err != nil {
		WriteError(ctx, err)
		return
	}

	key, keyProvided := keyFromRoute(ctx)
	now := clock.Now()

	resp := f.svc.Scrape(req, f.binding(ctx), key, keyProvided, now)

	if _, err := f.hooks.HandleScrape(ctx, &req, &resp); err != nil {
		WriteError(ctx, err)
		return
	}

	if err := WriteScrapeResponse(ctx, &resp); err != nil {
		logger.Error().Err(err).Msg("failed writing scrape response")
	}
}

func (f *Frontend) handleHealthCheck(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString(`{"status":"Running"}`)
}
