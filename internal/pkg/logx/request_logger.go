/*
Package logx provides a structured logging wrapper based on zerolog.

This file contains the chi middleware that logs each HTTP request with an
anonymized client address. A WebSocket upgrade is logged once, when the session
ends, with the session length instead of a request latency. Query strings are
never logged since the WebSocket token travels there.
*/
package logx

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// anonymizeIP keeps the /24 of an IPv4 address and the /64 of an IPv6 address.
// Loopback addresses are returned unchanged.
func anonymizeIP(remoteAddr string) string {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return "unknown_ip"
	}
	addr = addr.Unmap().WithZone("")

	if addr.IsLoopback() {
		return addr.String()
	}

	bits := 64
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "unknown_ip"
	}

	return prefix.Addr().String()
}

// RequestLoggerOptions tunes RequestLogger.
type RequestLoggerOptions struct {
	// QuietPaths are logged at debug level when they succeed, e.g. health checks
	// from a load balancer.
	QuietPaths []string
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// RequestLogger returns middleware that attaches a request-scoped logger to the
// request context and logs the outcome once the handler returns.
func RequestLogger(opts RequestLoggerOptions) func(next http.Handler) http.Handler {
	baseLogger := Logger()

	quiet := make(map[string]struct{}, len(opts.QuietPaths))
	for _, p := range opts.QuietPaths {
		quiet[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			upgrade := isWebSocketUpgrade(r)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			logger := baseLogger.With().
				Str("component", "http").
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("remote_ip", anonymizeIP(r.RemoteAddr)).
				Str("request_method", r.Method).
				Str("request_path", r.URL.Path).
				Logger()

			r = r.WithContext(logger.WithContext(r.Context()))

			start := time.Now()
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)

			// A hijacked connection never reports a status through the wrapper.
			status := ww.Status()
			if upgrade && status == 0 {
				status = http.StatusSwitchingProtocols
			}

			var logEvent *zerolog.Event
			switch _, isQuiet := quiet[r.URL.Path]; {
			case status >= 500:
				logEvent = logger.Error()
			case status >= 400:
				logEvent = logger.Warn()
			case isQuiet:
				logEvent = logger.Debug()
			default:
				logEvent = logger.Info()
			}

			if upgrade && status == http.StatusSwitchingProtocols {
				logEvent.
					Int("status", status).
					Dur("session", elapsed).
					Msg("WebSocket session ended")
				return
			}

			logEvent.
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("latency", elapsed).
				Msg("Request completed")
		}

		return http.HandlerFunc(fn)
	}
}
