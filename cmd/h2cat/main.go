// Command h2cat is a minimal demonstration listener for the h2engine
// protocol core: it accepts plain TCP connections, speaks HTTP/1.1 or h2c
// on them (spec.md section 1 keeps TLS/ALPN an external collaborator, so
// this binary only exercises the cleartext path) and echoes back the
// method, path and body of every request it receives.
//
// It exists to give the pack's urfave/cli and sirupsen/logrus dependencies
// a real call site; it is not part of the engine's public API.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	http2 "github.com/domsolutions/h2engine"
)

func main() {
	app := cli.NewApp()
	app.Name = "h2cat"
	app.Usage = "accept HTTP/1.1 and h2c connections and echo each request back"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "addr", Value: "127.0.0.1:8080", Usage: "address to listen on"},
		cli.BoolFlag{Name: "debug", Usage: "log connection lifecycle events"},
		cli.IntFlag{Name: "padding", Value: 0, Usage: "any value > 0 enables random frame padding; the amount per frame is chosen at random"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	log := logrus.New()
	if ctx.Bool("debug") {
		log.SetLevel(logrus.DebugLevel)
	}

	ln, err := net.Listen("tcp", ctx.String("addr"))
	if err != nil {
		return err
	}
	log.Infof("h2cat listening on %s", ln.Addr())

	lc := &http2.ListenerConfig{
		Addr:           ctx.String("addr"),
		FramePadding:   ctx.Int("padding") > 0,
		Debug:          ctx.Bool("debug"),
		Logger:         log,
		HandlerFactory: func(info http2.ConnectionInfo) http2.Handler {
			log.WithFields(logrus.Fields{
				"remote": info.RemoteAddr,
				"proto":  info.NegotiatedProto,
			}).Debug("connection accepted")
			return &echoHandler{log: log}
		},
	}

	server := http2.NewServer(lc)
	return server.Serve(ln)
}

// echoHandler answers every request with its own method, path and body
// mirrored back as the response, so h2cat doubles as a quick h2c/HTTP/1.1
// smoke-test target.
type echoHandler struct {
	log *logrus.Logger
}

// hasNoBody mirrors the engine's own no-body method list (spec.md section
// 4.7): on HTTP/1.1 these methods never carry a request body, so the
// Handler contract never calls StartRequestBody/EndRequestBody for them and
// the response must be finished from Headers itself. On HTTP/2 the engine
// decides by END_STREAM on HEADERS instead, whatever the method.
func hasNoBody(method string) bool {
	switch method {
	case "GET", "HEAD", "OPTIONS", "DELETE":
		return true
	}
	return false
}

func (h *echoHandler) Headers(w http2.ResponseWriter, s *http2.Stream) error {
	headers := http2.NewHeaderList()
	headers.Set("content-type", "text/plain; charset=utf-8")
	headers.Set("x-h2cat-method", s.Method())
	headers.Set("x-h2cat-path", s.Path())
	if err := w.Headers(200, headers); err != nil {
		return err
	}
	if hasNoBody(s.Method()) {
		return w.Complete()
	}
	return w.StartResponseBody()
}

func (h *echoHandler) StartRequestBody(w http2.ResponseWriter, s *http2.Stream) error {
	return nil
}

func (h *echoHandler) RequestBodyContent(w http2.ResponseWriter, s *http2.Stream, p []byte) error {
	return w.ResponseBodyContent(p)
}

func (h *echoHandler) EndRequestBody(w http2.ResponseWriter, s *http2.Stream, trailers *http2.HeaderList) error {
	return w.EndResponseBody(trailers)
}

func (h *echoHandler) RequestComplete(s *http2.Stream) {
	if h.log.IsLevelEnabled(logrus.DebugLevel) {
		h.log.Debugf("stream %d complete: %s %s", s.ID(), s.Method(), s.Path())
	}
}
