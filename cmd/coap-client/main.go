// coap-client 发送COAP请求, 支持资源发现及订阅.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ironzhang/coap/v2"
	"github.com/ironzhang/coap/v2/internal/config"
	coaplog "github.com/ironzhang/coap/v2/internal/logging"
)

type globalFlags struct {
	config   string
	logLevel string
	output   string
	timeout  time.Duration
}

type requestFlags struct {
	non     bool
	data    string
	inFile  string
	outFile string
	options optionFlags
}

type app struct {
	out    io.Writer
	global globalFlags
	client *coap.Client
	print  *printer
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	cfg.LogLevel = "warn"
	if a.global.config != "" {
		var err error
		if cfg, err = config.Load(a.global.config); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = a.global.logLevel
	}
	factory, err := coaplog.NewConsoleFactory("coap-client", cfg.LogLevel)
	if err != nil {
		return err
	}
	if a.print, err = newPrinter(a.out, a.global.output); err != nil {
		return err
	}
	a.client, err = coap.NewClient(coap.Config{
		Params:        cfg.Params,
		LoggerFactory: factory,
	})
	return err
}

func (a *app) teardown(cmd *cobra.Command, args []string) error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

func (a *app) context() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	if a.global.timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, a.global.timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func makePayload(data, inFile string) ([]byte, error) {
	if data != "" {
		return []byte(data), nil
	}
	if inFile != "" {
		return os.ReadFile(inFile)
	}
	return nil, nil
}

func makeRequest(method coap.Code, url string, f *requestFlags) (*coap.Request, error) {
	payload, err := makePayload(f.data, f.inFile)
	if err != nil {
		return nil, err
	}
	req, err := coap.NewRequest(!f.non, method, url, payload)
	if err != nil {
		return nil, err
	}
	if err = f.options.apply(&req.Options); err != nil {
		return nil, err
	}
	return req, nil
}

func addRequestFlags(cmd *cobra.Command, f *requestFlags) {
	fs := cmd.Flags()
	fs.BoolVar(&f.non, "non", false, "send a non-confirmable request")
	fs.StringVarP(&f.data, "data", "d", "", "request payload")
	fs.StringVar(&f.inFile, "in-file", "", "read the request payload from file")
	fs.StringVar(&f.outFile, "out-file", "", "write the response payload to file")
	fs.StringArrayVarP(&f.options.named, "option", "O", nil, "option by name, e.g. \"Content-Format:50\"")
	fs.StringArrayVar(&f.options.empty, "empty-option", nil, "empty option by id, e.g. \"5\"")
	fs.StringArrayVar(&f.options.uints, "uint-option", nil, "uint option by id, e.g. \"14:60\"")
	fs.StringArrayVar(&f.options.str, "string-option", nil, "string option by id, e.g. \"15:a=1\"")
	fs.StringArrayVar(&f.options.opaque, "opaque-option", nil, "opaque option by id, e.g. \"4:etag\"")
}

func (a *app) methodCmd(method coap.Code) *cobra.Command {
	var f requestFlags
	cmd := &cobra.Command{
		Use:   strings.ToLower(method.String()) + " URL",
		Short: "Send a " + method.String() + " request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := makeRequest(method, args[0], &f)
			if err != nil {
				return err
			}
			a.print.Request(req)

			ctx, cancel := a.context()
			defer cancel()
			resp, err := a.client.Do(ctx, req)
			if err != nil {
				return err
			}
			if err = a.print.Response(resp); err != nil {
				return err
			}
			if f.outFile != "" {
				return os.WriteFile(f.outFile, resp.Payload, 0664)
			}
			return nil
		},
	}
	addRequestFlags(cmd, &f)
	return cmd
}

func (a *app) discoverCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "discover URL",
		Short: "List the resources of a server via " + coap.WellKnownCore,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := strings.TrimSuffix(args[0], "/") + coap.WellKnownCore
			req, err := coap.NewRequest(true, coap.GET, url, nil)
			if err != nil {
				return err
			}
			ct, err := parseLinkContentFormat(format)
			if err != nil {
				return err
			}
			req.Options.Set(coap.Accept, uint32(ct))

			ctx, cancel := a.context()
			defer cancel()
			resp, err := a.client.Do(ctx, req)
			if err != nil {
				return err
			}
			if !resp.Status.IsSuccess() {
				return fmt.Errorf("discover: %s", resp.Status)
			}
			links, err := decodeLinks(ct, resp.Payload)
			if err != nil {
				return err
			}
			return a.print.Links(links)
		},
	}
	cmd.Flags().StringVar(&format, "format", "link", "discovery encoding: link, cbor, json")
	return cmd
}

func parseLinkContentFormat(format string) (coap.MediaType, error) {
	switch strings.ToLower(format) {
	case "", "link":
		return coap.AppLinkFormat, nil
	case "cbor":
		return coap.AppLinkFormatCBOR, nil
	case "json":
		return coap.AppLinkFormatJSON, nil
	default:
		return 0, fmt.Errorf("unknown discovery format: %s", format)
	}
}

func decodeLinks(ct coap.MediaType, payload []byte) ([]coap.Link, error) {
	switch ct {
	case coap.AppLinkFormatCBOR:
		return coap.UnmarshalLinksCBOR(payload)
	case coap.AppLinkFormatJSON:
		return coap.UnmarshalLinksJSON(payload)
	default:
		return coap.ParseLinkFormat(string(payload))
	}
}

func (a *app) observeCmd() *cobra.Command {
	var f requestFlags
	var count int
	cmd := &cobra.Command{
		Use:   "observe URL",
		Short: "Observe a resource and print notifications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := makeRequest(coap.GET, args[0], &f)
			if err != nil {
				return err
			}
			if err = a.client.Observe(req); err != nil {
				return err
			}
			defer a.client.CancelObserve(req)

			ctx, cancel := a.context()
			defer cancel()
			for n := 0; count <= 0 || n < count; {
				resp, err := req.ReceiveResponse(ctx)
				if err == coap.ErrWaitCancelled {
					return nil
				}
				if err != nil || resp == nil {
					return err
				}
				if resp.IsEmptyAck() {
					continue
				}
				if err = a.print.Response(resp); err != nil {
					return err
				}
				if !resp.IsNotification() {
					return fmt.Errorf("observe: %s", resp.Status)
				}
				n++
			}
			return nil
		},
	}
	addRequestFlags(cmd, &f)
	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after n notifications, 0 means until interrupted")
	return cmd
}

func (a *app) pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping URL",
		Short: "Send a CoAP ping (empty confirmable message)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context()
			defer cancel()
			start := time.Now()
			ok, err := a.client.Ping(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("ping %s: no reply", args[0])
			}
			fmt.Fprintf(a.out, "pong from %s in %v\n", args[0], time.Since(start))
			return nil
		},
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	cmd := &cobra.Command{
		Use:                "coap-client",
		Short:              "Send CoAP requests, discover and observe resources",
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}
	fs := cmd.PersistentFlags()
	fs.StringVarP(&a.global.config, "config", "c", "", "TOML config file with [transmission] parameters")
	fs.StringVar(&a.global.logLevel, "log-level", "warn", "log level: trace, debug, info, warn, error")
	fs.StringVarP(&a.global.output, "output", "o", "text", "output format: text, yaml")
	fs.DurationVar(&a.global.timeout, "timeout", 0, "overall timeout, 0 means transmission defaults")

	for _, m := range []coap.Code{coap.GET, coap.POST, coap.PUT, coap.DELETE} {
		cmd.AddCommand(a.methodCmd(m))
	}
	cmd.AddCommand(a.discoverCmd(), a.observeCmd(), a.pingCmd())
	return cmd
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
