// coap-server 以资源树提供COAP服务, 根节点下挂载可读写的store资源.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ironzhang/coap/v2"
	"github.com/ironzhang/coap/v2/internal/config"
	coaplog "github.com/ironzhang/coap/v2/internal/logging"
	"github.com/ironzhang/coap/v2/internal/metrics"
)

const mdnsService = "_coap._udp"

type flags struct {
	config      string
	listen      string
	logLevel    string
	metricsAddr string
	mdns        bool
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "coap-server",
		Short:         "Serve a CoAP resource tree with a writable store resource",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVarP(&f.config, "config", "c", "", "TOML config file")
	cmd.Flags().StringVar(&f.listen, "listen", "", "UDP listen address (default \":5683\")")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this HTTP address")
	cmd.Flags().BoolVar(&f.mdns, "mdns", false, "advertise the server via mDNS as "+mdnsService)
	return cmd
}

// loadConfig 读取配置文件, 命令行参数优先.
func loadConfig(cmd *cobra.Command, f flags) (config.Config, error) {
	cfg := config.Default()
	if f.config != "" {
		var err error
		if cfg, err = config.Load(f.config); err != nil {
			return cfg, err
		}
	}
	if cmd.Flags().Changed("listen") {
		cfg.Listen = f.listen
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if cmd.Flags().Changed("mdns") {
		cfg.MDNS.Enabled = f.mdns
	}
	return cfg, nil
}

// newRoot 构造资源树, 导入配置中的link-format并挂载store.
func newRoot(cfg config.Config) (*coap.Resource, error) {
	root, err := coap.NewRoot(cfg.Resources)
	if err != nil {
		return nil, err
	}
	root.SetConstructor(storeConstructor)
	if err = root.AddSubResource(newStore("store", true)); err != nil {
		return nil, err
	}
	return root, nil
}

func run(cfg config.Config) error {
	factory, err := coaplog.NewConsoleFactory("coap-server", cfg.LogLevel)
	if err != nil {
		return err
	}
	log := factory.NewLogger("coap-server")

	root, err := newRoot(cfg)
	if err != nil {
		return err
	}
	server := coap.NewServer(root, coap.Config{
		Params:        cfg.Params,
		LoggerFactory: factory,
	})

	conn, err := net.ListenPacket("udp", cfg.Listen)
	if err != nil {
		return err
	}
	if err = server.Start(conn); err != nil {
		return err
	}
	defer server.Close()
	log.Infof("listen on udp://%s", conn.LocalAddr())

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, log)
	}
	if cfg.MDNS.Enabled {
		mdns, err := advertise(cfg.MDNS.Instance, conn.LocalAddr())
		if err != nil {
			log.Warnf("mdns: %v", err)
		} else {
			defer mdns.Shutdown()
			log.Infof("mdns: advertise %s as %s", mdnsService, cfg.MDNS.Instance)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown")
	return nil
}

func serveMetrics(addr string, log logging.LeveledLogger) {
	metrics.RegisterMetrics()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Infof("metrics on http://%s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("metrics: %v", err)
	}
}

func advertise(instance string, addr net.Addr) (*zeroconf.Server, error) {
	udp, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unsupported address %s", addr)
	}
	txt := []string{"path=" + coap.WellKnownCore}
	return zeroconf.Register(instance, mdnsService, "local.", udp.Port, txt, nil)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
