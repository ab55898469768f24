// Command axmqd runs a standalone MQTT broker: it loads a YAML configuration
// file, opens the configured listeners and bridges, and serves until signaled
// to stop.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/axmq/ax/bridge"
	"github.com/axmq/ax/broker"
	"github.com/axmq/ax/clock"
	"github.com/axmq/ax/config"
	"github.com/axmq/ax/encoding"
	"github.com/axmq/ax/hook"
	"github.com/axmq/ax/network"
	"github.com/axmq/ax/pkg/logger"
	"github.com/axmq/ax/stats"
	"github.com/axmq/ax/store"
	"github.com/axmq/ax/types/message"
)

func main() {
	configPath := flag.String("config", "axmqd.yaml", "path to the broker's YAML configuration file")
	flag.Parse()

	log := logger.NewSlogLogger(slog.LevelInfo, os.Stderr)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("broker exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.SlogLogger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hooks, err := buildHooks(cfg, log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	st := stats.New(reg, time.Second)

	factory, err := store.NewFactory(&cfg.Persistence)
	if err != nil {
		return err
	}
	defer factory.Close()

	sessions, err := store.Open[[]byte](factory, store.NameSessions)
	if err != nil {
		return err
	}
	retained, err := store.Open[[]byte](factory, store.NameRetained)
	if err != nil {
		return err
	}
	log.Info("persistence opened", "backend", cfg.Persistence.Backend, "sessions", sessions != nil, "retained", retained != nil)

	b := broker.New(hooks, st, func(clientID string, msg *message.Message) error {
		// Actual delivery happens over each client's own connAdapter; the
		// broker only reaches this fallback when no live connection claimed
		// the client (e.g. a QoS-0 offline drop), so there's nothing to do.
		return nil
	})
	b.SetFlowControl(cfg.FlowRates, cfg.BanDuration)
	b.SetBanAccumulative(cfg.BanAccumulative)
	b.SetRetryPolicy(cfg.Retry.QoSConfig())

	clk := clock.New(time.Second)
	cancelBrokerTick := b.AttachClock(clk)
	defer cancelBrokerTick()
	cancelStatsTick := clk.Subscribe(func(now time.Time) { st.Tick(time.Second) })
	defer cancelStatsTick()

	listeners, err := startListeners(cfg, b, log)
	if err != nil {
		return err
	}
	defer closeListeners(listeners)

	bridges := startBridges(cfg, clk, log)
	defer closeBridges(bridges)

	clk.Start()
	defer clk.Stop()

	log.Info("axmqd started", "listeners", len(listeners), "bridges", len(bridges))
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func buildHooks(cfg *config.Config, log *logger.SlogLogger) (*hook.Manager, error) {
	manager := hook.NewManager()
	if cfg.PasswordFile != "" {
		pf := hook.NewPasswordFileHook()
		if err := pf.LoadPasswordFile(cfg.PasswordFile); err != nil {
			return nil, err
		}
		if err := manager.Add(pf); err != nil {
			return nil, err
		}
		log.Info("password file loaded", "path", cfg.PasswordFile, "users", pf.UserCount())
	} else if err := manager.Add(hook.NewAnonymousAuthHook(true)); err != nil {
		return nil, err
	}
	return manager, nil
}

type listenerHandle interface {
	Close() error
}

func startListeners(cfg *config.Config, b *broker.Broker, log *logger.SlogLogger) ([]listenerHandle, error) {
	handles := make([]listenerHandle, 0, len(cfg.Listeners))
	for _, lc := range cfg.Listeners {
		switch lc.Scheme {
		case "mqtt", "mqtts":
			nc := network.DefaultListenerConfig(lc.Addr())
			if lc.TLS != nil {
				tlsCfg, err := lc.TLS.Build()
				if err != nil {
					return nil, err
				}
				nc.TLSConfig = tlsCfg
			}
			l, err := network.NewListener(nc, nil)
			if err != nil {
				return nil, err
			}
			l.OnConnection(func(conn *network.Connection) error {
				go serveConnection(context.Background(), b, log, conn)
				return nil
			})
			if err := l.Start(); err != nil {
				return nil, err
			}
			log.Info("listener started", "scheme", lc.Scheme, "address", lc.Addr())
			handles = append(handles, l)

		case "ws", "wss":
			wsCfg := &network.WebSocketListenerConfig{Address: lc.Addr()}
			if lc.TLS != nil {
				tlsCfg, err := lc.TLS.Build()
				if err != nil {
					return nil, err
				}
				wsCfg.TLSConfig = tlsCfg
			}
			wl, err := network.NewWebSocketListener(wsCfg, nil)
			if err != nil {
				return nil, err
			}
			wl.OnConnection(func(conn *network.Connection) error {
				go serveConnection(context.Background(), b, log, conn)
				return nil
			})
			if err := wl.Start(); err != nil {
				return nil, err
			}
			log.Info("websocket listener started", "scheme", lc.Scheme, "address", lc.Addr())
			handles = append(handles, wl)
		}
	}
	return handles, nil
}

func closeListeners(handles []listenerHandle) {
	for _, h := range handles {
		_ = h.Close()
	}
}

func startBridges(cfg *config.Config, clk *clock.Clock, log *logger.SlogLogger) []*bridge.Bridge {
	if len(cfg.Listeners) == 0 || len(cfg.Bridges) == 0 {
		return nil
	}
	localAddr := cfg.Listeners[0].Addr()

	bridges := make([]*bridge.Bridge, 0, len(cfg.Bridges))
	for i := range cfg.Bridges {
		bc := &cfg.Bridges[i]
		br := bridge.New(bc, localAddr, encoding.ProtocolVersion50, encoding.ProtocolVersion50)
		br.AttachClock(clk)
		bridges = append(bridges, br)
		log.Info("bridge configured", "name", bc.Name, "remote", bc.Address)
	}
	return bridges
}

func closeBridges(bridges []*bridge.Bridge) {
	for _, br := range bridges {
		br.Close()
	}
}
