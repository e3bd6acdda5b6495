// Command tagwired runs the tagwire gateway: it decodes device frames
// arriving over MQTT against a loaded template pack, fans the decoded
// objects out to Kafka and Valkey, and exposes a status REST API and an
// optional terminal dashboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/foundryfieldworks/tagwire/internal/config"
	"github.com/foundryfieldworks/tagwire/internal/dispatch"
	"github.com/foundryfieldworks/tagwire/internal/eval/celeval"
	"github.com/foundryfieldworks/tagwire/internal/fanout/kafkasink"
	"github.com/foundryfieldworks/tagwire/internal/fanout/valkeysink"
	"github.com/foundryfieldworks/tagwire/internal/ingest/mqttsrc"
	"github.com/foundryfieldworks/tagwire/internal/obslog"
	"github.com/foundryfieldworks/tagwire/internal/parser"
	"github.com/foundryfieldworks/tagwire/internal/templatepack"
	"github.com/foundryfieldworks/tagwire/internal/tui"
	"github.com/foundryfieldworks/tagwire/internal/webapi"
)

func main() {
	configPath := flag.String("config", "", "path to gateway config file (defaults to the platform config dir)")
	headless := flag.Bool("headless", false, "run without the terminal dashboard")
	debugLog := flag.String("debug-log", "", "path to a file to persist debug log output")
	flag.Parse()

	if err := run(*configPath, *headless, *debugLog); err != nil {
		fmt.Fprintln(os.Stderr, "tagwired:", err)
		os.Exit(1)
	}
}

func run(configPath string, headless bool, debugLogPath string) error {
	if configPath == "" {
		configPath = config.DefaultPath()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	tui.InitLogStore(2000)
	if debugLogPath != "" {
		dl, err := obslog.NewDebugLogger(debugLogPath)
		if err != nil {
			return fmt.Errorf("open debug log: %w", err)
		}
		defer dl.Close()
		obslog.SetGlobalDebugLogger(dl)
	}

	reg := dispatch.NewRegistry()
	p := parser.New(reg, celeval.New())

	for _, pc := range cfg.TemplatePacks {
		if !pc.Enabled {
			continue
		}
		applies, err := pc.Applies(cfg.FirmwareVersion)
		if err != nil {
			return fmt.Errorf("template pack %q: bad firmware_range: %w", pc.Name, err)
		}
		if !applies {
			obslog.DebugLog("templatepack", "SKIP %s: firmware %s not in range %s", pc.Name, cfg.FirmwareVersion, pc.FirmwareRange)
			continue
		}
		tmpls, err := templatepack.Load(pc.Path)
		if err != nil {
			return fmt.Errorf("load template pack %q: %w", pc.Name, err)
		}
		for _, tmpl := range tmpls {
			if err := p.RegisterTemplate(tmpl); err != nil {
				return fmt.Errorf("register template %s from pack %q: %w", tmpl.Type.Name(), pc.Name, err)
			}
		}
	}

	recent := webapi.NewRecentBuffer(500)

	kafkaSinks := make([]*kafkasink.Sink, 0, len(cfg.Kafka))
	for _, kc := range cfg.Kafka {
		if !kc.Enabled {
			continue
		}
		kafkaSinks = append(kafkaSinks, kafkasink.New(kc))
	}

	valkeySinks := make([]*valkeysink.Sink, 0, len(cfg.Valkey))
	for _, vc := range cfg.Valkey {
		if !vc.Enabled {
			continue
		}
		valkeySinks = append(valkeySinks, valkeysink.New(vc))
	}

	fanoutAll := func(typeName string, obj interface{}, payload []byte) {
		ctx := context.Background()
		for _, sink := range kafkaSinks {
			if err := sink.PublishWithRetry(ctx, typeName, payload); err != nil {
				obslog.DebugError("kafkasink", sink.Name(), err)
			}
		}
		for _, sink := range valkeySinks {
			if err := sink.Store(ctx, cfg.Namespace, typeName, "", obj); err != nil {
				obslog.DebugError("valkeysink", sink.Name(), err)
			}
			if id, correlationID, ok := valkeysink.ExtractCorrelationFields(obj); ok {
				if err := sink.StoreCorrelation(ctx, cfg.Namespace, id, correlationID, typeName, sink.Config().KeyTTL); err != nil {
					obslog.DebugError("valkeysink", sink.Name(), err)
				}
			}
		}
	}

	sources := make([]*mqttsrc.Source, 0, len(cfg.MQTTSources))
	for _, sc := range cfg.MQTTSources {
		if !sc.Enabled {
			continue
		}
		src := mqttsrc.New(sc, func(topic string, payload []byte) {
			resp := p.Parse(payload)
			for _, m := range resp.Messages {
				entry := webapi.RecentEntry{Offset: m.Offset}
				if m.Err != nil {
					entry.Err = m.Err.Error()
					recent.Push(entry)
					continue
				}
				typeName := typeNameOf(m.Object)
				entry.TypeName = typeName
				entry.Object = m.Object
				recent.Push(entry)
				fanoutAll(typeName, m.Object, payload)
			}
		})
		sources = append(sources, src)
	}

	server := webapi.New(cfg.Web, p, recent, cfg.FindWebUser, func() error {
		return nil
	})

	connectCtx := context.Background()
	for _, sink := range kafkaSinks {
		if err := sink.Connect(connectCtx); err != nil {
			obslog.DebugError("kafkasink", sink.Name(), err)
		}
	}
	for _, sink := range valkeySinks {
		if err := sink.Start(); err != nil {
			obslog.DebugError("valkeysink", sink.Name(), err)
		}
	}

	// The MQTT sources share one errgroup so each Start runs concurrently
	// and a broker that never comes up does not hold up the others'
	// connects. Wait still holds the rest of startup until every Start has
	// returned, which for an unreachable broker is its connect timeout.
	var ingestGroup errgroup.Group
	for _, src := range sources {
		src := src
		ingestGroup.Go(func() error {
			if err := src.Start(); err != nil {
				obslog.DebugError("mqttsrc", src.Name(), err)
			}
			return nil
		})
	}
	_ = ingestGroup.Wait()

	if cfg.Web.Enabled {
		if err := server.Start(); err != nil {
			return fmt.Errorf("start web server: %w", err)
		}
	}

	shutdown := func() {
		for _, src := range sources {
			src.Stop()
		}
		for _, sink := range kafkaSinks {
			sink.Disconnect()
		}
		for _, sink := range valkeySinks {
			sink.Stop()
		}
		_ = server.Stop()
	}

	if headless {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		shutdown()
		return nil
	}

	app := tui.NewApp(cfg, recent, sources, kafkaSinks, valkeySinks)
	err = app.Run()
	shutdown()
	return err
}

func typeNameOf(v interface{}) string {
	if v == nil {
		return ""
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
