// Package lifecycle builds the non-singleton ControllerContext and
// drives its ordered start/stop sequence, deliberately avoiding
// process-wide static singletons: Registry, Aggregator, the Monitoring
// Subscriber Pool and the Updater are all plain values held here and
// threaded to collaborators at construction time.
package lifecycle

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mupaco/controlunit/internal/aggregator"
	"github.com/mupaco/controlunit/internal/config"
	"github.com/mupaco/controlunit/internal/ctlerr"
	"github.com/mupaco/controlunit/internal/declparser"
	"github.com/mupaco/controlunit/internal/logging"
	"github.com/mupaco/controlunit/internal/model"
	"github.com/mupaco/controlunit/internal/monitor"
	"github.com/mupaco/controlunit/internal/receiver"
	"github.com/mupaco/controlunit/internal/registry"
	"github.com/mupaco/controlunit/internal/transport"
	"github.com/mupaco/controlunit/internal/updater"
)

const (
	registrationQueueCapacity = 64
	aggregationQueueCapacity  = 64
	updateQueueCapacity       = 16
	stopGracePeriod           = 10 * time.Second
)

// ControllerContext is the explicit aggregate of long-lived collaborators
// built once per process run, in place of package-level singletons.
type ControllerContext struct {
	cfg *config.Config
	log *logging.Logger

	Parser     *declparser.Parser
	Registry   *registry.Registry
	Aggregator *aggregator.Aggregator
	Pool       *monitor.Pool
	Updater    *updater.Updater

	registrationReceiver *receiver.Receiver
	aggregationReceiver  *receiver.Receiver
	updateReceiver       *receiver.Receiver

	metrics *metrics
}

// Config returns the resolved configuration this context was built from.
func (cc *ControllerContext) Config() *config.Config {
	return cc.cfg
}

func buildEndpoint(proto config.Protocol, log *logging.Logger) transport.Endpoint {
	if proto == config.ProtocolHTTP {
		return transport.NewHTTPEndpoint(log)
	}
	return transport.NewBrokerEndpoint(log)
}

// endpointForAddress picks a monitoring Endpoint implementation from a
// parsed MonitoringAddress: addresses whose URL carries an http(s)://
// scheme are assumed reachable over HTTP, everything else over the
// broker protocol, since monitoring addresses are entity-declared and
// carry no separate config-level protocol key.
func endpointForAddress(addr model.MonitoringAddress, log *logging.Logger) transport.Endpoint {
	if strings.HasPrefix(addr.URL, "http://") || strings.HasPrefix(addr.URL, "https://") {
		return transport.NewHTTPEndpoint(log)
	}
	return transport.NewBrokerEndpoint(log)
}

// NewControllerContext wires every collaborator: the Registry makes no
// direct call into the Pool; instead the registration receiver's sink
// passes each ingested entry's monitoring address to the Pool, keeping
// the Registry free of a compiled-in Pool dependency.
func NewControllerContext(cfg *config.Config, log *logging.Logger) (*ControllerContext, error) {
	cc := &ControllerContext{
		cfg:     cfg,
		log:     log,
		Parser:  declparser.New(cfg.ModelDirectory),
		metrics: newMetrics(),
	}
	cc.Registry = registry.New(cc.Parser, log.Named("registry"))

	cc.aggregationReceiver = receiver.New(
		buildEndpoint(cfg.Aggregation.Protocol, log.Named("aggregation")),
		transport.Config{
			URL: cfg.Aggregation.URL, Port: cfg.Aggregation.Port,
			Channel: cfg.Aggregation.Channel, Identifier: "controlunitAggregation",
		},
		aggregationQueueCapacity, log.Named("aggregation"),
	)
	cc.aggregationReceiver.AddSink(func(payload []byte) error { return nil })

	cc.Aggregator = aggregator.New(func(ctx context.Context, channel string, sum int64) error {
		cc.metrics.aggregationSamples.WithLabelValues(channel).Inc()
		if !cfg.AggregationEnabled {
			return nil
		}
		return cc.aggregationReceiver.Publish(ctx, []byte(strconv.FormatInt(sum, 10)))
	}, log.Named("aggregator"))

	cc.Pool = monitor.New(func(addr model.MonitoringAddress) transport.Endpoint {
		return endpointForAddress(addr, log.Named("monitor"))
	}, cc.Aggregator, log.Named("monitor"))

	cc.Updater = updater.New(func() []model.EntityDescription {
		var out []model.EntityDescription
		for _, key := range cc.Registry.Keys() {
			if entry, ok := cc.Registry.ByKey(key); ok {
				out = append(out, entry.Description)
			}
		}
		return out
	}, log.Named("updater"))

	cc.registrationReceiver = receiver.New(
		buildEndpoint(cfg.Registration.Protocol, log.Named("registration")),
		transport.Config{
			URL: cfg.Registration.URL, Port: cfg.Registration.Port,
			Channel: cfg.Registration.Channel, Identifier: "controlunitRegistration",
		},
		registrationQueueCapacity, log.Named("registration"),
	)
	cc.registrationReceiver.AddSink(cc.onRegistration)

	if cfg.UpdateEnabled {
		cc.updateReceiver = receiver.New(
			buildEndpoint(cfg.Update.Protocol, log.Named("update")),
			transport.Config{
				URL: cfg.Update.URL, Port: cfg.Update.Port,
				Channel: cfg.Update.Channel, Identifier: "controlunitUpdate",
			},
			updateQueueCapacity, log.Named("update"),
		)
		cc.updateReceiver.AddSink(func(payload []byte) error {
			return cc.Updater.Dispatch(context.Background(), payload)
		})
	}

	return cc, nil
}

// onRegistration is the registration receiver's sink: ingest the raw
// payload, and on success hand the entry's monitoring address to the
// Monitoring Subscriber Pool, rather than the Registry calling the Pool
// directly.
func (cc *ControllerContext) onRegistration(raw []byte) error {
	entry, err := cc.Registry.Ingest(raw, "")
	if err != nil {
		cc.metrics.registrationsRejected.Inc()
		return err
	}
	cc.metrics.registrationsAccepted.Inc()

	if _, err := cc.Pool.AddObservable(entry.Description.Monitoring); err != nil {
		cc.log.Error(err, "failed to open monitoring subscription for registered entity",
			"identifier", entry.Description.Identifier)
		return err
	}
	cc.metrics.subscriptionsLive.Set(float64(cc.Pool.ActiveCount()))
	return nil
}

// refreshQueueDepthMetrics samples every active receiver's queue depth
// into the ambient controlunit_receiver_queue_depth gauge.
func (cc *ControllerContext) refreshQueueDepthMetrics() {
	cc.metrics.queueDepth.WithLabelValues("registration").Set(float64(cc.registrationReceiver.QueueDepth()))
	if cc.cfg.AggregationEnabled {
		cc.metrics.queueDepth.WithLabelValues("aggregation").Set(float64(cc.aggregationReceiver.QueueDepth()))
	}
	if cc.updateReceiver != nil {
		cc.metrics.queueDepth.WithLabelValues("update").Set(float64(cc.updateReceiver.QueueDepth()))
	}
}

// MetricsEngine returns a gin.Engine serving GET /metrics in Prometheus
// text format. cmd/controlunit binds it on a dedicated support port so
// it is available regardless of which protocol the registration/
// aggregation/update channels use.
func (cc *ControllerContext) MetricsEngine() *gin.Engine {
	engine := gin.New()
	handler := promhttp.HandlerFor(cc.metrics.registry, promhttp.HandlerOpts{})
	engine.GET("/metrics", gin.WrapH(handler))
	return engine
}

// Controller drives ControllerContext's ordered start/stop sequence.
type Controller struct {
	ctx *ControllerContext
	log *logging.Logger

	stopMetrics chan struct{}
	metricsWG   sync.WaitGroup
}

// New builds a Controller around an already-wired ControllerContext.
func New(ctx *ControllerContext, log *logging.Logger) *Controller {
	return &Controller{ctx: ctx, log: log}
}

// Start brings collaborators up in dependency order: the aggregation
// receiver first (so the Aggregator can already publish before any
// registration can trigger a monitoring subscription that feeds it),
// then the registration receiver, then the update receiver if configured.
func (c *Controller) Start() error {
	if c.ctx.cfg.AggregationEnabled {
		if err := c.ctx.aggregationReceiver.Start(); err != nil {
			return ctlerr.Wrap(ctlerr.State, "failed to start aggregation receiver", err)
		}
	}

	if err := c.ctx.registrationReceiver.Start(); err != nil {
		return ctlerr.Wrap(ctlerr.State, "failed to start registration receiver", err)
	}

	if c.ctx.updateReceiver != nil {
		if err := c.ctx.updateReceiver.Start(); err != nil {
			return ctlerr.Wrap(ctlerr.State, "failed to start update receiver", err)
		}
	}

	c.stopMetrics = make(chan struct{})
	c.metricsWG.Add(1)
	go c.runQueueDepthMetrics()

	if c.log != nil {
		c.log.Info("controller started")
	}
	return nil
}

// runQueueDepthMetrics periodically samples every active receiver's
// queue depth until Stop signals it to exit.
func (c *Controller) runQueueDepthMetrics() {
	defer c.metricsWG.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.ctx.refreshQueueDepthMetrics()
		case <-c.stopMetrics:
			return
		}
	}
}

// Stop tears collaborators down in reverse start order (update, then
// registration, then aggregation), draining each receiver's queue before
// joining its propagator, and aggregates the error from each stage
// without skipping the rest.
func (c *Controller) Stop() error {
	if c.stopMetrics != nil {
		close(c.stopMetrics)
		c.metricsWG.Wait()
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopGracePeriod)
	defer cancel()

	var errs []error
	record := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if c.ctx.updateReceiver != nil {
		record(c.ctx.updateReceiver.Stop(ctx))
	}
	record(c.ctx.registrationReceiver.Stop(ctx))
	if c.ctx.cfg.AggregationEnabled {
		record(c.ctx.aggregationReceiver.Stop(ctx))
	}

	if c.log != nil {
		c.log.Info("controller stopped")
	}

	if len(errs) > 0 {
		return ctlerr.Wrap(ctlerr.State, "controller stop encountered an error", errors.Join(errs...))
	}
	return nil
}
