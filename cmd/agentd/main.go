// Command agentd is the mesh agent daemon: it loads configuration and
// persistent state, wires the C1-C11 components together directly in
// main, starts the HTTP front, and runs the periodic workers (route
// aging, pruning, expiry, polling, advertisement) via the scheduler.
// Grounded on original_source/stembot/main.py's bootstrap and
// cellorg/cmd's flag/signal conventions.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phnomcobra/stembot/internal/clock"
	"github.com/phnomcobra/stembot/internal/config"
	"github.com/phnomcobra/stembot/internal/control"
	"github.com/phnomcobra/stembot/internal/crypto"
	"github.com/phnomcobra/stembot/internal/dispatch"
	"github.com/phnomcobra/stembot/internal/httpapi"
	"github.com/phnomcobra/stembot/internal/identity"
	"github.com/phnomcobra/stembot/internal/logging"
	"github.com/phnomcobra/stembot/internal/peer"
	"github.com/phnomcobra/stembot/internal/queue"
	"github.com/phnomcobra/stembot/internal/route"
	"github.com/phnomcobra/stembot/internal/router"
	"github.com/phnomcobra/stembot/internal/scheduler"
	"github.com/phnomcobra/stembot/internal/store"
	"github.com/phnomcobra/stembot/internal/ticket"
	"github.com/phnomcobra/stembot/internal/transport"
	"github.com/phnomcobra/stembot/internal/types"
)

func main() {
	configPath := flag.String("config", "", "path to agentd YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentd:", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "agentd: creating data dir:", err)
		os.Exit(1)
	}

	kv, err := store.OpenKV(cfg.DataDir + "/kvstore.db")
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentd:", err)
		os.Exit(1)
	}
	defer kv.Close()

	id, err := identity.Load(kv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "agentd:", err)
		os.Exit(1)
	}

	log := logging.NewDaemon(id.Agtuuid, cfg.Debug, cfg.LogDir)
	log.Info("starting agent %s at %s", id.Agtuuid, id.Addr())

	key, err := crypto.DeriveKey(id.SecretDigest)
	if err != nil {
		log.Error("deriving key: %v", err)
		os.Exit(1)
	}

	realClock := clock.Real{}

	peers, err := peer.Open(cfg.DataDir, realClock, cfg.PeerTimeout, cfg.PeerRefresh)
	if err != nil {
		log.Error("opening peer table: %v", err)
		os.Exit(1)
	}
	if err := peers.LoadPersistent(); err != nil {
		log.Error("loading persistent peers: %v", err)
		os.Exit(1)
	}
	for _, seed := range cfg.SeedPeers {
		url := seed.URL
		if _, err := peers.Create(seed.Agtuuid, &url, nil, seed.Polling); err != nil {
			log.Error("seeding peer %s: %v", seed.Agtuuid, err)
		}
	}

	routes, err := route.Open(cfg.MaxWeight)
	if err != nil {
		log.Error("opening route table: %v", err)
		os.Exit(1)
	}

	q, err := queue.Open(realClock, cfg.MessageTTL)
	if err != nil {
		log.Error("opening message queue: %v", err)
		os.Exit(1)
	}

	tickets, err := ticket.Open(realClock, cfg.TicketTimeout)
	if err != nil {
		log.Error("opening ticket engine: %v", err)
		os.Exit(1)
	}

	tr := transport.New(key, time.Duration(cfg.HTTPTimeout*float64(time.Second)))
	d := dispatch.New(peers, routes, realClock, log)
	r := router.New(id.Agtuuid, peers, routes, q, tickets, d, tr, realClock, log, cfg.ForwardQueue, cfg.ForwardWorker)

	ctl := &control.Orchestrator{
		Self: id.Agtuuid, Dispatch: d, Tickets: tickets, Router: r,
		Peers: peers, Transport: tr, Clock: realClock,
	}

	sched := scheduler.New(realClock, log)
	startWorkers(sched, cfg, id, realClock, peers, routes, q, tickets, r, tr, log)

	srv := httpapi.New(key, ctl, log)
	httpServer := &http.Server{Addr: id.Addr(), Handler: srv}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	sched.Shutdown()
	_ = httpServer.Close()
}

// startWorkers registers every periodic job on the scheduler, each
// self-re-arming at the tail of its own function (spec.md §4.3/§9).
// Advertisement uses a randomized interval in [AdvertiseMin,
// AdvertiseMax) per spec.md §4.5 ("jittered to avoid thundering herd").
func startWorkers(sched *scheduler.Scheduler, cfg config.Config, id identity.Identity, c clock.Clock, peers *peer.Table, routes *route.Table, q *queue.Queue, tickets *ticket.Engine, r *router.Router, tr *transport.Client, log *logging.Logger) {
	var advertise func()
	advertise = func() {
		directPeers, err := peers.List()
		if err != nil {
			log.Error("advertisement: listing peers: %v", err)
		} else {
			ad, err := routes.CreateAdvertisement(id.Agtuuid, agtuuidsOf(directPeers))
			if err != nil {
				log.Error("building advertisement: %v", err)
			} else {
				for _, p := range directPeers {
					if p.URL == nil {
						continue
					}
					if _, err := tr.SendMessage(*p.URL, ad, id.Agtuuid); err != nil {
						log.Error("advertising to %s: %v", p.Agtuuid, err)
					}
				}
			}
		}
		jitter := cfg.AdvertiseMin + rand.Float64()*(cfg.AdvertiseMax-cfg.AdvertiseMin)
		sched.Register("advertise", time.Duration(jitter*float64(time.Second)), advertise)
	}
	sched.Register("advertise", time.Duration(cfg.AdvertiseMin*float64(time.Second)), advertise)

	var age func()
	age = func() {
		if err := routes.Age(1); err != nil {
			log.Error("aging routes: %v", err)
		}
		sched.Register("age-routes", time.Second, age)
	}
	sched.Register("age-routes", time.Second, age)

	var prune func()
	prune = func() {
		live, err := peers.Prune()
		if err != nil {
			log.Error("pruning peers: %v", err)
		} else {
			directPeers, err := peers.List()
			if err != nil {
				log.Error("listing peers for route prune: %v", err)
			} else if err := routes.Prune(live, agtuuidsOf(directPeers), id.Agtuuid); err != nil {
				log.Error("pruning routes: %v", err)
			}
		}
		sched.Register("prune", time.Second, prune)
	}
	sched.Register("prune", time.Second, prune)

	var expireMessages func()
	expireMessages = func() {
		if n, err := q.Expire(); err != nil {
			log.Error("expiring messages: %v", err)
		} else if n > 0 {
			log.Debug("expired %d messages", n)
		}
		sched.Register("expire-messages", 60*time.Second, expireMessages)
	}
	sched.Register("expire-messages", 60*time.Second, expireMessages)

	var expireTickets func()
	expireTickets = func() {
		if _, err := tickets.ExpireTickets(); err != nil {
			log.Error("expiring tickets: %v", err)
		}
		if _, err := tickets.ExpireTraces(); err != nil {
			log.Error("expiring traces: %v", err)
		}
		sched.Register("expire-tickets", time.Second, expireTickets)
	}
	sched.Register("expire-tickets", time.Second, expireTickets)

	var poll func()
	poll = func() {
		directPeers, err := peers.List()
		if err != nil {
			log.Error("poll: listing peers: %v", err)
		} else {
			for _, p := range directPeers {
				if p.URL == nil || !p.Polling {
					continue
				}
				req := types.NetworkMessage{Type: types.MessagesRequest, Src: id.Agtuuid, Timestamp: c.Now()}
				reply, err := tr.SendMessage(*p.URL, req, id.Agtuuid)
				if err != nil {
					log.Error("polling %s: %v", p.Agtuuid, err)
					continue
				}
				for _, msg := range reply.Messages {
					if _, err := r.Route(msg); err != nil {
						log.Error("routing polled message: %v", err)
					}
				}
			}
		}
		sched.Register("poll", time.Duration(cfg.PollInterval*float64(time.Second)), poll)
	}
	sched.Register("poll", time.Duration(cfg.PollInterval*float64(time.Second)), poll)
}

func agtuuidsOf(peers []types.Peer) []string {
	out := make([]string, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.Agtuuid)
	}
	return out
}
