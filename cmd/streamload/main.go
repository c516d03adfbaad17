// Command streamload is a small demo/load-generation harness for the
// streamer: it wires an HRW affinity oracle, an in-memory bundle.Streams,
// and a StaticMembership together, then bulk-ingests synthetic key/value
// pairs and reports what happened.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kvgrid/streamer/affinity"
	"github.com/kvgrid/streamer/cmn/nlog"
	"github.com/kvgrid/streamer/hk"
	"github.com/kvgrid/streamer/ingest"
	"github.com/kvgrid/streamer/meta"
	"github.com/kvgrid/streamer/stats"
	"github.com/kvgrid/streamer/transport"
	"github.com/kvgrid/streamer/transport/bundle"
)

var (
	numKeys     int
	numNodes    int
	bufSize     int
	parallelOps int
	metricsAddr string
	compress    bool
)

func init() {
	flag.IntVar(&numKeys, "keys", 10_000, "number of synthetic keys to ingest")
	flag.IntVar(&numNodes, "nodes", 4, "number of simulated storage nodes")
	flag.IntVar(&bufSize, "buf-size", 64, "per-node buffer capacity")
	flag.IntVar(&parallelOps, "parallel-ops", 4, "per-node in-flight batch cap")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus /metrics on this addr")
	flag.BoolVar(&compress, "compress", false, "lz4-compress entry values on the wire via ingest.LZ4Encoder")
}

func main() {
	flag.Parse()
	installSignalHandler()
	defer nlog.Flush()

	if metricsAddr != "" {
		stats.ServeHTTP(metricsAddr)
		nlog.Infof("serving metrics on %s/metrics", metricsAddr)
	}

	const localNodeID = "node-0"
	tmap := meta.NodeMap{}
	for i := 0; i < numNodes; i++ {
		id := fmt.Sprintf("node-%d", i)
		tmap[id] = &meta.Snode{DaemonID: id, URL: "memory://" + id}
	}
	membership := meta.NewStaticMembership(&meta.Smap{Version: meta.TopologyVersion{Major: 1}, Tmap: tmap})

	var store sync.Map // simulated per-node storage: key -> value
	apply := func(node *meta.Snode, req *transport.StreamRequest) *transport.StreamResponse {
		for _, e := range req.Entries {
			store.Store(node.DaemonID+"/"+string(e.Key), e.Value)
		}
		return &transport.StreamResponse{RequestID: req.RequestID}
	}
	lsnode := tmap[localNodeID]
	streams := bundle.New(membership, lsnode, apply, time.Millisecond)

	scheduler := hk.NewScheduler()
	defer scheduler.Stop()

	oracle := affinity.NewHRW(membership, "demo-cache")

	var encoder ingest.Encoder
	if compress {
		encoder = ingest.LZ4Encoder{}
		nlog.Infof("compressing entry values with lz4 before dispatch")
	}

	cfg := ingest.Config{
		CacheName:         "demo-cache",
		BufSize:           bufSize,
		ParallelOps:       parallelOps,
		AutoFlushInterval: 0,
		LocalNodeID:       localNodeID,
		Oracle:            oracle,
		Client:            streams,
		Dispatcher:        streams,
		Sowner:            membership,
		Membership:        membership,
		Scheduler:         scheduler,
		Encoder:           encoder,
		LocalApply: func(entries []ingest.Entry, _ meta.TopologyVersion) error {
			for _, e := range entries {
				store.Store(localNodeID+"/"+string(e.Key), e.Value)
			}
			return nil
		},
	}
	streamer, err := ingest.New(cfg)
	if err != nil {
		nlog.Errorf("failed to construct streamer: %v", err)
		os.Exit(1)
	}

	start := time.Now()
	const chunk = 256
	batch := make(map[string][]byte, chunk)
	var futures []*ingest.Future
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("key-%08d", i)
		batch[key] = []byte(fmt.Sprintf("value-%d", i))
		if len(batch) == chunk {
			f, err := streamer.Add(batch)
			if err != nil {
				nlog.Errorf("add failed: %v", err)
				break
			}
			futures = append(futures, f)
			batch = make(map[string][]byte, chunk)
		}
	}
	if len(batch) > 0 {
		if f, err := streamer.Add(batch); err == nil {
			futures = append(futures, f)
		}
	}

	if err := streamer.Flush(); err != nil {
		nlog.Warningf("flush observed error: %v", err)
	}
	for _, f := range futures {
		if err := f.Err(); err != nil {
			nlog.Warningf("operation future failed: %v", err)
		}
	}

	elapsed := time.Since(start)
	nlog.Infof("ingested %d keys across %d nodes in %s", numKeys, numNodes, elapsed)

	if err := streamer.Close(false); err != nil {
		nlog.Warningf("close drain observed error: %v", err)
	}
}

func installSignalHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		os.Exit(1)
	}()
}
