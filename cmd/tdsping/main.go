// Package main is a minimal diagnostic client for the driver core: it
// dials a server, runs one query, prints the result set, and exits.
// It exists to exercise gotds.Connector/Conn outside of a test binary,
// the way the teacher pack's loadgen/proxy commands exercise their own
// connection layer from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	gotds "github.com/ulvii/go-tds"
	"github.com/ulvii/go-tds/internal/driverlog"
	"github.com/ulvii/go-tds/internal/drivermetrics"
	"github.com/ulvii/go-tds/internal/tds"
)

var (
	connString = flag.String("conn", os.Getenv("TDSPING_CONN"), "connection string, e.g. server=localhost;database=master;user id=sa;password=...")
	query      = flag.String("query", "select 1", "SQL batch to run")
	timeout    = flag.Duration("timeout", 10*time.Second, "overall connect+query timeout")
	metricsAddr = flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9121) instead of exiting after the query")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if *connString == "" {
		log.Fatal("[tdsping] -conn is required (or set TDSPING_CONN)")
	}

	reg := prometheus.NewRegistry()
	met := drivermetrics.New(reg)

	connector, err := gotds.NewConnector(gotds.Config{
		ConnectionString: *connString,
		Log:              driverlog.Gated{Logger: driverlog.NewStd(nil), Flags: driverlog.FlagErrors},
		Metrics:          met,
		AppName:          "tdsping",
	})
	if err != nil {
		log.Fatalf("[tdsping] invalid connection string: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := connector.Connect(ctx)
	if err != nil {
		log.Fatalf("[tdsping] connect failed: %v", err)
	}
	defer conn.Close()

	cloud, analytics := conn.EngineEdition()
	log.Printf("[tdsping] connected to database=%s cloud=%v analytics_warehouse=%v", conn.Database(), cloud, analytics)

	handler := &printHandler{}
	rows, err := conn.ExecBatch(ctx, *query, handler)
	if err != nil {
		log.Fatalf("[tdsping] query failed: %v", err)
	}
	log.Printf("[tdsping] %d row(s) affected", rows)

	if *metricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Printf("[tdsping] serving metrics on %s/metrics", *metricsAddr)
	if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
		log.Fatalf("[tdsping] metrics server error: %v", err)
	}
}

type printHandler struct {
	columns []tds.Column
}

func (h *printHandler) OnColumns(columns []tds.Column) {
	h.columns = columns
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	fmt.Println(names)
}

func (h *printHandler) OnRow(row []interface{}) {
	fmt.Println(row)
}
