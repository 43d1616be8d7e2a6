package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"TrafficLens/internal/config"
	"TrafficLens/internal/storage"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	mode := flag.String("mode", "api", "Query mode: 'api' to query via HTTP API, 'direct' to query ClickHouse directly.")
	kind := flag.String("kind", "anomalies", "History to query: packets, stats or anomalies.")
	apiAddr := flag.String("api", "http://localhost:5000", "Base URL of the monitor HTTP API.")
	configFile := flag.String("config", "configs/config.yaml", "Path to the configuration file (direct mode).")
	since := flag.Duration("since", time.Hour, "How far back to query.")
	limit := flag.Int("limit", 100, "Maximum rows to return.")
	flag.Parse()

	to := time.Now().UTC()
	from := to.Add(-*since)

	switch *mode {
	case "api":
		queryViaAPI(*apiAddr, *kind, from, to, *limit)
	case "direct":
		queryDirect(*configFile, *kind, from, to, *limit)
	default:
		log.Fatalf("Invalid mode: %s. Use 'api' or 'direct'.", *mode)
	}
}

func queryViaAPI(base, kind string, from, to time.Time, limit int) {
	q := url.Values{}
	q.Set("from", from.Format(time.RFC3339))
	q.Set("to", to.Format(time.RFC3339))
	q.Set("limit", strconv.Itoa(limit))
	target := fmt.Sprintf("%s/api/history/%s?%s", base, kind, q.Encode())

	resp, err := http.Get(target)
	if err != nil {
		log.Fatalf("Error sending request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("API returned non-200 status code: %d\nResponse: %s", resp.StatusCode, string(body))
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		fmt.Println(string(body))
		return
	}
	pretty, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		fmt.Println(string(body))
		return
	}
	fmt.Println(string(pretty))
}

func queryDirect(configFile, kind string, from, to time.Time, limit int) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.ApplyEnv()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := storage.NewClickHouseStore(ctx, cfg.Storage.ClickHouse, zap.NewNop())
	if err != nil {
		log.Fatalf("Failed to connect to ClickHouse: %v", err)
	}
	defer store.Close()

	var rows any
	switch kind {
	case "packets":
		rows, err = store.QueryPackets(ctx, from, to, limit)
	case "stats":
		rows, err = store.QueryStats(ctx, from, to, limit)
	case "anomalies":
		rows, err = store.QueryAnomalies(ctx, from, to, limit)
	default:
		log.Fatalf("Unknown kind %q", kind)
	}
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	out, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode rows: %v", err)
	}
	fmt.Println(string(out))
}
