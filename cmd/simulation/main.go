package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/escrow-api/internal/auth"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	minCycles     = 5
	maxCycles     = 25
	numWorkers    = 3
	serverAddress = "http://localhost:8080"
	// Short deadlines keep the release-after-deadline wait tolerable
	orderDurationMS = 500
)

var products = []string{"steel-coils", "grain-futures", "solar-panels", "med-supplies", "lithium-cells"}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
	mu         sync.Mutex
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration, failed bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	if failed {
		rs.failures++
	}
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the escrow API
type simulationClient struct {
	baseURL       string
	buyerToken    string
	supplierToken string
	client        *http.Client
	stats         map[string]*routeStats
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newSimulationClient authenticates both parties and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"auth":    {name: "Authentication"},
			"mint":    {name: "Mint Funds"},
			"create":  {name: "Create Order"},
			"accept":  {name: "Accept Order"},
			"funds":   {name: "Add Funds"},
			"fulfill": {name: "Fulfill Order"},
			"dispute": {name: "Dispute Order"},
			"resolve": {name: "Resolve Dispute"},
			"release": {name: "Release Payment"},
			"refund":  {name: "Request Refund"},
			"rate":    {name: "Rate Supplier"},
		},
	}

	buyerToken, err := sc.authenticate(auth.TestAPIKey, auth.TestAPISecret)
	if err != nil {
		return nil, fmt.Errorf("buyer authentication failed: %w", err)
	}
	sc.buyerToken = buyerToken

	supplierToken, err := sc.authenticate(auth.TestSupplierAPIKey, auth.TestSupplierAPISecret)
	if err != nil {
		return nil, fmt.Errorf("supplier authentication failed: %w", err)
	}
	sc.supplierToken = supplierToken

	return sc, nil
}

func (sc *simulationClient) authenticate(apiKey, apiSecret string) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	})

	start := time.Now()
	resp, err := sc.client.Post(sc.baseURL+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
	sc.stats["auth"].addDuration(time.Since(start), err != nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", err
	}
	if !envelope.Success {
		message := "unknown error"
		if envelope.Error != nil {
			message = envelope.Error.Message
		}
		return "", fmt.Errorf("authentication rejected: %s", message)
	}

	var tokenResp struct {
		Token string `json:"jwt_token"`
	}
	if err := json.Unmarshal(envelope.Data, &tokenResp); err != nil {
		return "", err
	}
	return tokenResp.Token, nil
}

// call issues an authenticated request, records its latency, and returns the
// decoded data payload
func (sc *simulationClient) call(stat, method, path, token string, payload interface{}, idempotent bool) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if idempotent {
		req.Header.Set("Idempotency-Key", uuid.New().String())
	}

	start := time.Now()
	resp, err := sc.client.Do(req)
	failed := err != nil
	if resp != nil && resp.StatusCode >= 400 {
		failed = true
	}
	sc.stats[stat].addDuration(time.Since(start), failed)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	if !envelope.Success {
		code := ""
		if envelope.Error != nil {
			code = envelope.Error.Code
		}
		return nil, fmt.Errorf("%s %s rejected: %s", method, path, code)
	}
	return envelope.Data, nil
}

type orderPayload struct {
	OrderID string `json:"order_id"`
	Escrow  int64  `json:"escrow"`
}

// runCycle drives one full escrow lifecycle. Roughly 70% of cycles take the
// happy path (fulfill, wait out the deadline, release), 15% dispute and
// resolve, and 15% fund then withdraw.
func (sc *simulationClient) runCycle(worker int) error {
	logger := log.With().Int("worker", worker).Logger()

	price := int64(rand.Intn(900) + 100)
	product := products[rand.Intn(len(products))]

	// Keep the buyer topped up
	if _, err := sc.call("mint", "POST", "/api/v1/internal/accounts/"+auth.TestAPIKey+"/mint",
		sc.buyerToken, map[string]int64{"amount": price * 2}, false); err != nil {
		return fmt.Errorf("mint: %w", err)
	}

	data, err := sc.call("create", "POST", "/api/v1/orders", sc.buyerToken, map[string]interface{}{
		"product":     product,
		"quantity":    rand.Intn(10) + 1,
		"price":       price,
		"duration_ms": orderDurationMS,
	}, true)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	var order orderPayload
	if err := json.Unmarshal(data, &order); err != nil {
		return err
	}
	logger.Info().Str("order_id", order.OrderID).Str("product", product).Msg("order created")

	base := "/api/v1/orders/" + order.OrderID

	if _, err := sc.call("accept", "POST", base+"/accept", sc.supplierToken, nil, false); err != nil {
		return fmt.Errorf("accept: %w", err)
	}

	if _, err := sc.call("funds", "POST", base+"/funds", sc.buyerToken,
		map[string]int64{"amount": price}, true); err != nil {
		return fmt.Errorf("funds: %w", err)
	}

	roll := rand.Float64()
	switch {
	case roll < 0.15:
		// Dispute path: buyer disputes, then resolves either way
		if _, err := sc.call("dispute", "POST", base+"/dispute", sc.buyerToken, nil, false); err != nil {
			return fmt.Errorf("dispute: %w", err)
		}
		favor := rand.Intn(2) == 0
		if _, err := sc.call("resolve", "POST", base+"/resolve", sc.buyerToken,
			map[string]bool{"favor_supplier": favor}, false); err != nil {
			return fmt.Errorf("resolve: %w", err)
		}
		logger.Info().Str("order_id", order.OrderID).Bool("favor_supplier", favor).Msg("dispute cycle complete")

	case roll < 0.30:
		// Withdrawal path: buyer pulls the funds back out
		if _, err := sc.call("refund", "POST", base+"/refund", sc.buyerToken, nil, false); err != nil {
			return fmt.Errorf("refund: %w", err)
		}
		logger.Info().Str("order_id", order.OrderID).Msg("refund cycle complete")

	default:
		// Happy path: fulfill before the deadline, release after it
		if _, err := sc.call("fulfill", "POST", base+"/fulfill", sc.supplierToken, nil, false); err != nil {
			return fmt.Errorf("fulfill: %w", err)
		}

		// Buyer rates while the record still shows the fulfilled cycle
		if _, err := sc.call("rate", "POST", base+"/rating", sc.buyerToken,
			map[string]int64{"rating": int64(rand.Intn(5) + 1)}, false); err != nil {
			return fmt.Errorf("rate: %w", err)
		}

		time.Sleep(orderDurationMS*time.Millisecond + 100*time.Millisecond)

		if _, err := sc.call("release", "POST", base+"/release", sc.buyerToken,
			map[string]string{"memo": "delivered " + product}, false); err != nil {
			return fmt.Errorf("release: %w", err)
		}
		logger.Info().Str("order_id", order.OrderID).Msg("settlement cycle complete")
	}

	return nil
}

// printStats renders the per-route latency table
func (sc *simulationClient) printStats() {
	fmt.Println("\nRoute statistics:")
	fmt.Printf("%-18s %8s %8s %10s %10s %10s %10s %10s %10s\n",
		"Route", "Calls", "Failures", "Min", "Max", "Mean", "Median", "P95", "P99")

	names := make([]string, 0, len(sc.stats))
	for key := range sc.stats {
		names = append(names, key)
	}
	sort.Strings(names)

	for _, key := range names {
		rs := sc.stats[key]
		if rs.totalCalls == 0 {
			continue
		}
		min, max, mean, median, p95, p99 := rs.calculate()
		fmt.Printf("%-18s %8d %8d %10s %10s %10s %10s %10s %10s\n",
			rs.name, rs.totalCalls, rs.failures, min, max, mean, median, p95, p99)
	}
}

func main() {
	rand.Seed(time.Now().UnixNano())

	sc, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize simulation client")
	}

	cycles := rand.Intn(maxCycles-minCycles) + minCycles
	log.Info().Int("cycles", cycles).Int("workers", numWorkers).Msg("starting escrow lifecycle simulation")

	jobs := make(chan int, cycles)
	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for range jobs {
				if err := sc.runCycle(worker); err != nil {
					log.Error().Err(err).Int("worker", worker).Msg("cycle failed")
				}
			}
		}(w)
	}

	for i := 0; i < cycles; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	log.Info().Msg("simulation complete")
	sc.printStats()
}
