package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/klear-ramp/internal/auth"
	"github.com/ksred/klear-ramp/internal/config"
	"github.com/ksred/klear-ramp/internal/database"
	"github.com/ksred/klear-ramp/internal/holdings"
	"github.com/ksred/klear-ramp/internal/ingest"
	"github.com/ksred/klear-ramp/internal/provider"
	"github.com/ksred/klear-ramp/internal/reconcile"
	"github.com/ksred/klear-ramp/internal/settlement"
	"github.com/ksred/klear-ramp/pkg/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	serverPort     = "8080"
	providerPort   = "8090"
	serverAddress  = "http://localhost:" + serverPort
	providerAPIKey = "simulation-provider-key"
	apiKey         = "simulation-client"
	apiSecret      = "simulation-secret"
)

var (
	symbols = map[string]decimal.Decimal{
		"BTC":  decimal.NewFromInt(95000),
		"ETH":  decimal.NewFromInt(5200),
		"SOL":  decimal.NewFromInt(240),
		"USDC": decimal.NewFromFloat(1.52),
		"XRP":  decimal.NewFromFloat(3.1),
	}
	currencies = []string{"AUD", "USD"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
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

// calculate computes min, max, mean, median, 95th and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
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

// simulationClient plays both the provider's webhook relay and the client
// poller against the ingest API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

func newSimulationClient() (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"auth":     {name: "Authentication"},
			"create":   {name: "Create Order"},
			"update":   {name: "Update Order"},
			"get":      {name: "Get Order"},
			"holdings": {name: "List Holdings"},
		},
	}

	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// do sends a JSON request and decodes the response envelope's data into out
func (sc *simulationClient) do(route, method, path string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		sc.stats[route].addDuration(time.Since(start), err != nil)
	}()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.RequestIDHeader, uuid.NewString())
	if sc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+sc.authToken)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("route", route).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s failed with status %d: %s", route, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	envelope := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	var token auth.TokenResponse
	creds := auth.Credentials{APIKey: apiKey, APISecret: apiSecret}
	if err := sc.do("auth", http.MethodPost, "/api/v1/auth/token", creds, &token); err != nil {
		return "", err
	}
	return token.Token, nil
}

type orderView struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (sc *simulationClient) createOrder(req *ingest.CreateOrderRequest) (*orderView, error) {
	var view orderView
	if err := sc.do("create", http.MethodPost, "/api/v1/orders", req, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (sc *simulationClient) updateOrder(req *ingest.UpdateOrderRequest) (*orderView, error) {
	var view orderView
	if err := sc.do("update", http.MethodPut, "/api/v1/orders", req, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (sc *simulationClient) getOrder(orderID string) (*orderView, error) {
	var view orderView
	if err := sc.do("get", http.MethodGet, "/api/v1/orders/"+orderID, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (sc *simulationClient) listHoldings() ([]holdings.Holding, error) {
	var hs []holdings.Holding
	if err := sc.do("holdings", http.MethodGet, "/api/v1/holdings", nil, &hs); err != nil {
		return nil, err
	}
	return hs, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// expectedLedger replays the provider's settled figures through the same
// ledger math the server uses
type expectedLedger struct {
	mu       sync.Mutex
	holdings map[holdings.Key]*holdings.Holding
}

func (l *expectedLedger) apply(order *provider.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := holdings.Key{OwnerID: apiKey, AssetSymbol: order.AssetSymbol, FiatCurrency: order.FiatCurrency}
	h, ok := l.holdings[key]
	switch order.Direction {
	case "BUY":
		invested := decimal.NewFromInt(*order.AmountPaid)
		if !ok {
			created, err := holdings.NewHolding(key, order.AssetAmount.Decimal, invested)
			if err == nil {
				l.holdings[key] = created
			}
			return
		}
		_ = h.Add(order.AssetAmount.Decimal, invested)
	case "SELL":
		if !ok {
			return
		}
		if effect, err := h.Reduce(order.AssetAmount.Decimal); err == nil && effect.Closed {
			delete(l.holdings, key)
		}
	}
}

type simStats struct {
	mu                 sync.Mutex
	ordersPlaced       int
	ordersSettled      int
	ordersFailed       int
	webhooksDelivered  int
	duplicatesReplayed int
	lateEventsReplayed int
	errors             int
}

func (s *simStats) add(f func(*simStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s)
}

// main runs the webhook replay simulation against in-process servers
func main() {
	numOrders := flag.Int("orders", 60, "orders per run")
	numWorkers := flag.Int("workers", 5, "concurrent order lifecycles")
	duplicates := flag.Int("duplicates", 4, "concurrent deliveries of each completion webhook")
	flag.Parse()

	mock := provider.NewMockProvider(providerAPIKey)
	mock.MinLatency, mock.MaxLatency = 5, 40
	mock.SuccessRate = 0.9

	go func() {
		if err := startProvider(mock); err != nil {
			log.Fatal().Err(err).Msg("Failed to start mock provider")
		}
	}()
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for servers to start
	time.Sleep(2 * time.Second)

	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	log.Info().
		Int("orders", *numOrders).
		Int("workers", *numWorkers).
		Int("duplicates", *duplicates).
		Msg("Starting simulation")

	expected := &expectedLedger{holdings: make(map[holdings.Key]*holdings.Holding)}
	stats := &simStats{}
	start := time.Now()

	// Each worker owns a set of symbols so sells settle after the buys they
	// reduce, which keeps the expected ledger deterministic.
	symbolNames := make([]string, 0, len(symbols))
	for s := range symbols {
		symbolNames = append(symbolNames, s)
	}
	sort.Strings(symbolNames)

	var wg sync.WaitGroup
	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			var owned []string
			for j, s := range symbolNames {
				if j%*numWorkers == workerID {
					owned = append(owned, s)
				}
			}
			if len(owned) == 0 {
				return
			}
			runWorker(workerID, *numOrders / *numWorkers, *duplicates, owned, mock, simClient, expected, stats)
		}(i)
	}
	wg.Wait()

	mismatches := verifyHoldings(simClient, expected)
	duration := time.Since(start)

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("ORDER INGEST SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
Orders placed:        %d
Orders settled:       %d
Orders failed:        %d
Webhooks delivered:   %d
Duplicate deliveries: %d
Late replays:         %d
Request errors:       %d
Holding mismatches:   %d
Duration:             %v
`, stats.ordersPlaced, stats.ordersSettled, stats.ordersFailed, stats.webhooksDelivered,
		stats.duplicatesReplayed, stats.lateEventsReplayed, stats.errors, mismatches,
		duration.Round(time.Millisecond))
	fmt.Println(strings.Repeat("=", 80))

	simClient.printPerformanceStats()

	if mismatches > 0 {
		log.Error().Int("mismatches", mismatches).Msg("Holdings do not match the settled orders")
		os.Exit(1)
	}
	log.Info().Dur("duration", duration).Msg("Simulation completed, holdings match")
}

// runWorker drives complete order lifecycles: create, progress, settle with
// concurrent duplicate completions, then a stale replay
func runWorker(
	workerID, numOrders, duplicates int,
	owned []string,
	mock *provider.MockProvider,
	simClient *simulationClient,
	expected *expectedLedger,
	stats *simStats,
) {
	logger := log.With().Int("worker_id", workerID).Logger()

	for i := 0; i < numOrders; i++ {
		symbol := owned[rand.Intn(len(owned))]
		direction := "BUY"
		if i > 2 && rand.Float64() < 0.3 {
			direction = "SELL"
		}

		order, err := mock.Place(provider.PlaceRequest{
			Direction:     direction,
			FiatAmount:    int64(rand.Intn(2000) + 50),
			FiatCurrency:  currencies[rand.Intn(len(currencies))],
			AssetSymbol:   symbol,
			Price:         symbols[symbol],
			WalletAddress: "wallet-" + uuid.NewString()[:8],
			Network:       "mainnet",
		})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to place provider order")
			continue
		}
		stats.add(func(s *simStats) { s.ordersPlaced++ })

		_, err = simClient.createOrder(&ingest.CreateOrderRequest{
			ID:            order.ID,
			Direction:     order.Direction,
			FiatAmount:    *order.FiatAmount,
			FiatCurrency:  order.FiatCurrency,
			AssetSymbol:   order.AssetSymbol,
			AssetAmount:   order.AssetAmount,
			WalletAddress: order.WalletAddress,
			Network:       order.Network,
			Status:        order.Status,
		})
		if err != nil {
			logger.Error().Err(err).Str("order_id", order.ID).Msg("Failed to create order")
			stats.add(func(s *simStats) { s.errors++ })
			continue
		}

		received, err := mock.Advance(order.ID, provider.StatusPaymentReceived, "")
		if err != nil {
			logger.Error().Err(err).Str("order_id", order.ID).Msg("Failed to advance provider order")
			continue
		}
		deliver(simClient, stats, logger, webhook(received))

		if rand.Float64() < 0.1 {
			declined, err := mock.Advance(order.ID, provider.StatusDeclined, "payment reversed")
			if err == nil {
				deliver(simClient, stats, logger, webhook(declined))
				stats.add(func(s *simStats) { s.ordersFailed++ })
			}
			continue
		}

		settled, err := mock.Advance(order.ID, provider.StatusSettled, "")
		if err != nil {
			logger.Error().Err(err).Str("order_id", order.ID).Msg("Failed to settle provider order")
			continue
		}

		// The provider retries its completion webhook; deliveries race.
		var wg sync.WaitGroup
		for d := 0; d < duplicates; d++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				deliver(simClient, stats, logger, webhook(settled))
			}()
		}
		wg.Wait()
		stats.add(func(s *simStats) {
			s.ordersSettled++
			s.duplicatesReplayed += duplicates - 1
		})
		expected.apply(settled)

		// A late copy of an earlier event must not reopen the order.
		deliver(simClient, stats, logger, webhook(received))
		stats.add(func(s *simStats) { s.lateEventsReplayed++ })

		view, err := simClient.getOrder(order.ID)
		if err != nil {
			logger.Error().Err(err).Str("order_id", order.ID).Msg("Failed to read order")
			continue
		}
		if view.Status != "COMPLETED" {
			logger.Error().Str("order_id", order.ID).Str("status", view.Status).Msg("Settled order is not completed")
			stats.add(func(s *simStats) { s.errors++ })
		}

		logger.Info().
			Str("order_id", order.ID).
			Str("direction", order.Direction).
			Str("symbol", order.AssetSymbol).
			Str("asset_amount", settled.AssetAmount.Decimal.String()).
			Int64("amount_paid", *settled.AmountPaid).
			Msg("Order settled")

		time.Sleep(time.Duration(rand.Intn(100)) * time.Millisecond)
	}
}

// webhook converts a provider order into the update payload it would post
func webhook(order *provider.Order) *ingest.UpdateOrderRequest {
	req := &ingest.UpdateOrderRequest{
		ID:              order.ID,
		FiatAmount:      order.FiatAmount,
		FiatCurrency:    order.FiatCurrency,
		AssetSymbol:     order.AssetSymbol,
		AssetAmount:     order.AssetAmount,
		Status:          order.Status,
		AmountPaid:      order.AmountPaid,
		TotalFee:        order.TotalFee,
		FiatAmountInUSD: order.FiatAmountInUSD,
	}
	for _, h := range order.StatusHistory {
		req.StatusHistory = append(req.StatusHistory, ingest.StatusHistoryItem{
			Status:    h.Status,
			Timestamp: h.Timestamp,
			Message:   h.Message,
		})
	}
	return req
}

func deliver(simClient *simulationClient, stats *simStats, logger zerolog.Logger, req *ingest.UpdateOrderRequest) {
	if _, err := simClient.updateOrder(req); err != nil {
		logger.Error().Err(err).Str("order_id", req.ID).Msg("Webhook delivery failed")
		stats.add(func(s *simStats) { s.errors++ })
		return
	}
	stats.add(func(s *simStats) { s.webhooksDelivered++ })
}

// verifyHoldings compares the server's holdings with the expected ledger and
// returns the number of differences
func verifyHoldings(simClient *simulationClient, expected *expectedLedger) int {
	actual, err := simClient.listHoldings()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list holdings")
		return len(expected.holdings) + 1
	}

	mismatches := 0
	seen := make(map[holdings.Key]bool)
	for _, h := range actual {
		key := h.Key()
		seen[key] = true
		want, ok := expected.holdings[key]
		if !ok {
			log.Error().Str("symbol", key.AssetSymbol).Str("currency", key.FiatCurrency).Msg("Unexpected holding")
			mismatches++
			continue
		}
		// SQLite keeps decimals as REAL, so compare at asset and cent precision.
		if !want.Quantity.Round(8).Equal(h.Quantity.Round(8)) ||
			!want.TotalInvested.Round(2).Equal(h.TotalInvested.Round(2)) {
			log.Error().
				Str("symbol", key.AssetSymbol).
				Str("currency", key.FiatCurrency).
				Str("want_quantity", want.Quantity.String()).
				Str("got_quantity", h.Quantity.String()).
				Str("want_invested", want.TotalInvested.String()).
				Str("got_invested", h.TotalInvested.String()).
				Msg("Holding mismatch")
			mismatches++
			continue
		}
		fmt.Printf("%-5s %-4s qty=%-22s invested=%-14s avg_cost=%s\n",
			key.AssetSymbol, key.FiatCurrency, h.Quantity, h.TotalInvested, h.AvgCost.StringFixed(2))
	}
	for key := range expected.holdings {
		if !seen[key] {
			log.Error().Str("symbol", key.AssetSymbol).Str("currency", key.FiatCurrency).Msg("Missing holding")
			mismatches++
		}
	}
	return mismatches
}

// startProvider serves the mock provider's partner API
func startProvider(mock *provider.MockProvider) error {
	router := gin.New()
	router.Use(gin.Recovery())
	provider.NewGinHandlers(mock).RegisterRoutes(router)
	return router.Run(":" + providerPort)
}

// startServer runs the ingest API on a fresh in-memory database, reconciling
// against the mock provider
func startServer() error {
	cfg := &config.Config{
		DBDriver:        "sqlite",
		DBDSN:           fmt.Sprintf("file:simulation-%s?mode=memory&cache=shared", uuid.NewString()),
		ProviderTimeout: 500 * time.Millisecond,
	}
	db, err := database.NewDatabase(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	authService := auth.NewService("simulation-secret-key")
	authService.RegisterAPICredentials(apiKey, apiSecret)

	fetcher := reconcile.NewHTTPFetcher("http://localhost:"+providerPort, providerAPIKey, cfg.ProviderTimeout)
	processor := settlement.NewProcessor(settlement.NewDatabase(db), nil)
	ingestService := ingest.NewService(processor, ingest.NewDatabase(db), fetcher, cfg.ProviderTimeout)

	router := gin.New()
	router.Use(gin.Recovery())
	authHandlers := auth.NewGinHandlers(authService)
	ingestHandlers := ingest.NewGinHandlers(ingestService)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/token", authHandlers.GenerateTokenHandler())

		protected := v1.Group("", middleware.JWTAuth(authService))
		{
			protected.POST("/orders", ingestHandlers.CreateOrderHandler())
			protected.PUT("/orders", ingestHandlers.UpdateOrderHandler())
			protected.GET("/orders/:order_id", ingestHandlers.GetOrderHandler())
			protected.GET("/holdings", ingestHandlers.ListHoldingsHandler())
		}
	}

	srv := &http.Server{Addr: ":" + serverPort, Handler: router}
	return srv.ListenAndServe()
}
