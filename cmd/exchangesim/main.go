// Command exchangesim is a thin demo harness: it boots a Facade,
// registers a handful of instruments, fires a burst of randomly
// generated orders through it, and prints the resulting top-of-book
// and volume statistics. It is a direct descendant of the load-test
// generator this simulator's matching core was grounded on, adapted to
// drive the facade's public surface with decimal prices instead of
// poking engine internals or touching a database.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/lightsgoout/xchange/internal/config"
	"github.com/lightsgoout/xchange/internal/exchange"
	"github.com/lightsgoout/xchange/internal/notify"
	"github.com/lightsgoout/xchange/internal/telemetry"
)

var tickers = []string{"AAPL", "GOOG", "MSFT", "AMZN"}

var traderChoices = []string{"ID0", "ID1", "ID2", "ID3", "ID4", "ID5", "ID6", "ID7", "ID8"}

// consoleSubscriber prints every order update and trade it receives;
// quotes are accepted without printing. It never fails a delivery, so
// it is never evicted.
type consoleSubscriber struct{}

func (consoleSubscriber) NotifyOrder(u notify.OrderUpdate) error {
	fmt.Printf("order  client=%d order=%d status=%-16s executed=%d avg=%s\n",
		u.ClientID, u.OrderID, u.Status, u.ExecutedQuantity, u.AverageExecutedPrice)
	return nil
}

func (consoleSubscriber) NotifyTrade(tp notify.TradePrint) error {
	fmt.Printf("trade  %-5s %-4s price=%-10s qty=%d\n", tp.Ticker, tp.AggressorSide, tp.Price, tp.Quantity)
	return nil
}

func (consoleSubscriber) NotifyQuote(qp notify.QuotePrint) error {
	return nil
}

// randomOrder picks a random trader, side, price, and quantity around
// basePrice, the same shape of randomization the original load
// generator used, adapted to produce decimal prices centered around a
// per-ticker reference rather than a raw integer tick count.
func randomOrder(basePrice decimal.Decimal) (trader, side string, price decimal.Decimal, quantity int64) {
	trader = traderChoices[rand.Intn(len(traderChoices))]
	if rand.Intn(2) == 0 {
		side = "BUY"
	} else {
		side = "SELL"
	}
	offset := decimal.New(int64(rand.Intn(200)-100), -2) // +/- 1.00 in cents
	price = basePrice.Add(offset)
	if price.IsNegative() {
		price = decimal.New(1, -2)
	}
	quantity = int64(rand.Intn(1000) + 1)
	return
}

func main() {
	count := flag.Int("orders", 5000, "number of random orders to submit")
	marketFraction := flag.Float64("market-fraction", 0.1, "fraction of submitted orders that are MARKET orders")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	telemetry.ConfigureLogging(cfg.Logging.Level, cfg.Logging.Format)

	metrics := telemetry.NewMetrics()
	if cfg.Telemetry.Enabled {
		go func() {
			log.Info().Str("addr", cfg.Telemetry.ListenAddress).Msg("serving /metrics")
			http.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.Telemetry.ListenAddress, nil); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	f := exchange.New(cfg, metrics)
	for _, t := range tickers {
		f.RegisterInstrument(t)
	}

	clientIDs := make(map[string]uint64, len(traderChoices))
	for _, name := range traderChoices {
		id, _ := f.Register(consoleSubscriber{})
		clientIDs[name] = id
	}

	basePrices := map[string]decimal.Decimal{
		"AAPL": decimal.New(19000, -2),
		"GOOG": decimal.New(15000, -2),
		"MSFT": decimal.New(32000, -2),
		"AMZN": decimal.New(13500, -2),
	}

	stopDepthSampler := make(chan struct{})
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.ObserveQueueDepths(f.QueueDepths())
			case <-stopDepthSampler:
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < *count; i++ {
		ticker := tickers[rand.Intn(len(tickers))]
		trader, side, price, quantity := randomOrder(basePrices[ticker])
		orderType := "LIMIT"
		if rand.Float64() < *marketFraction {
			orderType = "MARKET"
		}
		clientID := clientIDs[trader]

		wg.Add(1)
		go func(ticker, side, orderType string, price decimal.Decimal, quantity int64, clientID uint64) {
			defer wg.Done()
			if _, err := f.SubmitOrder(ticker, clientID, side, orderType, price, quantity); err != nil {
				log.Debug().Err(err).Str("ticker", ticker).Msg("order rejected at submission")
			}
		}(ticker, side, orderType, price, quantity, clientID)
	}
	wg.Wait()
	close(stopDepthSampler)

	// Give the pipeline a moment to drain the matching and fan-out
	// queues before printing the final snapshot.
	time.Sleep(200 * time.Millisecond)

	fmt.Println()
	fmt.Println("=== final market snapshot ===")
	for _, t := range tickers {
		bestBid, _ := f.BestBid(t)
		bestAsk, _ := f.BestAsk(t)
		last, _ := f.LastTradedPrice(t)
		buyVol, _ := f.BuyVolume(t)
		sellVol, _ := f.SellVolume(t)
		avg, _ := f.AveragePrice(t)
		fmt.Printf("%-5s bid=%-10s ask=%-10s last=%-10s buyVol=%-8d sellVol=%-8d avgPrice=%s\n",
			t, bestBid, bestAsk, last, buyVol, sellVol, avg)
	}

	f.Shutdown()
}
