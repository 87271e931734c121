package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/carbon-exchange/internal/adapter/payment"
	"github.com/rl1809/carbon-exchange/internal/adapter/storage"
	"github.com/rl1809/carbon-exchange/internal/core/domain"
	"github.com/rl1809/carbon-exchange/internal/core/service"
)

const (
	redisAddr     = "localhost:6379"
	owner         = "platform"
	seller        = "stress-seller"
	listedCredits = 20
	pricePerUnit  = 10
	totalBuyers   = 50
	buyerFunds    = 100
)

func main() {
	ctx := context.Background()

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	// Clear previous test data
	keys, _ := rdb.Keys(ctx, "{funds}:*").Result()
	for _, k := range keys {
		rdb.Del(ctx, k)
	}

	payments := payment.NewRedisGateway(rdb)
	for i := range totalBuyers {
		if err := payments.Deposit(ctx, buyerID(i), buyerFunds); err != nil {
			log.Fatalf("failed to fund buyer: %v", err)
		}
	}

	book, err := service.NewBook(service.Config{Owner: owner, FeeBasisPoints: 250},
		storage.NewMemoryEventStore(), payments, service.WithOutboxSize(totalBuyers*2))
	if err != nil {
		log.Fatalf("failed to create book: %v", err)
	}
	defer book.Close()

	ledger := service.NewCreditLedger(book)
	market := service.NewMarketplace(book)
	if _, err := ledger.Mint(ctx, owner, seller, listedCredits, "stress-project", 2025, "XX"); err != nil {
		log.Fatalf("failed to mint: %v", err)
	}
	listingID, err := market.CreateListing(ctx, seller, listedCredits, pricePerUnit, 2025, "stress-project")
	if err != nil {
		log.Fatalf("failed to list: %v", err)
	}

	// Counters
	var successCount atomic.Int32
	var soldOutCount atomic.Int32
	var failCount atomic.Int32

	// Spawn concurrent buyers
	var wg sync.WaitGroup
	start := time.Now()

	for i := range totalBuyers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			_, err := market.BuyCredits(ctx, buyerID(id), listingID, 1, pricePerUnit)
			switch domain.KindOf(err) {
			case domain.KindNone:
				successCount.Add(1)
			case domain.KindListingInactive, domain.KindInsufficientBalance:
				soldOutCount.Add(1)
			default:
				failCount.Add(1)
				log.Printf("buyer %d: %v", id, err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	soldOut := soldOutCount.Load()
	fail := failCount.Load()
	supply := book.Supply()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Listed Credits:   %d\n", listedCredits)
	fmt.Printf("Total Buyers:     %d\n", totalBuyers)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Printf("Events:           %d\n", book.Seq())
	fmt.Println("==========================================")

	// Assertions
	if success == listedCredits && soldOut == totalBuyers-listedCredits && fail == 0 {
		fmt.Printf("PASS: Exactly %d purchases succeeded, %d sold out\n", listedCredits, totalBuyers-listedCredits)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d sold out, got %d/%d (%d failed)\n",
			listedCredits, totalBuyers-listedCredits, success, soldOut, fail)
	}

	if supply.Escrowed == 0 && supply.Minted == supply.Circulating+supply.Retired {
		fmt.Println("PASS: Escrow emptied and credits conserved")
	} else {
		fmt.Printf("FAIL: Unexpected supply %+v\n", supply)
	}

	// Verify funds moved exactly once per purchase
	var spent int64
	for i := range totalBuyers {
		balance, err := payments.Balance(ctx, buyerID(i))
		if err != nil {
			log.Fatalf("failed to read balance: %v", err)
		}
		spent += buyerFunds - balance
	}
	sellerFunds, _ := payments.Balance(ctx, seller)
	fees, _ := payments.Balance(ctx, owner)
	fmt.Printf("Buyers Spent:     %d\n", spent)
	fmt.Printf("Seller Received:  %d\n", sellerFunds)
	fmt.Printf("Fees Collected:   %d\n", fees)

	if spent == int64(success)*pricePerUnit && spent == sellerFunds+fees {
		fmt.Println("PASS: Payments settled exactly")
	} else {
		fmt.Println("FAIL: Payments do not add up")
	}
}

func buyerID(i int) string {
	return fmt.Sprintf("buyer-%d", i)
}
