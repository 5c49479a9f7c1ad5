package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/abkawan/banka-ledger/internal/auth"
	"github.com/abkawan/banka-ledger/internal/models"
	"github.com/shopspring/decimal"
)

const (
	numAccounts     = 50         // Number of accounts to create, stays under the creation rate limit
	numTransactions = 10000      // Total number of transactions
	maxConcurrency  = 200        // Maximum number of concurrent requests
	initialBalance  = "10000.00" // Initial balance for each account
	maxAmountCents  = 100000     // Maximum transaction amount in cents
	successColor    = "\033[32m" // Green
	errorColor      = "\033[31m" // Red
	infoColor       = "\033[34m" // Blue
	resetColor      = "\033[0m"  // Reset color
)

type envelope struct {
	Status int             `json:"status"`
	Error  string          `json:"error"`
	Data   json.RawMessage `json:"data"`
}

type client struct {
	baseURL    string
	clientTok  string
	staffTok   string
	httpClient *http.Client
}

func main() {
	baseURL := getEnv("BASE_URL", "http://localhost:8080") + "/api/v1"
	secret := getEnv("JWT_SECRET", "")
	if secret == "" {
		fmt.Printf("%sJWT_SECRET must match the server's secret%s\n", errorColor, resetColor)
		os.Exit(1)
	}

	c, err := newClient(baseURL, secret)
	if err != nil {
		fmt.Printf("%sfailed to mint tokens: %v%s\n", errorColor, err, resetColor)
		os.Exit(1)
	}

	fmt.Printf("%sstarting a heavy load test with %d accounts and %d transactions%s\n",
		infoColor, numAccounts, numTransactions, resetColor)

	// Create accounts
	accounts := c.createAccounts(numAccounts)
	fmt.Printf("%sCreated %d active accounts%s\n", successColor, len(accounts), resetColor)
	if len(accounts) == 0 {
		os.Exit(1)
	}

	// Create semaphore for limiting concurrency
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	// Track performance
	startTime := time.Now()
	failures := make(map[int]int)
	successCount := 0
	var mu sync.Mutex

	fmt.Printf("%slaunching %d transactions with max concurrency of %d%s\n",
		infoColor, numTransactions, maxConcurrency, resetColor)

	for i := 0; i < numTransactions; i++ {
		wg.Add(1)
		sem <- struct{}{} // Acquire semaphore

		go func(txNum int) {
			defer wg.Done()
			defer func() { <-sem }() // Release semaphore

			// Randomly select an account
			number := accounts[rand.Intn(len(accounts))]

			// Randomly decide between credit and debit
			op := "credit"
			if rand.Intn(2) == 1 {
				op = "debit"
			}

			// Random amount between 0.01 and maxAmountCents
			amount := decimal.New(int64(1+rand.Intn(maxAmountCents)), -2)

			txID, status, err := c.ledger(number, op, amount)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[status]++
				if txNum%100 == 0 { // Only log some failures to avoid overwhelming output
					fmt.Printf("%sTransaction failed: %v%s\n", errorColor, err, resetColor)
				}
				return
			}
			successCount++
			if txNum%500 == 0 { // Log every 500th successful transaction
				fmt.Printf("%sTransaction %d: %s of %s on account %d (txID: %s)%s\n",
					successColor, txNum, op, amount.StringFixed(2), number, txID, resetColor)
			}
		}(i)
	}

	// Wait for all transactions to complete
	wg.Wait()
	duration := time.Since(startTime)

	fmt.Printf("\n%s=== heavy load Test Results ===%s\n", infoColor, resetColor)
	fmt.Printf("Total number of transactions: %d\n", numTransactions)
	fmt.Printf("Successful: %s%d (%.1f%%)%s\n",
		successColor, successCount, float64(successCount)/float64(numTransactions)*100, resetColor)
	for status, n := range failures {
		fmt.Printf("Failed with status %d: %s%d%s\n", status, errorColor, n, resetColor)
	}
	fmt.Printf("Duration: %.2f seconds\n", duration.Seconds())
	fmt.Printf("Throughput: %.2f transactions/second\n", float64(numTransactions)/duration.Seconds())

	// Check final balances
	fmt.Printf("\n%sReconciling accounts against their ledgers...%s\n", infoColor, resetColor)
	if !c.reconcileAll(accounts) {
		os.Exit(1)
	}
}

func newClient(baseURL, secret string) (*client, error) {
	clientTok, err := auth.IssueToken(secret, auth.Actor{ID: "loadtest-client", Role: auth.RoleClient}, time.Hour)
	if err != nil {
		return nil, err
	}
	staffTok, err := auth.IssueToken(secret, auth.Actor{ID: "loadtest-staff", Role: auth.RoleStaff}, time.Hour)
	if err != nil {
		return nil, err
	}
	return &client{
		baseURL:    baseURL,
		clientTok:  clientTok,
		staffTok:   staffTok,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// createAccounts opens count accounts as a client and activates them as staff
func (c *client) createAccounts(count int) []int64 {
	numbers := make([]int64, 0, count)

	for i := 0; i < count; i++ {
		var account models.AccountResponse
		_, err := c.call(c.clientTok, http.MethodPost, "/accounts",
			map[string]string{"type": "savings", "balance": initialBalance}, http.StatusCreated, &account)
		if err != nil {
			fmt.Printf("%sFailed to create account: %v%s\n", errorColor, err, resetColor)
			continue
		}

		_, err = c.call(c.staffTok, http.MethodPatch, fmt.Sprintf("/accounts/%d", account.AccountNumber),
			map[string]string{"status": string(models.StatusActive)}, http.StatusOK, nil)
		if err != nil {
			fmt.Printf("%sFailed to activate account %d: %v%s\n", errorColor, account.AccountNumber, err, resetColor)
			continue
		}

		numbers = append(numbers, account.AccountNumber)
		if i%10 == 0 || i == count-1 {
			fmt.Printf("%screated account %d/%d: %d with balance %s%s\n",
				successColor, i+1, count, account.AccountNumber, account.Balance.StringFixed(2), resetColor)
		}
	}

	return numbers
}

// ledger posts a credit or debit and returns the transaction id
func (c *client) ledger(number int64, op string, amount decimal.Decimal) (string, int, error) {
	var tx models.TransactionResponse
	status, err := c.call(c.staffTok, http.MethodPost, fmt.Sprintf("/transactions/%d/%s", number, op),
		map[string]string{"amount": amount.StringFixed(2)}, http.StatusCreated, &tx)
	if err != nil {
		return "", status, err
	}
	return tx.TransactionID, status, nil
}

// reconcileAll checks every account against its ledger
func (c *client) reconcileAll(numbers []int64) bool {
	ok := true
	for _, n := range numbers {
		var rec models.Reconciliation
		if _, err := c.call(c.staffTok, http.MethodGet, fmt.Sprintf("/accounts/%d/reconcile", n), nil, http.StatusOK, &rec); err != nil {
			fmt.Printf("%sFailed to reconcile account %d: %v%s\n", errorColor, n, err, resetColor)
			ok = false
			continue
		}
		if !rec.Consistent {
			fmt.Printf("%sAccount %d: balance %s, ledger says %s (%d entries)%s\n",
				errorColor, n, rec.Balance.StringFixed(2), rec.ExpectedBalance.StringFixed(2), rec.Entries, resetColor)
			ok = false
			continue
		}
		fmt.Printf("%sAccount %d: balance %s matches %d entries%s\n",
			successColor, n, rec.Balance.StringFixed(2), rec.Entries, resetColor)
	}
	return ok
}

func (c *client) call(token, method, path string, body interface{}, want int, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal JSON: %v", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %v", err)
	}
	if resp.StatusCode != want {
		return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, env.Error)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode data: %v", err)
		}
	}
	return resp.StatusCode, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
