package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Result is one HTTP outcome, aggregated by printSummary.
type Result struct {
	Status   int
	Code     string
	Replayed bool
	Err      error
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	cardID := flag.String("card", "", "card id in the created stage")
	tenantID := flag.String("tenant", "", "tenant id, used to read back the transition history")
	role := flag.String("role", "tenant_admin", "role header for the history call")
	total := flag.Int("n", 50, "requests per round")
	concurrency := flag.Int("c", 50, "max concurrency")
	flag.Parse()

	if *cardID == "" {
		fmt.Fprintln(os.Stderr, "-card is required")
		os.Exit(2)
	}

	client := &http.Client{Timeout: 5 * time.Second}

	// 1) same idempotency key from many goroutines: one trigger, the rest replay or report duplicate
	key := uuid.NewString()
	fmt.Printf("start same-key test: card=%s key=%s n=%d concurrency=%d\n", *cardID, key, *total, *concurrency)
	results := run(*total, *concurrency, func(int) Result {
		return scanOnce(client, *baseURL, *cardID, key)
	})
	printSummary("same_key", results)

	// 2) a fresh key per request: the card is already triggered, so every scan is a conflict or rate limited
	fmt.Printf("\nstart distinct-key test: n=%d\n", *total)
	results2 := run(*total, *concurrency, func(int) Result {
		return scanOnce(client, *baseURL, *cardID, uuid.NewString())
	})
	printSummary("distinct_keys", results2)

	if *tenantID != "" {
		n, err := countTriggers(client, *baseURL, *cardID, *tenantID, *role)
		if err != nil {
			fmt.Println("history check err:", err)
			return
		}
		fmt.Println("\ntransitions into triggered:", n)
	}
}

func run(total, concurrency int, do func(idx int) Result) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = do(idx)
		}(i)
	}

	wg.Wait()
	return results
}

func scanOnce(client *http.Client, baseURL, cardID, key string) Result {
	b, _ := json.Marshal(map[string]any{"idempotency_key": key})
	url := fmt.Sprintf("%s/api/scan/%s", baseURL, cardID)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var out struct {
		Code string `json:"code"`
		Data struct {
			Replayed bool `json:"replayed"`
		} `json:"data"`
		Resolution string `json:"resolution"`
	}
	_ = json.Unmarshal(body, &out)
	code := out.Code
	if out.Resolution != "" {
		code += "/" + out.Resolution
	}
	return Result{Status: resp.StatusCode, Code: code, Replayed: out.Data.Replayed}
}

// printSummary prints the distribution of status and error codes.
func printSummary(name string, results []Result) {
	count := map[string]int{}
	errCount, replayed := 0, 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		if r.Replayed {
			replayed++
		}
		count[fmt.Sprintf("%d %s", r.Status, r.Code)]++
	}
	keys := make([]string, 0, len(count))
	for k := range count {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("[%s] summary:\n", name)
	for _, k := range keys {
		fmt.Printf("  %s -> %d\n", k, count[k])
	}
	if replayed > 0 {
		fmt.Printf("  replayed -> %d\n", replayed)
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}

func countTriggers(client *http.Client, baseURL, cardID, tenantID, role string) (int, error) {
	url := fmt.Sprintf("%s/api/cards/%s/transitions", baseURL, cardID)
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("X-Tenant-ID", tenantID)
	req.Header.Set("X-User-Role", role)
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}

	var out struct {
		Data []struct {
			ToStage string `json:"to_stage"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return 0, err
	}
	n := 0
	for _, t := range out.Data {
		if t.ToStage == "triggered" {
			n++
		}
	}
	return n, nil
}
