// Command loadtest drives register/login traffic against a running zkauth
// server and reports latency and status distributions. The verify path costs
// two 1536-bit exponentiations server-side, so this is the tool that shows
// whether the CPU pool holds up under a burst.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ocx/zkauth/internal/zkp"
)

// LoadTestConfig holds load test parameters.
type LoadTestConfig struct {
	ServerURL   string
	Logins      int
	Concurrency int
	Users       int
}

// LoadTestStats tracks test outcomes.
type LoadTestStats struct {
	Accepted   uint64
	Rejected   uint64
	Errors     uint64
	Latencies  []time.Duration
	latenciesM sync.Mutex
}

type testUser struct {
	username string
	x        *big.Int
}

func main() {
	serverURL := flag.String("url", "http://localhost:8080", "zkauth server base URL")
	logins := flag.Int("logins", 200, "Number of login round trips")
	concurrency := flag.Int("concurrency", 16, "Concurrent workers")
	users := flag.Int("users", 8, "Distinct registered users to rotate through")
	flag.Parse()

	cfg := LoadTestConfig{
		ServerURL:   *serverURL,
		Logins:      *logins,
		Concurrency: *concurrency,
		Users:       *users,
	}

	slog.Info("Starting zkauth load test",
		"url", cfg.ServerURL,
		"logins", cfg.Logins,
		"concurrency", cfg.Concurrency,
		"users", cfg.Users)

	stats := run(cfg)
	printResults(stats)
}

func run(cfg LoadTestConfig) *LoadTestStats {
	gr := zkp.NewGroup()
	client := &http.Client{Timeout: 60 * time.Second}

	// Register the user population up front.
	runID := time.Now().UnixNano() % 1_000_000
	testUsers := make([]testUser, 0, cfg.Users)
	for i := 0; i < cfg.Users; i++ {
		x, err := gr.RandomScalar()
		if err != nil {
			slog.Error("keygen failed", "error", err)
			continue
		}
		u := testUser{username: fmt.Sprintf("lt_%d_u%d", runID, i), x: x}
		y := gr.ModPow(gr.G(), x)
		status, err := post(client, cfg.ServerURL+"/api/v1/auth/register", map[string]string{
			"username":   u.username,
			"publicKeyY": zkp.EncodeHex(y),
			"salt":       "deadbeef",
		}, nil)
		if err != nil || status != http.StatusCreated {
			slog.Error("register failed", "username", u.username, "status", status, "error", err)
			continue
		}
		testUsers = append(testUsers, u)
	}
	if len(testUsers) == 0 {
		slog.Error("no users registered; aborting")
		return &LoadTestStats{}
	}

	stats := &LoadTestStats{}
	var next atomic.Int64
	var wg sync.WaitGroup
	wg.Add(cfg.Concurrency)
	for w := 0; w < cfg.Concurrency; w++ {
		go func() {
			defer wg.Done()
			for {
				n := next.Add(1)
				if n > int64(cfg.Logins) {
					return
				}
				u := testUsers[int(n)%len(testUsers)]
				start := time.Now()
				ok, err := loginOnce(client, gr, cfg.ServerURL, u)
				elapsed := time.Since(start)

				stats.latenciesM.Lock()
				stats.Latencies = append(stats.Latencies, elapsed)
				stats.latenciesM.Unlock()

				switch {
				case err != nil:
					atomic.AddUint64(&stats.Errors, 1)
				case ok:
					atomic.AddUint64(&stats.Accepted, 1)
				default:
					atomic.AddUint64(&stats.Rejected, 1)
				}
			}
		}()
	}
	wg.Wait()
	return stats
}

// loginOnce performs one full challenge/verify round trip.
func loginOnce(client *http.Client, gr *zkp.Group, serverURL string, u testUser) (bool, error) {
	r, err := gr.RandomScalar()
	if err != nil {
		return false, err
	}
	bigR := gr.ModPow(gr.G(), r)

	var ch struct {
		ChallengeID string `json:"challengeId"`
		C           string `json:"c"`
	}
	status, err := post(client, serverURL+"/api/v1/auth/challenge", map[string]string{
		"username": u.username,
		"clientR":  zkp.EncodeHex(bigR),
	}, &ch)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("challenge returned %d", status)
	}

	c, err := zkp.DecodeHex(ch.C)
	if err != nil {
		return false, err
	}
	s := new(big.Int).Mul(c, u.x)
	s.Add(s, r)
	s.Mod(s, gr.Q())

	status, err = post(client, serverURL+"/api/v1/auth/verify", map[string]string{
		"challengeId": ch.ChallengeID,
		"s":           zkp.EncodeHex(s),
		"clientR":     zkp.EncodeHex(bigR),
		"username":    u.username,
	}, nil)
	if err != nil {
		return false, err
	}
	return status == http.StatusOK, nil
}

func post(client *http.Client, url string, body interface{}, out interface{}) (int, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func printResults(stats *LoadTestStats) {
	total := stats.Accepted + stats.Rejected + stats.Errors
	fmt.Println("\n========== RESULTS ==========")
	fmt.Printf("logins:    %d\n", total)
	fmt.Printf("accepted:  %d\n", stats.Accepted)
	fmt.Printf("rejected:  %d\n", stats.Rejected)
	fmt.Printf("errors:    %d\n", stats.Errors)

	if len(stats.Latencies) == 0 {
		return
	}
	sort.Slice(stats.Latencies, func(i, j int) bool { return stats.Latencies[i] < stats.Latencies[j] })
	var sum time.Duration
	for _, l := range stats.Latencies {
		sum += l
	}
	pct := func(p float64) time.Duration {
		idx := int(p * float64(len(stats.Latencies)-1))
		return stats.Latencies[idx]
	}
	fmt.Printf("avg:       %v\n", sum/time.Duration(len(stats.Latencies)))
	fmt.Printf("p50:       %v\n", pct(0.50))
	fmt.Printf("p95:       %v\n", pct(0.95))
	fmt.Printf("p99:       %v\n", pct(0.99))
	fmt.Printf("max:       %v\n", stats.Latencies[len(stats.Latencies)-1])
}
