package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"clinicbooking/pkg/config"
	"clinicbooking/pkg/session"
)

// simrace creates one guest booking and then races n ops transitions against it.
// Every accepted transition must leave exactly one history entry behind; losers come back
// as CONFLICT or INVALID_TRANSITION.
func main() {
	var (
		api      = flag.String("api", "http://localhost:4000", "API base url")
		clinicID = flag.String("clinic", "", "clinic id to book against")
		n        = flag.Int("n", 8, "concurrent transitions")
	)
	flag.Parse()

	if *clinicID == "" {
		fmt.Fprintln(os.Stderr, "missing -clinic")
		os.Exit(2)
	}
	cfg := config.Load()
	if cfg.Session.Secret == "" {
		fmt.Fprintln(os.Stderr, "missing SESSION_SECRET")
		os.Exit(2)
	}

	base := strings.TrimSuffix(*api, "/")
	hc := &http.Client{Timeout: 10 * time.Second}

	status, body, err := post(hc, base+"/v1/booking-requests", "", map[string]any{
		"clinicId":      *clinicID,
		"procedure":     "Race check",
		"preferredDate": time.Now().AddDate(0, 0, 14).Format(time.DateOnly),
		"guestEmail":    fmt.Sprintf("race+%d@example.com", time.Now().UnixNano()),
	})
	if err != nil || status != http.StatusCreated {
		fmt.Fprintf(os.Stderr, "create: status=%d err=%v body=%s\n", status, err, body)
		os.Exit(1)
	}
	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		fmt.Fprintf(os.Stderr, "decode create: %v\n", err)
		os.Exit(1)
	}

	targets := []string{"contactingHospital", "needsMoreInfo", "cancelled"}
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = map[string]int{}
	)
	start := make(chan struct{})
	for i := 0; i < *n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := session.Issue(session.Session{UserID: fmt.Sprintf("racer-%d", i), Role: session.RoleOperator},
				cfg.Session.Secret, cfg.Session.OpsAudience, time.Now(), 5*time.Minute)
			if err != nil {
				return
			}
			<-start
			status, body, err := post(hc, base+"/v1/ops/booking-requests/"+created.Data.ID+"/status", token,
				map[string]any{"status": targets[i%len(targets)], "note": fmt.Sprintf("racer %d", i)})

			outcome := fmt.Sprintf("%d", status)
			var env struct {
				Code string `json:"code"`
			}
			if err != nil {
				outcome = "error"
			} else if json.Unmarshal(body, &env) == nil && env.Code != "" {
				outcome = fmt.Sprintf("%d %s", status, env.Code)
			}
			mu.Lock()
			results[outcome]++
			mu.Unlock()
		}(i)
	}
	close(start)
	wg.Wait()

	fmt.Printf("booking_id=%s racers=%d\n", created.Data.ID, *n)
	for outcome, count := range results {
		fmt.Printf("  %-28s %d\n", outcome, count)
	}

	opsToken, err := session.Issue(session.Session{UserID: "simrace", Role: session.RoleOperator},
		cfg.Session.Secret, cfg.Session.OpsAudience, time.Now(), 5*time.Minute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}
	req, _ := http.NewRequest(http.MethodGet, base+"/v1/ops/booking-requests/"+created.Data.ID, nil)
	req.Header.Set("Authorization", "Bearer "+opsToken)
	resp, err := hc.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read back: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	var got struct {
		Data struct {
			Status        string            `json:"status"`
			StatusHistory []json.RawMessage `json:"statusHistory"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		fmt.Fprintf(os.Stderr, "decode read back: %v\n", err)
		os.Exit(1)
	}

	winners := results["200"]
	fmt.Printf("final status=%s history=%d winners=%d\n", got.Data.Status, len(got.Data.StatusHistory), winners)
	if winners == 0 || len(got.Data.StatusHistory) != winners+1 {
		fmt.Fprintln(os.Stderr, "history does not match accepted transitions")
		os.Exit(1)
	}
}

func post(hc *http.Client, url, bearer string, payload any) (int, []byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body, nil
}
