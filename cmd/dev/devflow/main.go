package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"clinicbooking/pkg/config"
	"clinicbooking/pkg/session"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type client struct {
	base string
	http *http.Client
}

func (c client) do(method, path, bearer string, body any, out any) (int, envelope, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, envelope{}, err
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return 0, envelope{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, envelope{}, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return resp.StatusCode, env, fmt.Errorf("decode %s %s: %w (body=%s)", method, path, err, string(raw))
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.StatusCode, env, err
		}
	}
	return resp.StatusCode, env, nil
}

var accessCodeRe = regexp.MustCompile(`^[A-Z0-9]{8}$`)

func main() {
	var (
		baseURL  = flag.String("api", "", "API base url (defaults to http://localhost<HTTP_ADDR>)")
		clinicID = flag.String("clinic", "", "clinic id to book against (see cmd/seed)")
		email    = flag.String("email", "a@x.com", "guest email")
	)
	flag.Parse()

	if *clinicID == "" {
		fmt.Fprintln(os.Stderr, "missing -clinic")
		os.Exit(2)
	}

	cfg := config.Load()
	if cfg.Session.Secret == "" {
		fmt.Fprintln(os.Stderr, "missing SESSION_SECRET (env or .env)")
		os.Exit(2)
	}
	if *baseURL == "" {
		*baseURL = defaultBaseURL(cfg.HTTPAddr)
	}

	opsToken, err := session.Issue(session.Session{UserID: "devflow", Role: session.RoleOperator},
		cfg.Session.Secret, cfg.Session.OpsAudience, time.Now(), 15*time.Minute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue ops token: %v\n", err)
		os.Exit(1)
	}

	c := client{base: strings.TrimSuffix(*baseURL, "/"), http: &http.Client{Timeout: 10 * time.Second}}

	var created struct {
		ID         string `json:"id"`
		AccessCode string `json:"accessCode"`
		Status     string `json:"status"`
	}
	status, env, err := c.do(http.MethodPost, "/v1/booking-requests", "", map[string]any{
		"clinicId":          *clinicID,
		"procedure":         "Rhinoplasty (Nose)",
		"preferredDate":     "2025-06-01",
		"preferredTimeSlot": "Morning",
		"guestEmail":        *email,
	}, &created)
	step("create", status, env, err, http.StatusCreated)
	expect(created.Status == "received", "status after create = %q", created.Status)
	expect(accessCodeRe.MatchString(created.AccessCode), "access code %q", created.AccessCode)

	history := func() (string, int) {
		var b struct {
			Status        string            `json:"status"`
			StatusHistory []json.RawMessage `json:"statusHistory"`
		}
		status, env, err := c.do(http.MethodGet, "/v1/booking-requests/"+created.ID+"?accessCode="+created.AccessCode, "", nil, &b)
		step("get", status, env, err, http.StatusOK)
		return b.Status, len(b.StatusHistory)
	}
	s, n := history()
	expect(s == "received" && n == 1, "after create: status=%s history=%d", s, n)

	option := map[string]any{"date": "2025-06-03", "timeSlot": "Morning", "price": 500000}
	status, env, err = c.do(http.MethodPost, "/v1/ops/booking-requests/"+created.ID+"/status", opsToken, map[string]any{
		"status":          "proposedOptions",
		"proposedOptions": []any{option},
	}, nil)
	step("propose", status, env, err, http.StatusOK)
	s, n = history()
	expect(s == "proposedOptions" && n == 2, "after propose: status=%s history=%d", s, n)

	status, env, err = c.do(http.MethodPost, "/v1/ops/booking-requests/"+created.ID+"/status", opsToken, map[string]any{
		"status":          "confirmed",
		"confirmedOption": option,
	}, nil)
	step("confirm", status, env, err, http.StatusOK)

	var can struct {
		CanReview bool `json:"canReview"`
	}
	status, env, err = c.do(http.MethodGet, "/v1/booking-requests/"+created.ID+"/can-review?accessCode="+created.AccessCode, "", nil, &can)
	step("can-review", status, env, err, http.StatusOK)
	expect(can.CanReview, "canReview after confirm = false")

	review := map[string]any{
		"bookingId":  created.ID,
		"accessCode": created.AccessCode,
		"rating":     5,
		"title":      "Great",
		"content":    "Loved it",
	}
	status, env, err = c.do(http.MethodPost, "/v1/reviews", "", review, nil)
	step("review", status, env, err, http.StatusCreated)

	status, env, err = c.do(http.MethodPost, "/v1/reviews", "", review, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "second review: %v\n", err)
		os.Exit(1)
	}
	expect(status == http.StatusForbidden && env.Code == "NOT_ELIGIBLE", "second review: status=%d code=%s", status, env.Code)

	fmt.Println("devflow complete.")
	fmt.Printf("booking_id=%s access_code=%s\n", created.ID, created.AccessCode)
	fmt.Printf("events: GET %s/v1/ops/booking-requests/%s/events (Bearer ops token)\n", c.base, created.ID)
}

func step(name string, status int, env envelope, err error, want int) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		fmt.Fprintln(os.Stderr, "tip: is the API running, and is HTTP_ADDR set correctly?")
		os.Exit(1)
	}
	if status != want || !env.Success {
		fmt.Fprintf(os.Stderr, "%s: status=%d code=%s error=%s\n", name, status, env.Code, env.Error)
		os.Exit(1)
	}
	fmt.Printf("ok   %s\n", name)
}

func expect(ok bool, format string, args ...any) {
	if !ok {
		fmt.Fprintf(os.Stderr, "FAIL "+format+"\n", args...)
		os.Exit(1)
	}
}

func defaultBaseURL(httpAddr string) string {
	addr := strings.TrimSpace(httpAddr)
	switch {
	case addr == "":
		return "http://localhost:4000"
	case strings.HasPrefix(addr, ":"):
		return "http://localhost" + addr
	case strings.HasPrefix(addr, "0.0.0.0:"):
		return "http://localhost" + strings.TrimPrefix(addr, "0.0.0.0")
	default:
		return "http://" + addr
	}
}
