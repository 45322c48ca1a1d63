package payfast

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
)

const (
	LiveHost    = "www.payfast.co.za"
	SandboxHost = "sandbox.payfast.co.za"
)

// ValidHosts are the hostnames PayFast sends notifications from.
var ValidHosts = []string{
	LiveHost,
	SandboxHost,
	"w1w.payfast.co.za",
	"w2w.payfast.co.za",
}

func Host(sandbox bool) string {
	if sandbox {
		return SandboxHost
	}
	return LiveHost
}

// Resolver is the subset of net.Resolver used for the source-host check.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type ValidatorConfig struct {
	Sandbox bool
	// BaseURL overrides https://<host>; used by tests.
	BaseURL string
	Timeout time.Duration
}

// Validator posts notifications back to PayFast and checks where they came from.
type Validator struct {
	baseURL  string
	client   *http.Client
	resolver Resolver
	breaker  *gobreaker.CircuitBreaker[string]
	logger   *slog.Logger
}

func NewValidator(cfg ValidatorConfig, client *http.Client, resolver Resolver) *Validator {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://" + Host(cfg.Sandbox)
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	logger := slog.Default().With("module", "payfast", "layer", "adapter")
	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "payfast-validate",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &Validator{
		baseURL:  base,
		client:   client,
		resolver: resolver,
		breaker:  breaker,
		logger:   logger,
	}
}

// ValidateWithServer asks PayFast to confirm the notification. Anything other
// than a VALID reply is ErrPaymentRejected; transport failures are returned as is.
func (v *Validator) ValidateWithServer(ctx context.Context, n Notification) error {
	reply, err := v.breaker.Execute(func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/eng/query/validate", strings.NewReader(n.Fields.ITNParamString()))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := v.client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if err != nil {
			return "", err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return "", fmt.Errorf("payfast validate returned %d", resp.StatusCode)
		}
		return strings.TrimSpace(string(body)), nil
	})
	if err != nil {
		return fmt.Errorf("validate with payfast: %w", err)
	}
	if reply != "VALID" {
		return fmt.Errorf("%w: server validation replied %q", domain.ErrPaymentRejected, reply)
	}
	return nil
}

// CheckSource reports an error unless remoteIP belongs to one of ValidHosts.
func (v *Validator) CheckSource(ctx context.Context, remoteIP string) error {
	ip := net.ParseIP(strings.TrimSpace(remoteIP))
	if ip == nil {
		return fmt.Errorf("%w: unparseable source address %q", domain.ErrPaymentRejected, remoteIP)
	}
	for _, host := range ValidHosts {
		addrs, err := v.resolver.LookupIPAddr(ctx, host)
		if err != nil {
			v.logger.Warn("payfast host lookup failed", "host", host, "error", err)
			continue
		}
		for _, addr := range addrs {
			if addr.IP.Equal(ip) {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: source %s is not a payfast host", domain.ErrPaymentRejected, remoteIP)
}

// Ready fails while the postback breaker is open.
func (v *Validator) Ready(context.Context) error {
	if state := v.breaker.State(); state == gobreaker.StateOpen {
		return fmt.Errorf("payfast validation circuit %s", state)
	}
	return nil
}
