package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ---------------------------------------------------------------------------
// Live Resolver — HTTP profile/reputation provider client
// ---------------------------------------------------------------------------

// ClientConfig configures the live profile resolver.
type ClientConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
}

// DefaultClientConfig returns development defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:      5 * time.Second,
		RateLimitRPS: 5,
	}
}

// LiveResolver resolves wallets against a real profile provider.
type LiveResolver struct {
	config     ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewLiveResolver creates a live profile resolver.
func NewLiveResolver(config ClientConfig) *LiveResolver {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.RateLimitRPS == 0 {
		config.RateLimitRPS = 5
	}
	return &LiveResolver{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimitRPS), int(config.RateLimitRPS)+1),
	}
}

// providerProfile is the provider's wire shape. Only the fields we normalize
// are decoded; everything else the provider sends is ignored.
type providerProfile struct {
	// Username is the account handle. DisplayName is free-form and
	// intentionally not used as the identity field.
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Score       *int   `json:"score"`
}

// Resolve fetches and normalizes the profile for a wallet. A 404 means the
// wallet has no social identity and resolves to an empty profile.
func (r *LiveResolver) Resolve(ctx context.Context, wallet common.Address) (Profile, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Profile{}, err
	}

	endpoint := fmt.Sprintf("%s/v1/profiles/%s", r.config.BaseURL, url.PathEscape(wallet.Hex()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("build profile request: %w", err)
	}
	if r.config.APIKey != "" {
		req.Header.Set("X-API-Key", r.config.APIKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("profile request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		log.Debug().Str("wallet", wallet.Hex()).Msg("reputation: wallet has no profile")
		return Profile{Wallet: wallet}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("profile request: unexpected status %d", resp.StatusCode)
	}

	var raw providerProfile
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Profile{}, fmt.Errorf("decode profile response: %w", err)
	}

	profile := Profile{
		Wallet: wallet,
		Handle: raw.Username,
	}
	if raw.Score != nil {
		profile.Score = *raw.Score
		profile.HasScore = true
	}
	return profile, nil
}
