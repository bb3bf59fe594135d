package recordsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shipdesk/shipnotify/internal/events"
)

// APISourceConfig configures the shipments API source.
type APISourceConfig struct {
	BaseURL       string
	Username      string
	Password      string
	PageSize      int
	SlowFetchWarn time.Duration // non-fatal warning threshold; 0 disables
}

// APISource fetches shipment records from the admin backend's paginated JSON
// API, holding a bearer-token session obtained from its login endpoint.
type APISource struct {
	cfg        APISourceConfig
	httpClient *http.Client
	logger     *slog.Logger
	notifier   events.Notifier

	token       string
	tokenExpiry time.Time
}

// NewAPISource creates a new APISource. A nil httpClient gets a default with
// a bounded timeout; redirects are not followed so that a redirect to the
// login page is visible as a session-expiry signal.
func NewAPISource(cfg APISourceConfig, httpClient *http.Client, logger *slog.Logger, notifier events.Notifier) *APISource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	} else {
		// Shallow copy so the redirect policy does not leak into a client
		// the caller may share.
		clone := *httpClient
		httpClient = &clone
	}
	httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if notifier == nil {
		notifier = events.NopNotifier{}
	}
	return &APISource{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.With("component", "api_source"),
		notifier:   notifier,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

type pageResponse struct {
	Items   []json.RawMessage `json:"items"`
	HasNext bool              `json:"has_next"`
}

// FetchAll walks the paginated feed from page 1 until a page comes back empty
// or reports no further pages. A session expiry on a page triggers exactly one
// re-authentication and retry of that page; a second consecutive expiry on the
// same page aborts the run.
func (s *APISource) FetchAll(ctx context.Context) ([]RawRecord, error) {
	if s.cfg.SlowFetchWarn > 0 {
		start := time.Now()
		timer := time.AfterFunc(s.cfg.SlowFetchWarn, func() {
			s.logger.Warn("Fetch is taking unusually long", "elapsed", time.Since(start).String())
			s.notifier.Notify(context.WithoutCancel(ctx), events.KindFetchSlow, map[string]any{
				"elapsed": time.Since(start).String(),
			})
		})
		defer timer.Stop()
	}

	if err := s.ensureSession(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	var all []RawRecord
	for page := 1; ; page++ {
		items, hasNext, err := s.fetchPage(ctx, page)
		if err == errSessionExpired {
			s.logger.InfoContext(ctx, "Session expired, re-authenticating once", "page", page)
			if loginErr := s.login(ctx); loginErr != nil {
				return nil, fmt.Errorf("%w: re-authentication failed: %v", ErrSourceUnavailable, loginErr)
			}
			items, hasNext, err = s.fetchPage(ctx, page)
			if err == errSessionExpired {
				return nil, fmt.Errorf("%w: session expired twice on page %d", ErrSourceUnavailable, page)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrSourceUnavailable, page, err)
		}

		if len(items) == 0 {
			break
		}
		all = append(all, items...)
		if !hasNext {
			break
		}
	}

	s.logger.InfoContext(ctx, "Fetched all pages", "records", len(all))
	return all, nil
}

// ensureSession logs in when there is no token or the current one is about to
// expire. Token expiry is read from the JWT claims without verifying the
// signature; verification is the server's job, we only need the deadline.
func (s *APISource) ensureSession(ctx context.Context) error {
	if s.token != "" && (s.tokenExpiry.IsZero() || time.Until(s.tokenExpiry) > 30*time.Second) {
		return nil
	}
	return s.login(ctx)
}

func (s *APISource) login(ctx context.Context) error {
	body, err := json.Marshal(loginRequest{Username: s.cfg.Username, Password: s.cfg.Password})
	if err != nil {
		return fmt.Errorf("marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/api/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("login rejected: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	var loginResp loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if loginResp.AccessToken == "" {
		return fmt.Errorf("login response contained no access token")
	}

	s.token = loginResp.AccessToken
	s.tokenExpiry = time.Time{}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(loginResp.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			s.tokenExpiry = exp.Time
		}
	} else {
		// Opaque (non-JWT) tokens are fine; a 401 will drive the re-auth path.
		s.logger.DebugContext(ctx, "Access token is not a parseable JWT, skipping expiry tracking")
	}

	s.logger.InfoContext(ctx, "Authenticated against record source", "token_expiry", s.tokenExpiry)
	return nil
}

func (s *APISource) fetchPage(ctx context.Context, page int) (items []RawRecord, hasNext bool, err error) {
	url := fmt.Sprintf("%s/api/v1/shipments?page=%d&page_size=%d", s.cfg.BaseURL, page, s.cfg.PageSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create page request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("page request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, false, errSessionExpired
	}
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		// The admin backend answers expired sessions on HTML-era endpoints
		// with a redirect to its login page.
		if loc := resp.Header.Get("Location"); strings.Contains(strings.ToLower(loc), "login") {
			return nil, false, errSessionExpired
		}
		return nil, false, fmt.Errorf("unexpected redirect: status %d, location %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("unexpected status %d, body: %s", resp.StatusCode, string(respBody))
	}

	var pageResp pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&pageResp); err != nil {
		return nil, false, fmt.Errorf("decode page response: %w", err)
	}

	items = make([]RawRecord, 0, len(pageResp.Items))
	for i, raw := range pageResp.Items {
		var rec RawRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			// Row-level failures never abort the page.
			s.logger.WarnContext(ctx, "Skipping malformed record", "page", page, "row", i, "error", err)
			continue
		}
		items = append(items, rec)
	}
	return items, pageResp.HasNext, nil
}
