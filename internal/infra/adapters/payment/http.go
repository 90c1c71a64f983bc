package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/model"
)

const defaultHTTPTimeout = 15 * time.Second

// maxErrorBody bounds how much of a provider error response ends up in an error string.
const maxErrorBody = 512

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// doJSON sends in as a JSON body (when non-nil) and decodes a 2xx response into out.
// Every failure wraps domain.ErrProviderRequest; context errors stay matchable.
func doJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: encode request: %w", domain.ErrProviderRequest, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", domain.ErrProviderRequest, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", domain.ErrProviderRequest, method, url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", domain.ErrProviderRequest, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		return fmt.Errorf("%w: %s %s: http %d: %s", domain.ErrProviderRequest, method, url, resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %w", domain.ErrProviderRequest, err)
	}
	return nil
}

// toMinor converts an amount to the provider's integer minor units. Amounts with more
// precision than the currency allows are rejected rather than rounded.
func toMinor(amount decimal.Decimal, c model.Currency) (int64, error) {
	shifted := amount.Shift(c.MinorUnits())
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more precision than %s allows", domain.ErrValidation, amount, c)
	}
	return shifted.IntPart(), nil
}

func fromMinor(v int64, c model.Currency) decimal.Decimal {
	return decimal.New(v, -c.MinorUnits())
}
