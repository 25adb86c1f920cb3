package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parsePrices(bidStr, askStr string) (bid, ask float64, err error) {
	bid, err = strconv.ParseFloat(bidStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse bid %q: %w", bidStr, err)
	}
	ask, err = strconv.ParseFloat(askStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse ask %q: %w", askStr, err)
	}
	if bid <= 0 || ask <= 0 {
		return 0, 0, fmt.Errorf("non-positive prices bid=%v ask=%v", bid, ask)
	}
	return bid, ask, nil
}

// splitSymbol splits a canonical "BASE/QUOTE" symbol.
func splitSymbol(symbol string) (base, quote string, err error) {
	base, quote, ok := strings.Cut(strings.ToUpper(symbol), "/")
	if !ok || base == "" || quote == "" {
		return "", "", fmt.Errorf("symbol %q is not BASE/QUOTE", symbol)
	}
	return base, quote, nil
}
