// Package keyrate fetches the central bank's key rate over its SOAP service.
// The rate is informational; loan pricing never depends on it.
package keyrate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/sirupsen/logrus"
)

const lookback = 30 * 24 * time.Hour

// Rate is one published key rate.
type Rate struct {
	Pct  float64   `json:"pct"`
	Date time.Time `json:"date"`
}

// Client calls the DailyInfo web service.
type Client struct {
	url    string
	client *http.Client
	log    *logrus.Logger
	now    func() time.Time
}

// NewClient initializes a client for the service at url.
func NewClient(url string, timeout time.Duration, log *logrus.Logger) *Client {
	return &Client{
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log,
		now:    time.Now,
	}
}

func (c *Client) buildSOAPRequest() string {
	to := c.now()
	from := to.Add(-lookback)
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">
	<soap12:Body>
		<KeyRate xmlns="http://web.cbr.ru/">
			<fromDate>%s</fromDate>
			<ToDate>%s</ToDate>
		</KeyRate>
	</soap12:Body>
</soap12:Envelope>`, from.Format("2006-01-02"), to.Format("2006-01-02"))
}

func (c *Client) sendRequest(ctx context.Context, soapRequest string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBufferString(soapRequest))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	req.Header.Set("SOAPAction", "http://web.cbr.ru/KeyRate")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.log.Debugf("Key rate XML response: %s", body)
	return body, nil
}

// parseRates extracts every KR row. The service lists the newest first.
func parseRates(rawBody []byte) ([]Rate, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawBody); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}

	rows := doc.FindElements("//diffgram/KeyRate/KR")
	if len(rows) == 0 {
		return nil, fmt.Errorf("no key rate data found in XML")
	}

	out := make([]Rate, 0, len(rows))
	for _, kr := range rows {
		rateElement := kr.FindElement("./Rate")
		if rateElement == nil {
			return nil, fmt.Errorf("rate element not found in XML")
		}
		pct, err := strconv.ParseFloat(strings.TrimSpace(rateElement.Text()), 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse rate %q: %w", rateElement.Text(), err)
		}
		r := Rate{Pct: pct}
		if dt := kr.FindElement("./DT"); dt != nil {
			if t, err := time.Parse(time.RFC3339, strings.TrimSpace(dt.Text())); err == nil {
				r.Date = t
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// Latest returns the most recent key rate published in the last 30 days.
func (c *Client) Latest(ctx context.Context) (Rate, error) {
	body, err := c.sendRequest(ctx, c.buildSOAPRequest())
	if err != nil {
		return Rate{}, err
	}
	rates, err := parseRates(body)
	if err != nil {
		return Rate{}, err
	}

	latest := rates[0]
	for _, r := range rates[1:] {
		if r.Date.After(latest.Date) {
			latest = r
		}
	}
	c.log.WithFields(logrus.Fields{"key_rate_pct": latest.Pct, "date": latest.Date}).Info("Retrieved key rate")
	return latest, nil
}
