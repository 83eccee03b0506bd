package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Stream hosts per market family.
const (
	SpotHost        = "stream.binance.com:9443"
	SpotTestnetHost = "testnet.binance.vision"
	USDTFuturesHost = "fstream.binance.com"
	CoinFuturesHost = "dstream.binance.com"
	FuturesTestHost = "stream.binancefuture.com"
)

// StreamClient reads public market streams from one Binance host. All symbols
// of a venue share one combined-stream connection.
type StreamClient struct {
	BaseURL string
	// ReadTimeout drops a connection that delivered nothing, not even a ping, for this long.
	ReadTimeout time.Duration

	dialer *websocket.Dialer
	log    zerolog.Logger
}

// NewStreamClient builds a client for host (see the *Host constants).
func NewStreamClient(host string, log zerolog.Logger) *StreamClient {
	return &StreamClient{
		BaseURL:     (&url.URL{Scheme: "wss", Host: host}).String(),
		ReadTimeout: time.Minute,
		dialer:      &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 10 * time.Second},
		log:         log.With().Str("component", "binance_stream").Logger(),
	}
}

// BookTickerURL is the combined stream URL for symbols. Stream names are lowercase.
func (c *StreamClient) BookTickerURL(symbols []string) string {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@bookTicker"
	}
	return c.BaseURL + "/stream?streams=" + strings.Join(streams, "/")
}

// SubscribeBookTickers opens one connection carrying best bid/ask for every
// symbol. The channel closes when the connection ends; stop ends it early.
func (c *StreamClient) SubscribeBookTickers(ctx context.Context, symbols []string) (<-chan BookTicker, func(), error) {
	if len(symbols) == 0 {
		return nil, nil, errors.New("bookTicker: no symbols")
	}
	conn, _, err := c.dialer.DialContext(ctx, c.BookTickerURL(symbols), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial bookTicker stream: %w", err)
	}

	extend := func() {
		if c.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
		}
	}
	extend()
	conn.SetPingHandler(func(data string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	out := make(chan BookTicker, 100)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		})
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	go func() {
		defer close(out)
		defer close(done)
		defer stop()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && !expectedClose(err) {
					c.log.Warn().Err(err).Int("symbols", len(symbols)).Msg("bookTicker stream ended")
				}
				return
			}
			extend()

			bt, err := parseBookTickerMessage(msg)
			if err != nil {
				c.log.Debug().Err(err).Msg("skipping bookTicker message")
				continue
			}
			select {
			case out <- bt:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, stop, nil
}

func expectedClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed)
}

// parseBookTickerMessage accepts a combined-stream envelope or a bare payload.
func parseBookTickerMessage(msg []byte) (BookTicker, error) {
	var env struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return BookTicker{}, err
	}
	payload := msg
	if len(env.Data) > 0 {
		payload = env.Data
	}

	var raw struct {
		Symbol string `json:"s"`
		Bid    string `json:"b"`
		BidQty string `json:"B"`
		Ask    string `json:"a"`
		AskQty string `json:"A"`
		Time   int64  `json:"T"` // futures only
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return BookTicker{}, err
	}
	if raw.Symbol == "" {
		return BookTicker{}, fmt.Errorf("bookTicker without symbol: %s", msg)
	}
	return BookTicker{
		Symbol:   raw.Symbol,
		BidPrice: toFloat(raw.Bid),
		AskPrice: toFloat(raw.Ask),
		BidQty:   toFloat(raw.BidQty),
		AskQty:   toFloat(raw.AskQty),
		Time:     raw.Time,
	}, nil
}

func toFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
